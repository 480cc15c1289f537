// Package kinematics advances trains along the corridor one tick at a time.
//
// Speed selection is delegated to a Profile so that adding a new speed model
// only requires implementing the interface and registering it in ProfileFor;
// the stepping code never changes.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"github.com/cxd309/tms-dispatch/internal/train"
)

// Profile model names accepted in train.SpeedProfile.Model.
const (
	ZonedModelName = "zoned"
	RampModelName  = "ramp"
)

// DefaultZoneKm is the approach/departure zone used when a profile sets none.
const DefaultZoneKm = 1.0

// ErrUnknownModel is returned for an unregistered speed profile model.
var ErrUnknownModel = errors.New("unknown speed profile model")

// Profile picks the unconstrained target speed (km/h) from the distance
// already covered since the last stop and the distance left to the next one.
// Implementations must be monotonic and never exceed Cruise.
type Profile interface {
	Cruise() float64
	TargetSpeed(sinceStopKm, toStopKm float64) float64
}

// Zoned runs at Slow inside the zone around either stop and Cruise elsewhere.
type Zoned struct {
	CruiseKmph float64
	SlowKmph   float64
	ZoneKm     float64
}

func (z Zoned) Cruise() float64 { return z.CruiseKmph }

func (z Zoned) TargetSpeed(sinceStopKm, toStopKm float64) float64 {
	if sinceStopKm < z.ZoneKm || toStopKm <= z.ZoneKm {
		return z.SlowKmph
	}
	return z.CruiseKmph
}

// Ramp blends linearly from Slow at a stop to Cruise at the zone edge.
type Ramp struct {
	CruiseKmph float64
	SlowKmph   float64
	ZoneKm     float64
}

func (r Ramp) Cruise() float64 { return r.CruiseKmph }

func (r Ramp) TargetSpeed(sinceStopKm, toStopKm float64) float64 {
	if r.ZoneKm <= 0 {
		return r.CruiseKmph
	}
	frac := math.Min(1, math.Min(sinceStopKm, toStopKm)/r.ZoneKm)
	return r.SlowKmph + frac*(r.CruiseKmph-r.SlowKmph)
}

// ProfileFor resolves a train's speed profile, filling defaults from the
// nominal speed.
func ProfileFor(c train.Config) (Profile, error) {
	p := c.SpeedProfile
	cruise := p.Cruise
	if cruise <= 0 {
		cruise = c.SpeedKmph
	}
	if cruise <= 0 {
		return nil, fmt.Errorf("train %q: cruise speed must be positive", c.TrainID)
	}
	slow := p.Slow
	if slow <= 0 {
		slow = cruise / 2
	}
	slow = math.Min(slow, cruise)
	zone := p.ZoneKm
	if zone <= 0 {
		zone = DefaultZoneKm
	}

	switch p.Model {
	case "", ZonedModelName:
		return Zoned{CruiseKmph: cruise, SlowKmph: slow, ZoneKm: zone}, nil
	case RampModelName:
		return Ramp{CruiseKmph: cruise, SlowKmph: slow, ZoneKm: zone}, nil
	default:
		return nil, fmt.Errorf("train %q: %w %q", c.TrainID, ErrUnknownModel, p.Model)
	}
}
