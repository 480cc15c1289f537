// Package train defines the static train configuration and the mutable
// per-train runtime state advanced by the simulation.
package train

import (
	"errors"
	"fmt"

	"github.com/cxd309/tms-dispatch/internal/topology"
)

// ID is a unique string identifier for a train.
type ID = string

// Type is the priority class of a train.
type Type string

const (
	Passenger Type = "Passenger"
	Freight   Type = "Freight"
)

// Types lists every train type in priority order (highest first).
var Types = []Type{Passenger, Freight}

// Valid reports whether t is a known train type.
func (t Type) Valid() bool { return t == Passenger || t == Freight }

// Configuration errors.
var (
	ErrDuplicateTrain  = errors.New("duplicate train")
	ErrUnknownStation  = errors.New("stop references unknown station")
	ErrTooFewStops     = errors.New("train needs at least two stops")
	ErrUnorderedStops  = errors.New("stops are not ordered along the corridor")
	ErrInvalidType     = errors.New("invalid train type")
	ErrInvalidSpeed    = errors.New("invalid speed")
	ErrInvalidSchedule = errors.New("scheduled times decrease")
)

// Stop is a scheduled checkpoint on a train's route.
type Stop struct {
	StationCode  topology.StationCode `json:"station_code" yaml:"station_code"`
	ScheduledMin float64              `json:"scheduled_min" yaml:"scheduled_min"` // scheduled arrival, sim minutes
}

// SpeedProfile selects and parameterizes the kinematic speed model.
// Cruise and Slow default to SpeedKmph and half of it respectively.
type SpeedProfile struct {
	Model  string  `json:"model,omitempty" yaml:"model,omitempty"` // "zoned" (default) or "ramp"
	Cruise float64 `json:"cruise,omitempty" yaml:"cruise,omitempty"`
	Slow   float64 `json:"slow,omitempty" yaml:"slow,omitempty"`
	ZoneKm float64 `json:"zone_km,omitempty" yaml:"zone_km,omitempty"` // approach/departure zone around stops
}

// Config is the immutable definition of a train.
type Config struct {
	TrainID      ID           `json:"train_id" yaml:"train_id"`
	Type         Type         `json:"train_type" yaml:"train_type"`
	SpeedKmph    float64      `json:"speed_kmph" yaml:"speed_kmph"`
	SpeedProfile SpeedProfile `json:"speed_profile" yaml:"speed_profile"`
	Stops        []Stop       `json:"stops" yaml:"stops"`
}

// Codes returns the station codes of c's stops in travel order.
func (c Config) Codes() []topology.StationCode {
	codes := make([]topology.StationCode, len(c.Stops))
	for i, s := range c.Stops {
		codes[i] = s.StationCode
	}
	return codes
}

// Last returns the terminal stop.
func (c Config) Last() Stop { return c.Stops[len(c.Stops)-1] }

// Validate checks c against the corridor.
func (c Config) Validate(cor *topology.Corridor) error {
	if !c.Type.Valid() {
		return fmt.Errorf("train %q: %w %q", c.TrainID, ErrInvalidType, c.Type)
	}
	if c.SpeedKmph <= 0 && c.SpeedProfile.Cruise <= 0 {
		return fmt.Errorf("train %q: %w: nominal speed must be positive", c.TrainID, ErrInvalidSpeed)
	}
	if len(c.Stops) < 2 {
		return fmt.Errorf("train %q: %w, got %d", c.TrainID, ErrTooFewStops, len(c.Stops))
	}
	dists := make([]float64, len(c.Stops))
	for i, s := range c.Stops {
		d, ok := cor.DistanceOf(s.StationCode)
		if !ok {
			return fmt.Errorf("train %q stop %d: %w %q", c.TrainID, i, ErrUnknownStation, s.StationCode)
		}
		dists[i] = d
		if i > 0 && s.ScheduledMin < c.Stops[i-1].ScheduledMin {
			return fmt.Errorf("train %q stop %q: %w", c.TrainID, s.StationCode, ErrInvalidSchedule)
		}
	}
	dir := 1.0
	if dists[0] > dists[len(dists)-1] {
		dir = -1
	}
	for i := 1; i < len(dists); i++ {
		if (dists[i]-dists[i-1])*dir <= 0 {
			return fmt.Errorf("train %q between %q and %q: %w",
				c.TrainID, c.Stops[i-1].StationCode, c.Stops[i].StationCode, ErrUnorderedStops)
		}
	}
	return nil
}

// ValidateAll validates every config and rejects duplicate train IDs.
func ValidateAll(cor *topology.Corridor, cfgs []Config) error {
	seen := make(map[ID]bool, len(cfgs))
	for _, c := range cfgs {
		if seen[c.TrainID] {
			return fmt.Errorf("%w: %q", ErrDuplicateTrain, c.TrainID)
		}
		seen[c.TrainID] = true
		if err := c.Validate(cor); err != nil {
			return err
		}
	}
	return nil
}

// Route is a Config resolved against the corridor: stop distances and the
// travel direction are looked up once at setup.
type Route struct {
	Config
	Direction topology.Direction
	Distances []float64 // distance of each stop, parallel to Stops
	Halts     []float64 // dwell at each stop, parallel to Stops
}

// Resolve validates c and resolves its stops on the corridor.
func Resolve(cor *topology.Corridor, c Config) (Route, error) {
	if err := c.Validate(cor); err != nil {
		return Route{}, err
	}
	dir, err := cor.DirectionOf(c.Codes())
	if err != nil {
		return Route{}, fmt.Errorf("train %q: %w", c.TrainID, err)
	}
	r := Route{
		Config:    c,
		Direction: dir,
		Distances: make([]float64, len(c.Stops)),
		Halts:     make([]float64, len(c.Stops)),
	}
	for i, s := range c.Stops {
		st, _ := cor.Station(s.StationCode)
		r.Distances[i] = st.DistanceKm
		r.Halts[i] = st.HaltMinutes
	}
	return r, nil
}

// ScheduledDeparture is the scheduled time the train leaves stop i: the
// scheduled arrival plus the station dwell, except at the origin.
func (r Route) ScheduledDeparture(i int) float64 {
	if i == 0 {
		return r.Stops[0].ScheduledMin
	}
	return r.Stops[i].ScheduledMin + r.Halts[i]
}

// ScheduledAt interpolates the schedule at a position inside leg seg,
// between the scheduled departure of stop seg and the scheduled arrival of
// stop seg+1.
func (r Route) ScheduledAt(seg int, distanceKm float64) float64 {
	from, to := r.Distances[seg], r.Distances[seg+1]
	dep, arr := r.ScheduledDeparture(seg), r.Stops[seg+1].ScheduledMin
	if arr < dep {
		arr = dep
	}
	frac := (distanceKm - from) / (to - from)
	if frac < 0 {
		frac = 0
	} else if frac > 1 {
		frac = 1
	}
	return dep + frac*(arr-dep)
}

// Terminal is the distance of the last stop.
func (r Route) Terminal() float64 { return r.Distances[len(r.Distances)-1] }
