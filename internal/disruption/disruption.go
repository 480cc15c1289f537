// Package disruption indexes time- and location-bounded speed restrictions
// along the corridor.
package disruption

import (
	"math"

	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Type categorizes the cause of a disruption.
type Type string

const (
	TypeMaintenance   Type = "MAINTENANCE"
	TypeSignalFailure Type = "SIGNAL_FAILURE"
	TypeWeather       Type = "WEATHER"
	TypeBlockage      Type = "BLOCKAGE"
	TypePowerOutage   Type = "POWER_OUTAGE"
	TypeOther         Type = "OTHER"
)

// Disruption restricts speed between two stations for a period of sim time.
type Disruption struct {
	ID           string               `json:"id" yaml:"id"`
	Type         Type                 `json:"type" yaml:"type"`
	StartStation topology.StationCode `json:"start_station" yaml:"start_station"`
	EndStation   topology.StationCode `json:"end_station" yaml:"end_station"`
	StartAtMin   float64              `json:"start_at_min" yaml:"start_at_min"`
	DurationMin  float64              `json:"duration_min" yaml:"duration_min"`

	// SpeedReduction is the multiplier applied to nominal speed per train
	// type. A missing type is unaffected; 0 blocks the section entirely.
	SpeedReduction map[train.Type]float64 `json:"speed_reduction" yaml:"speed_reduction"`
}

// EndAtMin is the end of the temporal window.
func (d Disruption) EndAtMin() float64 { return d.StartAtMin + d.DurationMin }

// IsActive reports whether simTimeMin lies inside the closed window
// [StartAtMin, StartAtMin+DurationMin].
func (d Disruption) IsActive(simTimeMin float64) bool {
	return simTimeMin >= d.StartAtMin && simTimeMin <= d.EndAtMin()
}

// HasEnded reports whether the window closed before simTimeMin.
func (d Disruption) HasEnded(simTimeMin float64) bool {
	return simTimeMin > d.EndAtMin()
}

// Factor returns the multiplier for trainType, clamped into [0,1].
func (d Disruption) Factor(t train.Type) float64 {
	f, ok := d.SpeedReduction[t]
	if !ok || math.IsNaN(f) {
		return 1
	}
	return math.Max(0, math.Min(1, f))
}

// Severity is the strongest reduction the disruption imposes on any type,
// in [0,1] where 1 is a full block.
func (d Disruption) Severity() float64 {
	worst := 1.0
	for _, t := range train.Types {
		worst = math.Min(worst, d.Factor(t))
	}
	return 1 - worst
}

// Clone returns a copy that does not share the SpeedReduction map.
func (d Disruption) Clone() Disruption {
	c := d
	if d.SpeedReduction != nil {
		c.SpeedReduction = make(map[train.Type]float64, len(d.SpeedReduction))
		for k, v := range d.SpeedReduction {
			c.SpeedReduction[k] = v
		}
	}
	return c
}
