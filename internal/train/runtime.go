package train

import (
	"gonum.org/v1/gonum/stat"
)

// Status is the coarse motion state of a train.
type Status string

const (
	StatusRunning   Status = "running"
	StatusHalted    Status = "halted"
	StatusCompleted Status = "completed"
)

// HaltReason explains why a halted train is not moving.
type HaltReason string

const (
	HaltNone       HaltReason = ""
	HaltScheduled  HaltReason = "scheduled"  // waiting for its timetabled first departure
	HaltDwell      HaltReason = "dwell"      // station dwell
	HaltHold       HaltReason = "hold"       // dispatcher hold
	HaltPrecedence HaltReason = "precedence" // giving way to another train
	HaltBlocked    HaltReason = "blocked"    // disruption multiplier is zero
)

// Sample is one entry of a train's position history.
type Sample struct {
	TimeMin    float64 `json:"time_min"`
	DistanceKm float64 `json:"distance_km"`
}

// Runtime is the mutable simulation state of a single train.
type Runtime struct {
	TrainID           ID                 `json:"train_id"`
	Type              Type               `json:"train_type"`
	DistanceKm        float64            `json:"distance_km"`
	SpeedKmph         float64            `json:"current_speed_kmph"`
	Status            Status             `json:"status"`
	HaltReason        HaltReason         `json:"halt_reason,omitempty"`
	DelayMin          float64            `json:"delay_min"`
	SegmentIndex      int                `json:"segment_index"`
	RemainingDwellMin float64            `json:"remaining_dwell_min"`
	ActualTimes       map[string]float64 `json:"actual_times"`
	History           []Sample           `json:"history"`
	SpeedSamples      []float64          `json:"speed_samples"`
}

// NewRuntime places a train at its origin, waiting for its first departure.
func NewRuntime(r Route) *Runtime {
	return &Runtime{
		TrainID:      r.TrainID,
		Type:         r.Type,
		DistanceKm:   r.Distances[0],
		Status:       StatusHalted,
		HaltReason:   HaltScheduled,
		ActualTimes:  make(map[string]float64, len(r.Stops)),
		History:      []Sample{{TimeMin: 0, DistanceKm: r.Distances[0]}},
		SpeedSamples: []float64{},
	}
}

// Departed reports whether the train has left its origin. The origin is
// always the first checkpoint stamped.
func (rt *Runtime) Departed() bool { return len(rt.ActualTimes) > 0 }

// Clone returns a deep copy that shares no mutable memory with rt.
func (rt *Runtime) Clone() *Runtime {
	c := *rt
	c.ActualTimes = make(map[string]float64, len(rt.ActualTimes))
	for k, v := range rt.ActualTimes {
		c.ActualTimes[k] = v
	}
	c.History = append([]Sample(nil), rt.History...)
	c.SpeedSamples = append([]float64(nil), rt.SpeedSamples...)
	return &c
}

// View returns a read-only copy for publication. The append-only slices are
// shared up to their current length and capped, so later appends by the
// owner never become visible through the view.
func (rt *Runtime) View() Runtime {
	v := *rt
	v.ActualTimes = make(map[string]float64, len(rt.ActualTimes))
	for k, t := range rt.ActualTimes {
		v.ActualTimes[k] = t
	}
	v.History = rt.History[:len(rt.History):len(rt.History)]
	v.SpeedSamples = rt.SpeedSamples[:len(rt.SpeedSamples):len(rt.SpeedSamples)]
	return v
}

// Waiting reports whether history sample i was spent standing still, i.e.
// it shares its position with the previous sample.
func (rt *Runtime) Waiting(i int) bool {
	return i > 0 && i < len(rt.History) && rt.History[i].DistanceKm == rt.History[i-1].DistanceKm
}

// AverageSpeed is the mean of all speed samples, halted ones included.
func (rt *Runtime) AverageSpeed() (float64, bool) {
	if len(rt.SpeedSamples) == 0 {
		return 0, false
	}
	return stat.Mean(rt.SpeedSamples, nil), true
}

// ActiveAverageSpeed is the mean speed over samples where the train moved.
func (rt *Runtime) ActiveAverageSpeed() (float64, bool) {
	active := make([]float64, 0, len(rt.SpeedSamples))
	for _, v := range rt.SpeedSamples {
		if v > 0 {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return 0, false
	}
	return stat.Mean(active, nil), true
}
