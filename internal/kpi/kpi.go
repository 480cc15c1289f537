// Package kpi derives fleet performance indicators from simulation state.
//
// Compute is a pure function of one point-in-time view. The few indicators
// that need memory across ticks (pre-disruption baselines, affected trains,
// recovery) are collected by a Tracker that is fed once per tick.
package kpi

import (
	"encoding/json"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Value is a KPI that may be not applicable, e.g. a ratio whose denominator
// is zero. An invalid Value marshals to JSON null.
type Value struct {
	V     float64
	Valid bool
}

// Some returns a valid Value.
func Some(v float64) Value { return Value{V: v, Valid: true} }

// NA is the not-applicable Value.
var NA = Value{}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = NA
		return nil
	}
	if err := json.Unmarshal(b, &v.V); err != nil {
		return err
	}
	v.Valid = true
	return nil
}

// Config holds the KPI thresholds.
type Config struct {
	// OnTimeThresholdMin is the largest checkpoint delay still counted as on
	// time.
	// Default: 5
	OnTimeThresholdMin float64 `json:"on_time_threshold_min" yaml:"on_time_threshold_min"`

	// RecoveryToleranceMin is how close to its pre-disruption baseline the
	// fleet average delay must come for the fleet to count as recovered.
	// Default: 1
	RecoveryToleranceMin float64 `json:"recovery_tolerance_min" yaml:"recovery_tolerance_min"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{OnTimeThresholdMin: 5, RecoveryToleranceMin: 1}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.OnTimeThresholdMin <= 0 {
		c.OnTimeThresholdMin = d.OnTimeThresholdMin
	}
	if c.RecoveryToleranceMin <= 0 {
		c.RecoveryToleranceMin = d.RecoveryToleranceMin
	}
	return c
}

// View is the state KPIs are computed from.
type View struct {
	Now    float64
	Routes []train.Route
	Trains map[train.ID]train.Runtime
	Index  *disruption.Index
}

// Recovery describes how the fleet recovered from one disruption.
type Recovery struct {
	DisruptionID     string  `json:"disruption_id"`
	BaselineDelayMin float64 `json:"baseline_delay_min"`
	EndedAtMin       float64 `json:"ended_at_min"`
	RecoveredAtMin   Value   `json:"recovered_at_min"`
	RecoveryMin      Value   `json:"recovery_min"`
}

// Summary is the KPI set published with every snapshot.
type Summary struct {
	OnTimePerformancePct Value                `json:"on_time_performance_pct"`
	Arrivals             int                  `json:"arrivals"`
	OnTimeArrivals       int                  `json:"on_time_arrivals"`
	AvgDelayByType       map[train.Type]Value `json:"avg_delay_by_type"`
	DelayRatio           Value                `json:"delay_ratio"`
	FleetAvgDelayMin     Value                `json:"fleet_avg_delay_min"`
	AvgActiveSpeedKmph   Value                `json:"avg_active_speed_kmph"`
	TrainsAffected       int                  `json:"trains_affected"`
	AffectedTrainIDs     []train.ID           `json:"affected_train_ids"`
	Completed            int                  `json:"completed"`
	Recovery             []Recovery           `json:"recovery"`
}

// Compute derives the summary for v. tracker may be nil, in which case the
// history-dependent indicators are left empty.
func Compute(cfg Config, v View, tracker *Tracker) Summary {
	cfg = cfg.withDefaults()
	s := Summary{AvgDelayByType: make(map[train.Type]Value, len(train.Types))}

	for _, r := range v.Routes {
		rt, ok := v.Trains[r.TrainID]
		if !ok {
			continue
		}
		for _, stop := range r.Stops {
			actual, ok := rt.ActualTimes[stop.StationCode]
			if !ok {
				continue
			}
			s.Arrivals++
			if actual-stop.ScheduledMin <= cfg.OnTimeThresholdMin {
				s.OnTimeArrivals++
			}
		}
		if rt.Status == train.StatusCompleted {
			s.Completed++
		}
	}
	if s.Arrivals > 0 {
		s.OnTimePerformancePct = Some(float64(s.OnTimeArrivals) / float64(s.Arrivals) * 100)
	}

	for _, t := range train.Types {
		s.AvgDelayByType[t] = mean(delays(v, func(rt train.Runtime) bool { return rt.Type == t }))
	}
	p, f := s.AvgDelayByType[train.Passenger], s.AvgDelayByType[train.Freight]
	if p.Valid && f.Valid && f.V != 0 {
		s.DelayRatio = Some(p.V / f.V)
	}
	s.FleetAvgDelayMin = FleetAverageDelay(v)

	var active []float64
	for _, r := range v.Routes {
		if rt, ok := v.Trains[r.TrainID]; ok {
			if avg, ok := rt.ActiveAverageSpeed(); ok {
				active = append(active, avg)
			}
		}
	}
	s.AvgActiveSpeedKmph = mean(active)

	if tracker != nil {
		s.AffectedTrainIDs = tracker.Affected()
		s.TrainsAffected = len(s.AffectedTrainIDs)
		s.Recovery = tracker.Recoveries()
	}
	return s
}

// FleetAverageDelay is the mean current delay over every train.
func FleetAverageDelay(v View) Value {
	return mean(delays(v, func(train.Runtime) bool { return true }))
}

func delays(v View, keep func(train.Runtime) bool) []float64 {
	var out []float64
	for _, r := range v.Routes {
		rt, ok := v.Trains[r.TrainID]
		if ok && keep(rt) {
			out = append(out, rt.DelayMin)
		}
	}
	return out
}

func mean(xs []float64) Value {
	if len(xs) == 0 {
		return NA
	}
	return Some(stat.Mean(xs, nil))
}

func sortedIDs(set map[train.ID]struct{}) []train.ID {
	out := make([]train.ID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
