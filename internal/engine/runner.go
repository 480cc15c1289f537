package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// maxSteps bounds the log size of a batch run.
const maxSteps = 1_000_000

const timeEpsilon = 1e-9

func (m SimulationMeta) validate() error {
	if !(m.TimeStepMin > 0) || math.IsInf(m.TimeStepMin, 0) {
		return fmt.Errorf("%w: time_step_min must be positive, got %v", ErrInvalidMeta, m.TimeStepMin)
	}
	if m.RunTimeMin < 0 || math.IsNaN(m.RunTimeMin) {
		return fmt.Errorf("%w: run_time_min must not be negative, got %v", ErrInvalidMeta, m.RunTimeMin)
	}
	if m.RunTimeMin/m.TimeStepMin > maxSteps {
		return fmt.Errorf("%w: more than %d steps", ErrInvalidMeta, maxSteps)
	}
	return nil
}

// runner feeds a batch run's scheduled inputs into an engine as sim time
// reaches them.
type runner struct {
	e           *Engine
	meta        SimulationMeta
	disruptions []ScheduledDisruption
	decisions   []ScheduledDecision
	overrides   []scheduledOverride
	warnings    []string
}

type scheduledOverride struct {
	atMin float64
	id    string
}

// Run executes a batch simulation of input in fixed time steps and returns
// one log row per step, starting at sim time 0.
func Run(input SimulationInput, cfg Config) (SimulationLog, error) {
	meta := input.Meta
	if err := meta.validate(); err != nil {
		return SimulationLog{}, &SetupError{Op: "meta", Err: err}
	}
	if meta.SimulationID == "" {
		meta.SimulationID = uuid.NewString()
	}
	if input.Dispatch != nil {
		cfg.Dispatch = *input.Dispatch
	}
	if input.KPI != nil {
		cfg.KPI = *input.KPI
	}
	cfg.Logger = cfg.Logger.With().Str("simulation_id", meta.SimulationID).Logger()

	e, err := New(cfg, input.Stations, input.Trains)
	if err != nil {
		return SimulationLog{}, err
	}

	r := &runner{
		e:           e,
		meta:        meta,
		disruptions: append([]ScheduledDisruption(nil), input.Disruptions...),
		decisions:   append([]ScheduledDecision(nil), input.Decisions...),
	}
	sort.SliceStable(r.disruptions, func(i, j int) bool { return r.disruptions[i].AtMin < r.disruptions[j].AtMin })
	sort.SliceStable(r.decisions, func(i, j int) bool { return r.decisions[i].AtMin < r.decisions[j].AtMin })

	steps := int(math.Floor(meta.RunTimeMin/meta.TimeStepMin + timeEpsilon))
	out := SimulationLog{Meta: meta, Output: make([]SimulationLogRow, 0, steps+1)}
	for i := 0; ; i++ {
		snap := r.applyDue()
		out.Output = append(out.Output, logRow(snap))
		if i == steps {
			out.Decisions = snap.PrioritizationDecisions
			out.KPI = snap.KPI
			break
		}
		e.Tick(meta.TimeStepMin)
	}
	out.Warnings = r.warnings
	e.log.Info().
		Int("steps", steps).
		Int("decisions", len(out.Decisions)).
		Int("warnings", len(out.Warnings)).
		Msg("batch run finished")
	return out, nil
}

// applyDue feeds every input scheduled at or before the current sim time:
// disruptions first, then decisions, then overrides. It returns the state
// afterwards.
func (r *runner) applyDue() Snapshot {
	now := r.e.State().SimTimeMin

	for len(r.disruptions) > 0 && r.disruptions[0].AtMin <= now+timeEpsilon {
		sd := r.disruptions[0]
		r.disruptions = r.disruptions[1:]
		if _, err := r.e.AddDisruption(sd.Disruption); err != nil {
			r.warn(now, "disruption %q: %v", sd.ID, err)
		}
	}

	for len(r.decisions) > 0 && r.decisions[0].AtMin <= now+timeEpsilon {
		sd := r.decisions[0]
		r.decisions = r.decisions[1:]
		applied, err := r.e.ApplyPrioritizationDecision(sd.Decision)
		if err != nil {
			r.warn(now, "decision %q for train %q: %v", sd.ID, sd.TrainID, err)
			continue
		}
		if sd.OverrideAtMin != nil {
			r.overrides = append(r.overrides, scheduledOverride{atMin: *sd.OverrideAtMin, id: applied.ID})
			sort.SliceStable(r.overrides, func(i, j int) bool { return r.overrides[i].atMin < r.overrides[j].atMin })
		}
	}

	for len(r.overrides) > 0 && r.overrides[0].atMin <= now+timeEpsilon {
		o := r.overrides[0]
		r.overrides = r.overrides[1:]
		if err := r.e.OverridePrioritizationDecision(o.id); err != nil {
			r.warn(now, "override %q: %v", o.id, err)
		}
	}

	snap := r.e.State()
	if r.meta.AutoApply && len(snap.Recommendations) > 0 {
		best := snap.Recommendations[0]
		if _, err := r.e.ApplyPrioritizationDecision(best); err != nil {
			r.warn(now, "recommendation %q: %v", best.ID, err)
		}
		snap = r.e.State()
	}
	return snap
}

func (r *runner) warn(now float64, format string, args ...any) {
	msg := fmt.Sprintf("t=%.2f: ", now) + fmt.Sprintf(format, args...)
	r.warnings = append(r.warnings, msg)
	r.e.log.Warn().Float64("sim_time_min", now).Msg(msg)
}

func logRow(s Snapshot) SimulationLogRow {
	row := SimulationLogRow{Timestamp: s.SimTimeMin, TrainLogs: make([]TrainLog, 0, len(s.TrainOrder))}
	for _, id := range s.TrainOrder {
		rt := s.Trains[id]
		row.TrainLogs = append(row.TrainLogs, TrainLog{
			TrainID:      id,
			DistanceKm:   rt.DistanceKm,
			SpeedKmph:    rt.SpeedKmph,
			Status:       rt.Status,
			HaltReason:   rt.HaltReason,
			DelayMin:     rt.DelayMin,
			SegmentIndex: rt.SegmentIndex,
		})
	}
	return row
}

// RunJSON is the entry point shared by the CLI and WASM targets. It accepts
// a JSON-encoded SimulationInput, runs it with the default configuration and
// returns the JSON-encoded SimulationLog.
func RunJSON(jsonInput string) (string, error) {
	var input SimulationInput
	if err := json.Unmarshal([]byte(jsonInput), &input); err != nil {
		return "", fmt.Errorf("invalid input JSON: %w", err)
	}

	simLog, err := Run(input, DefaultConfig())
	if err != nil {
		return "", err
	}

	out, err := json.Marshal(simLog)
	if err != nil {
		return "", fmt.Errorf("marshaling output: %w", err)
	}
	return string(out), nil
}
