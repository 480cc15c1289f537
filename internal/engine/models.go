package engine

import (
	"github.com/cxd309/tms-dispatch/internal/dispatch"
	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/kpi"
	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Status is the lifecycle state of the clock loop.
type Status string

const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
)

// Snapshot is the immutable view of the simulation published after every
// tick. It shares no mutable memory with the engine; consumers must still
// treat it as read-only because slices inside it may be shared with other
// snapshots.
type Snapshot struct {
	SimTimeMin              float64                    `json:"sim_time_min"`
	Running                 bool                       `json:"running"`
	Status                  Status                     `json:"status"`
	Tick                    uint64                     `json:"tick"`
	SpeedMultiplier         float64                    `json:"speed_multiplier"`
	Trains                  map[train.ID]train.Runtime `json:"trains"`
	TrainOrder              []train.ID                 `json:"train_order"`
	Disruptions             []disruption.Disruption    `json:"disruptions"`
	PrioritizationDecisions []dispatch.Decision        `json:"prioritization_decisions"`
	Recommendations         []dispatch.Decision        `json:"recommendations"`
	KPI                     kpi.Summary                `json:"kpi"`
}

// SimulationMeta holds the identity and timing parameters of a batch run.
type SimulationMeta struct {
	SimulationID string  `json:"simulation_id" yaml:"simulation_id"`
	RunTimeMin   float64 `json:"run_time_min" yaml:"run_time_min"`
	TimeStepMin  float64 `json:"time_step_min" yaml:"time_step_min"`

	// AutoApply applies the best recommendation whenever one is offered.
	AutoApply bool `json:"auto_apply,omitempty" yaml:"auto_apply,omitempty"`
}

// ScheduledDisruption is a disruption that becomes known to the engine at
// AtMin. Zero means from the start of the run.
type ScheduledDisruption struct {
	AtMin                 float64 `json:"at_min,omitempty" yaml:"at_min,omitempty"`
	disruption.Disruption `yaml:",inline"`
}

// ScheduledDecision is a dispatcher decision applied at AtMin and, if
// OverrideAtMin is set, overridden later.
type ScheduledDecision struct {
	AtMin             float64  `json:"at_min" yaml:"at_min"`
	OverrideAtMin     *float64 `json:"override_at_min,omitempty" yaml:"override_at_min,omitempty"`
	dispatch.Decision `yaml:",inline"`
}

// SimulationInput is the serialisable input of a batch run.
type SimulationInput struct {
	Meta        SimulationMeta        `json:"simulation_meta" yaml:"simulation_meta"`
	Stations    []topology.Station    `json:"stations" yaml:"stations"`
	Trains      []train.Config        `json:"trains" yaml:"trains"`
	Disruptions []ScheduledDisruption `json:"disruptions,omitempty" yaml:"disruptions,omitempty"`
	Decisions   []ScheduledDecision   `json:"decisions,omitempty" yaml:"decisions,omitempty"`
	Dispatch    *dispatch.Config      `json:"dispatch,omitempty" yaml:"dispatch,omitempty"`
	KPI         *kpi.Config           `json:"kpi,omitempty" yaml:"kpi,omitempty"`
}

// TrainLog is the state of one train in a log row.
type TrainLog struct {
	TrainID      train.ID         `json:"train_id"`
	DistanceKm   float64          `json:"distance_km"`
	SpeedKmph    float64          `json:"speed_kmph"`
	Status       train.Status     `json:"status"`
	HaltReason   train.HaltReason `json:"halt_reason,omitempty"`
	DelayMin     float64          `json:"delay_min"`
	SegmentIndex int              `json:"segment_index"`
}

// SimulationLogRow is the state of every train at one sim time.
type SimulationLogRow struct {
	Timestamp float64    `json:"timestamp"` // sim minutes
	TrainLogs []TrainLog `json:"train_logs"`
}

// SimulationLog is the complete output of a batch run.
type SimulationLog struct {
	Meta      SimulationMeta      `json:"simulation_meta"`
	Output    []SimulationLogRow  `json:"output"`
	Decisions []dispatch.Decision `json:"prioritization_decisions"`
	KPI       kpi.Summary         `json:"kpi"`
	Warnings  []string            `json:"warnings,omitempty"`
}
