// Package dispatch records dispatcher decisions, turns the applied ones into
// kinematic constraints and recommends new decisions with a predicted impact.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/cxd309/tms-dispatch/internal/train"
)

// Decision errors.
var (
	ErrUnknownTrain       = errors.New("decision targets unknown train")
	ErrUnknownDecision    = errors.New("unknown decision")
	ErrDecisionOverridden = errors.New("decision was overridden and cannot be re-applied")
	ErrInvalidDecision    = errors.New("invalid decision")
)

// Action is the kind of intervention a decision makes.
type Action string

const (
	ActionHold       Action = "hold_train"
	ActionRegulate   Action = "regulate_speed"
	ActionPrecedence Action = "give_precedence"
)

// Decision is a dispatcher intervention. Once Overridden it never becomes
// Applied again.
type Decision struct {
	ID             string     `json:"id" yaml:"id"`
	TrainID        train.ID   `json:"train_id" yaml:"train_id"`
	AffectedTrains []train.ID `json:"affected_trains,omitempty" yaml:"affected_trains,omitempty"`
	Action         Action     `json:"action" yaml:"action"`
	DurationMin    float64    `json:"duration_min,omitempty" yaml:"duration_min,omitempty"`
	SpeedKmph      float64    `json:"speed_kmph,omitempty" yaml:"speed_kmph,omitempty"`
	StationCode    string     `json:"station_code,omitempty" yaml:"station_code,omitempty"`
	Reason         string     `json:"reason,omitempty" yaml:"reason,omitempty"`

	AppliedAt              float64 `json:"applied_at" yaml:"-"`
	Applied                bool    `json:"applied" yaml:"-"`
	Overridden             bool    `json:"overridden" yaml:"-"`
	OverriddenAt           float64 `json:"overridden_at,omitempty" yaml:"-"`
	ExpectedDelayReduction float64 `json:"expected_delay_reduction" yaml:"-"`
}

// Validate checks the action-specific parameters.
func (d Decision) Validate() error {
	if d.TrainID == "" {
		return fmt.Errorf("%w: no train", ErrInvalidDecision)
	}
	switch d.Action {
	case ActionHold:
		if d.DurationMin <= 0 {
			return fmt.Errorf("%w: hold needs a positive duration", ErrInvalidDecision)
		}
	case ActionRegulate:
		if d.SpeedKmph < 0 {
			return fmt.Errorf("%w: negative speed cap", ErrInvalidDecision)
		}
	case ActionPrecedence:
		if d.StationCode == "" || len(d.AffectedTrains) == 0 {
			return fmt.Errorf("%w: precedence needs a station and affected trains", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: action %q", ErrInvalidDecision, d.Action)
	}
	if d.DurationMin < 0 {
		return fmt.Errorf("%w: negative duration", ErrInvalidDecision)
	}
	return nil
}

// Trains returns every train the decision names, primary first.
func (d Decision) Trains() []train.ID {
	return append([]train.ID{d.TrainID}, d.AffectedTrains...)
}

// InWindow reports whether now falls in [AppliedAt, AppliedAt+DurationMin).
// A zero duration lasts until overridden.
func (d Decision) InWindow(now float64) bool {
	if now < d.AppliedAt {
		return false
	}
	return d.DurationMin <= 0 || now < d.AppliedAt+d.DurationMin
}

// Targets reports whether the decision constrains train id. Hold and
// regulate constrain every named train; precedence constrains only the
// trains giving way.
func (d Decision) Targets(id train.ID) bool {
	if d.Action != ActionPrecedence && d.TrainID == id {
		return true
	}
	for _, a := range d.AffectedTrains {
		if a == id {
			return true
		}
	}
	return false
}

func (d Decision) clone() Decision {
	c := d
	c.AffectedTrains = append([]train.ID(nil), d.AffectedTrains...)
	return c
}
