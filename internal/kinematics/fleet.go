package kinematics

import (
	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// State is an arena of train runtimes keyed by train ID.
type State map[train.ID]*train.Runtime

// Clone deep-copies every runtime in s.
func (s State) Clone() State {
	out := make(State, len(s))
	for id, rt := range s {
		out[id] = rt.Clone()
	}
	return out
}

// ConstraintFunc resolves the constraints for one train at now from the
// state as it was at the start of the tick.
type ConstraintFunc func(id train.ID, now float64, s State) Constraints

// Advance runs one tick for the whole fleet. Constraints for every train are
// resolved before any train moves, so no train observes another train's
// in-progress update. Trains are stepped in fleet order.
func Advance(fleet []Train, s State, idx *disruption.Index, resolve ConstraintFunc, now, dt float64) []Event {
	cs := make([]Constraints, len(fleet))
	if resolve != nil {
		for i, tr := range fleet {
			cs[i] = resolve(tr.Route.TrainID, now, s)
		}
	}
	var events []Event
	for i, tr := range fleet {
		rt, ok := s[tr.Route.TrainID]
		if !ok {
			continue
		}
		ev := Step(tr, rt, idx, cs[i], now, dt)
		if ev.Departed || ev.Arrived {
			events = append(events, ev)
		}
	}
	return events
}

// Project is a dry run of Advance over horizon minutes in steps of step
// minutes, starting from a copy of s. The input state is never mutated.
// observe, if non-nil, is called after every projected tick.
func Project(fleet []Train, s State, idx *disruption.Index, resolve ConstraintFunc,
	now, horizon, step float64, observe func(now float64, s State)) State {
	p := s.Clone()
	if step <= 0 {
		return p
	}
	for t := now; t < now+horizon; t += step {
		dt := step
		if t+dt > now+horizon {
			dt = now + horizon - t
		}
		Advance(fleet, p, idx, resolve, t, dt)
		if observe != nil {
			observe(t+dt, p)
		}
	}
	return p
}
