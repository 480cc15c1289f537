package dispatch

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/cxd309/tms-dispatch/internal/kinematics"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Ledger is the append-only history of decisions. Entries are never removed,
// only flagged as overridden. A Ledger is not safe for concurrent use; the
// engine serializes access.
type Ledger struct {
	routes    map[train.ID]train.Route
	decisions []Decision
	byID      map[string]int
	newID     func() string
}

// NewLedger creates an empty ledger for the given fleet.
func NewLedger(routes []train.Route) *Ledger {
	l := &Ledger{
		routes: make(map[train.ID]train.Route, len(routes)),
		byID:   make(map[string]int),
		newID:  uuid.NewString,
	}
	for _, r := range routes {
		l.routes[r.TrainID] = r
	}
	return l
}

// Reset forgets every decision.
func (l *Ledger) Reset() {
	l.decisions = nil
	l.byID = make(map[string]int)
}

// Decisions returns a copy of the history in application order.
func (l *Ledger) Decisions() []Decision {
	out := make([]Decision, len(l.decisions))
	for i, d := range l.decisions {
		out[i] = d.clone()
	}
	return out
}

// Get returns the decision with the given ID.
func (l *Ledger) Get(id string) (Decision, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Decision{}, false
	}
	return l.decisions[i].clone(), true
}

// Apply records d as applied at now. Applying an already applied ID is a
// no-op; re-applying an overridden one fails with ErrDecisionOverridden.
func (l *Ledger) Apply(d Decision, now float64) (Decision, error) {
	if i, ok := l.byID[d.ID]; ok && d.ID != "" {
		existing := l.decisions[i]
		if existing.Overridden {
			return existing.clone(), fmt.Errorf("%w: %q", ErrDecisionOverridden, d.ID)
		}
		return existing.clone(), nil
	}
	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	for _, id := range d.Trains() {
		if _, ok := l.routes[id]; !ok {
			return Decision{}, fmt.Errorf("%w: %q", ErrUnknownTrain, id)
		}
	}
	if d.StationCode != "" {
		stopping := d.AffectedTrains
		if d.Action == ActionHold {
			stopping = []train.ID{d.TrainID}
		}
		for _, id := range stopping {
			if _, ok := stationDistance(l.routes, id, d.StationCode); !ok {
				return Decision{}, fmt.Errorf("%w: %q is not a stop of train %q", ErrInvalidDecision, d.StationCode, id)
			}
		}
	}

	d = d.clone()
	if d.ID == "" {
		d.ID = l.newID()
	}
	d.AppliedAt = now
	d.Applied = true
	d.Overridden = false
	d.OverriddenAt = 0
	l.append(d)
	return d.clone(), nil
}

// Override flags the decision as overridden at now. Its constraint stops
// applying from the next tick on; nothing already simulated is rewritten.
func (l *Ledger) Override(id string, now float64) (Decision, error) {
	i, ok := l.byID[id]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownDecision, id)
	}
	d := &l.decisions[i]
	if !d.Overridden {
		d.Applied = false
		d.Overridden = true
		d.OverriddenAt = now
	}
	return d.clone(), nil
}

// Reject records a decision that was never applied as overridden, so the
// same recommendation is not offered again.
func (l *Ledger) Reject(d Decision, now float64) (Decision, error) {
	if d.ID == "" {
		return Decision{}, fmt.Errorf("%w: rejected decision has no id", ErrInvalidDecision)
	}
	if _, ok := l.byID[d.ID]; ok {
		return l.Override(d.ID, now)
	}
	d = d.clone()
	d.Applied = false
	d.Overridden = true
	d.OverriddenAt = now
	l.append(d)
	return d.clone(), nil
}

// Known reports whether a decision with this ID is in the ledger.
func (l *Ledger) Known(id string) bool {
	_, ok := l.byID[id]
	return ok
}

// Applied returns the decisions currently flagged applied.
func (l *Ledger) Applied() []Decision {
	var out []Decision
	for _, d := range l.decisions {
		if d.Applied {
			out = append(out, d)
		}
	}
	return out
}

func (l *Ledger) append(d Decision) {
	l.byID[d.ID] = len(l.decisions)
	l.decisions = append(l.decisions, d)
}

// Constraints implements kinematics.ConstraintFunc over the applied decisions.
func (l *Ledger) Constraints(id train.ID, now float64, s kinematics.State) kinematics.Constraints {
	return resolve(l.routes, l.decisions, id, now, s)
}

// resolve folds every applied decision targeting id into one constraint set:
// any hold wins, speed caps combine by minimum.
func resolve(routes map[train.ID]train.Route, ds []Decision, id train.ID, now float64, s kinematics.State) kinematics.Constraints {
	var c kinematics.Constraints
	for _, d := range ds {
		if !d.Applied || !d.Targets(id) {
			continue
		}
		if d.Action == ActionHold && d.StationCode != "" {
			if heldAtStation(routes, d, id, now, s) {
				c.Hold = true
				c.HoldReason = train.HaltHold
			}
			continue
		}
		if !d.InWindow(now) {
			continue
		}
		switch d.Action {
		case ActionHold:
			c.Hold = true
			c.HoldReason = train.HaltHold
		case ActionRegulate:
			if !c.Capped || d.SpeedKmph < c.CapKmph {
				c.CapKmph = d.SpeedKmph
			}
			c.Capped = true
		case ActionPrecedence:
			if yielding(routes, d, id, s) && !c.Hold {
				c.Hold = true
				c.HoldReason = train.HaltPrecedence
			}
		}
	}
	return c
}

// heldAtStation reports whether a station hold keeps id standing at its
// station. The hold lasts DurationMin from the later of the application and
// the train's arrival there; a train that never stops there is not held.
func heldAtStation(routes map[train.ID]train.Route, d Decision, id train.ID, now float64, s kinematics.State) bool {
	if now < d.AppliedAt {
		return false
	}
	rt, ok := s[id]
	if !ok || rt.Status == train.StatusCompleted {
		return false
	}
	stationKm, ok := stationDistance(routes, id, d.StationCode)
	if !ok || math.Abs(rt.DistanceKm-stationKm) > 1e-9 {
		return false
	}
	from := d.AppliedAt
	if at, ok := rt.ActualTimes[d.StationCode]; ok && at > from {
		from = at
	}
	return now < from+d.DurationMin
}

// yielding reports whether id is standing at the precedence station while
// the prioritized train has not yet left it behind.
func yielding(routes map[train.ID]train.Route, d Decision, id train.ID, s kinematics.State) bool {
	rt, ok := s[id]
	if !ok {
		return false
	}
	stationKm, ok := stationDistance(routes, id, d.StationCode)
	if !ok || math.Abs(rt.DistanceKm-stationKm) > 1e-9 {
		return false
	}
	return !passed(routes, s, d.TrainID, stationKm)
}

func passed(routes map[train.ID]train.Route, s kinematics.State, id train.ID, stationKm float64) bool {
	rt, ok := s[id]
	if !ok {
		return true
	}
	if rt.Status == train.StatusCompleted {
		return true
	}
	r := routes[id]
	if !rt.Departed() {
		return false
	}
	// Standing at the station, dwelling or not, is not passing it.
	return (rt.DistanceKm-stationKm)*float64(r.Direction) > 1e-9
}

func stationDistance(routes map[train.ID]train.Route, id train.ID, code string) (float64, bool) {
	r, ok := routes[id]
	if !ok {
		return 0, false
	}
	for i, st := range r.Stops {
		if st.StationCode == code {
			return r.Distances[i], true
		}
	}
	return 0, false
}
