package kpi

import (
	"math"
	"sort"

	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

type episode struct {
	id          string
	baseline    float64
	startedAt   float64
	endsAt      float64
	recovered   bool
	recoveredAt float64
}

// Tracker remembers what Compute cannot derive from a single view. It is not
// safe for concurrent use.
type Tracker struct {
	cfg      Config
	episodes map[string]*episode
	affected map[train.ID]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker(cfg Config) *Tracker {
	t := &Tracker{cfg: cfg.withDefaults()}
	t.Reset()
	return t
}

// Reset forgets all observations.
func (t *Tracker) Reset() {
	t.episodes = make(map[string]*episode)
	t.affected = make(map[train.ID]struct{})
}

// Observe records one tick, given the views before and after it:
//   - the fleet average delay before the tick is stored as a disruption's
//     baseline the first time the disruption is seen active;
//   - every train whose movement during the tick touched an active
//     disruption is marked affected;
//   - after a disruption ends, the first observation with the fleet average
//     within tolerance of the baseline marks it recovered.
func (t *Tracker) Observe(prev, cur View) {
	before, fleet := FleetAverageDelay(prev), FleetAverageDelay(cur)
	if !before.Valid {
		before = fleet
	}
	for _, e := range cur.Index.Entries() {
		if e.Span.IsEmpty() {
			continue
		}
		if !e.IsActive(prev.Now) && !e.IsActive(cur.Now) {
			continue
		}
		if _, seen := t.episodes[e.ID]; !seen && e.IsActive(cur.Now) && before.Valid {
			t.episodes[e.ID] = &episode{id: e.ID, baseline: before.V, startedAt: cur.Now, endsAt: e.EndAtMin()}
		}
		for id, rt := range cur.Trains {
			from := rt.DistanceKm
			if p, ok := prev.Trains[id]; ok {
				from = p.DistanceKm
			}
			travelled := topology.Span{FromKm: math.Min(from, rt.DistanceKm), ToKm: math.Max(from, rt.DistanceKm)}
			if travelled.Overlaps(e.Span) {
				t.affected[id] = struct{}{}
			}
		}
	}
	for _, ep := range t.episodes {
		if ep.recovered || cur.Now <= ep.endsAt || !fleet.Valid {
			continue
		}
		if fleet.V <= ep.baseline+t.cfg.RecoveryToleranceMin {
			ep.recovered = true
			ep.recoveredAt = cur.Now
		}
	}
}

// Affected returns the IDs of every train that ran into or through an
// active disruption, sorted.
func (t *Tracker) Affected() []train.ID {
	return sortedIDs(t.affected)
}

// Recoveries returns one entry per disruption that has become active, in
// activation order.
func (t *Tracker) Recoveries() []Recovery {
	eps := make([]*episode, 0, len(t.episodes))
	for _, ep := range t.episodes {
		eps = append(eps, ep)
	}
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].startedAt != eps[j].startedAt {
			return eps[i].startedAt < eps[j].startedAt
		}
		return eps[i].id < eps[j].id
	})
	out := make([]Recovery, len(eps))
	for i, ep := range eps {
		out[i] = Recovery{DisruptionID: ep.id, BaselineDelayMin: ep.baseline, EndedAtMin: ep.endsAt}
		if ep.recovered {
			out[i].RecoveredAtMin = Some(ep.recoveredAt)
			out[i].RecoveryMin = Some(ep.recoveredAt - ep.endsAt)
		}
	}
	return out
}
