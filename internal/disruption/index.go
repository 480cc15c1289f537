package disruption

import (
	"math"

	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Entry is a disruption with its spatial extent resolved on the corridor.
type Entry struct {
	Disruption
	Span topology.Span
}

// Index answers speed-factor queries over a fixed set of disruptions.
// It is immutable once built; rebuild it when the disruption set changes.
type Index struct {
	entries []Entry
}

// NewIndex resolves every disruption's stations on cor. A disruption naming
// an unknown station gets an empty span and never matches.
func NewIndex(cor *topology.Corridor, ds []Disruption) *Index {
	idx := &Index{entries: make([]Entry, 0, len(ds))}
	for _, d := range ds {
		span, err := cor.Span(d.StartStation, d.EndStation)
		if err != nil {
			span = topology.Empty
		}
		idx.entries = append(idx.entries, Entry{Disruption: d.Clone(), Span: span})
	}
	return idx
}

// Entries returns the resolved disruptions in insertion order.
func (idx *Index) Entries() []Entry {
	if idx == nil {
		return nil
	}
	return idx.entries
}

// Len returns the number of indexed disruptions.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// SpeedFactor returns the most restrictive multiplier among disruptions
// covering distanceKm at simTimeMin for trainType, or 1 if none do.
// Overlapping disruptions combine by minimum.
func (idx *Index) SpeedFactor(simTimeMin, distanceKm float64, t train.Type) float64 {
	factor := 1.0
	for _, e := range idx.Entries() {
		if e.Span.Contains(distanceKm) && e.IsActive(simTimeMin) {
			factor = math.Min(factor, e.Factor(t))
		}
	}
	return factor
}

// NextRestriction returns the distance from distanceKm, travelling in dir,
// to the entry of the nearest disruption active at simTimeMin that would
// slow a train of type t below factor. Disruptions already covering
// distanceKm are not considered. ok is false if there is none ahead.
func (idx *Index) NextRestriction(simTimeMin, distanceKm float64, dir topology.Direction, t train.Type, factor float64) (gapKm float64, ok bool) {
	gapKm = math.Inf(1)
	for _, e := range idx.Entries() {
		if e.Span.IsEmpty() || e.Span.Contains(distanceKm) || !e.IsActive(simTimeMin) || e.Factor(t) >= factor {
			continue
		}
		entry := e.Span.FromKm
		if dir == topology.Upline {
			entry = e.Span.ToKm
		}
		if gap := (entry - distanceKm) * float64(dir); gap > 0 && gap < gapKm {
			gapKm, ok = gap, true
		}
	}
	if !ok {
		return 0, false
	}
	return gapKm, true
}

// Active returns the disruptions whose window contains simTimeMin.
func (idx *Index) Active(simTimeMin float64) []Entry {
	var out []Entry
	for _, e := range idx.Entries() {
		if e.IsActive(simTimeMin) && !e.Span.IsEmpty() {
			out = append(out, e)
		}
	}
	return out
}

// Upcoming returns disruptions that are active now or start within horizonMin.
func (idx *Index) Upcoming(simTimeMin, horizonMin float64) []Entry {
	var out []Entry
	for _, e := range idx.Entries() {
		if e.Span.IsEmpty() || e.HasEnded(simTimeMin) {
			continue
		}
		if e.StartAtMin <= simTimeMin+horizonMin {
			out = append(out, e)
		}
	}
	return out
}
