package dispatch

import (
	"fmt"
	"math"
	"sort"

	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/kinematics"
	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Config tunes conflict detection and impact projection.
type Config struct {
	// HorizonMin is how far ahead each what-if projection runs.
	// Default: 60
	HorizonMin float64 `json:"horizon_min" yaml:"horizon_min"`

	// StepMin is the projection tick.
	// Default: 1
	StepMin float64 `json:"step_min" yaml:"step_min"`

	// LookaheadKm is how close a train must be to a disrupted section to
	// count as approaching it.
	// Default: 15
	LookaheadKm float64 `json:"lookahead_km" yaml:"lookahead_km"`

	// MinHeadwayKm is the spacing below which same-direction trains are
	// considered bunched.
	// Default: 3
	MinHeadwayKm float64 `json:"min_headway_km" yaml:"min_headway_km"`

	// BunchRegulateMin is the duration of a de-bunching speed cap.
	// Default: 15
	BunchRegulateMin float64 `json:"bunch_regulate_min" yaml:"bunch_regulate_min"`

	// ContentionPenalty is the cost per train-minute two or more trains
	// spend together inside an active disrupted section, scaled by its
	// severity.
	// Default: 1
	ContentionPenalty float64 `json:"contention_penalty" yaml:"contention_penalty"`

	// PriorityWeights scales projected delay per train type.
	// Default: Passenger 1, Freight 0.5
	PriorityWeights map[train.Type]float64 `json:"priority_weights" yaml:"priority_weights"`

	// MaxRecommendations caps the ranked list.
	// Default: 5
	MaxRecommendations int `json:"max_recommendations" yaml:"max_recommendations"`
}

// DefaultConfig returns the default recommender configuration.
func DefaultConfig() Config {
	return Config{
		HorizonMin:        60,
		StepMin:           1,
		LookaheadKm:       15,
		MinHeadwayKm:      3,
		BunchRegulateMin:  15,
		ContentionPenalty: 1,
		PriorityWeights: map[train.Type]float64{
			train.Passenger: 1,
			train.Freight:   0.5,
		},
		MaxRecommendations: 5,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HorizonMin <= 0 {
		c.HorizonMin = def.HorizonMin
	}
	if c.StepMin <= 0 {
		c.StepMin = def.StepMin
	}
	if c.LookaheadKm <= 0 {
		c.LookaheadKm = def.LookaheadKm
	}
	if c.MinHeadwayKm <= 0 {
		c.MinHeadwayKm = def.MinHeadwayKm
	}
	if c.BunchRegulateMin <= 0 {
		c.BunchRegulateMin = def.BunchRegulateMin
	}
	if c.ContentionPenalty <= 0 {
		c.ContentionPenalty = def.ContentionPenalty
	}
	if len(c.PriorityWeights) == 0 {
		c.PriorityWeights = def.PriorityWeights
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = def.MaxRecommendations
	}
	return c
}

// View is the read-only input to a recommendation pass.
type View struct {
	Now    float64
	State  kinematics.State
	Index  *disruption.Index
	Ledger *Ledger
}

// Recommender proposes decisions and predicts their impact by dry-running
// the kinematics with and without each candidate.
type Recommender struct {
	cfg    Config
	fleet  []kinematics.Train
	routes map[train.ID]train.Route
}

// NewRecommender creates a recommender for fleet.
func NewRecommender(cfg Config, fleet []kinematics.Train) *Recommender {
	r := &Recommender{
		cfg:    cfg.withDefaults(),
		fleet:  fleet,
		routes: make(map[train.ID]train.Route, len(fleet)),
	}
	for _, tr := range fleet {
		r.routes[tr.Route.TrainID] = tr.Route
	}
	return r
}

// Recommend returns candidates with a positive expected delay reduction,
// best first. Candidates already in the ledger are never proposed again.
func (r *Recommender) Recommend(v View) []Decision {
	candidates := r.candidates(v)
	if len(candidates) == 0 {
		return nil
	}
	var applied []Decision
	if v.Ledger != nil {
		applied = v.Ledger.Applied()
	}
	base := r.cost(v, applied)

	var out []Decision
	for _, c := range candidates {
		if v.Ledger != nil && v.Ledger.Known(c.ID) {
			continue
		}
		hypo := c.clone()
		hypo.Applied = true
		hypo.AppliedAt = v.Now
		withC := r.cost(v, append(append([]Decision(nil), applied...), hypo))
		reduction := math.Round((base-withC)*100) / 100
		if reduction <= 0 {
			continue
		}
		c.ExpectedDelayReduction = reduction
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExpectedDelayReduction != out[j].ExpectedDelayReduction {
			return out[i].ExpectedDelayReduction > out[j].ExpectedDelayReduction
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > r.cfg.MaxRecommendations {
		out = out[:r.cfg.MaxRecommendations]
	}
	return out
}

// Impact predicts the aggregate delay reduction of applying d now.
func (r *Recommender) Impact(v View, d Decision) float64 {
	var applied []Decision
	if v.Ledger != nil {
		applied = v.Ledger.Applied()
	}
	hypo := d.clone()
	hypo.Applied = true
	hypo.AppliedAt = v.Now
	return r.cost(v, applied) - r.cost(v, append(append([]Decision(nil), applied...), hypo))
}

// cost projects the fleet under decisions ds and returns the
// priority-weighted delay at the horizon plus the contention penalty.
func (r *Recommender) cost(v View, ds []Decision) float64 {
	resolveFn := func(id train.ID, now float64, s kinematics.State) kinematics.Constraints {
		return resolve(r.routes, ds, id, now, s)
	}
	var contention float64
	observe := func(now float64, s kinematics.State) {
		contention += r.contention(v.Index, now, s) + r.bunching(s)
	}
	end := kinematics.Project(r.fleet, v.State, v.Index, resolveFn, v.Now, r.cfg.HorizonMin, r.cfg.StepMin, observe)

	var total float64
	for _, tr := range r.fleet {
		rt, ok := end[tr.Route.TrainID]
		if !ok {
			continue
		}
		total += r.weight(rt.Type) * math.Max(0, rt.DelayMin)
	}
	return total + contention
}

func (r *Recommender) contention(idx *disruption.Index, now float64, s kinematics.State) float64 {
	var penalty float64
	for _, e := range idx.Active(now) {
		var inside []*train.Runtime
		for _, tr := range r.fleet {
			rt := s[tr.Route.TrainID]
			if rt == nil || rt.Status == train.StatusCompleted || !rt.Departed() {
				continue
			}
			if e.Span.Contains(rt.DistanceKm) {
				inside = append(inside, rt)
			}
		}
		if len(inside) < 2 {
			continue
		}
		for _, rt := range inside {
			penalty += r.weight(rt.Type) * r.cfg.ContentionPenalty * (1 - e.Factor(rt.Type)) * r.cfg.StepMin
		}
	}
	return penalty
}

// bunching charges every same-direction pair running closer than the
// minimum headway, weighted by the follower and by how close it is.
func (r *Recommender) bunching(s kinematics.State) float64 {
	var penalty float64
	for _, f := range r.fleet {
		frt := s[f.Route.TrainID]
		if frt == nil || frt.Status == train.StatusCompleted || !frt.Departed() {
			continue
		}
		for _, l := range r.fleet {
			if l.Route.TrainID == f.Route.TrainID || l.Route.Direction != f.Route.Direction {
				continue
			}
			lrt := s[l.Route.TrainID]
			if lrt == nil || lrt.Status == train.StatusCompleted || !lrt.Departed() {
				continue
			}
			gap := (lrt.DistanceKm - frt.DistanceKm) * float64(f.Route.Direction)
			if gap <= 0 || gap >= r.cfg.MinHeadwayKm {
				continue
			}
			penalty += r.weight(frt.Type) * r.cfg.ContentionPenalty * (1 - gap/r.cfg.MinHeadwayKm) * r.cfg.StepMin
		}
	}
	return penalty
}

func (r *Recommender) weight(t train.Type) float64 {
	if w, ok := r.cfg.PriorityWeights[t]; ok {
		return w
	}
	return 1
}

func (r *Recommender) candidates(v View) []Decision {
	var out []Decision
	for _, e := range v.Index.Upcoming(v.Now, r.cfg.HorizonMin) {
		out = append(out, r.disruptionCandidates(v, e)...)
	}
	out = append(out, r.bunchingCandidates(v)...)
	return out
}

type approach struct {
	tr    kinematics.Train
	rt    *train.Runtime
	gapKm float64
}

// approaching lists trains heading into e's section, nearest first.
func (r *Recommender) approaching(v View, e disruption.Entry) []approach {
	var out []approach
	for _, tr := range r.fleet {
		rt := v.State[tr.Route.TrainID]
		if rt == nil || rt.Status == train.StatusCompleted {
			continue
		}
		gap, ok := gapTo(tr.Route, rt.DistanceKm, e.Span)
		if !ok || gap > r.cfg.LookaheadKm {
			continue
		}
		out = append(out, approach{tr: tr, rt: rt, gapKm: gap})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].gapKm != out[j].gapKm {
			return out[i].gapKm < out[j].gapKm
		}
		return out[i].rt.TrainID < out[j].rt.TrainID
	})
	return out
}

// gapTo returns the distance from pos to the entry of span along the
// route's direction, 0 if already inside. ok is false if the section is
// behind the train or beyond its terminal.
func gapTo(rt train.Route, pos float64, span topology.Span) (float64, bool) {
	if span.IsEmpty() {
		return 0, false
	}
	if span.Contains(pos) {
		return 0, true
	}
	terminal := rt.Terminal()
	if rt.Direction == topology.Downline {
		if pos > span.ToKm || terminal < span.FromKm {
			return 0, false
		}
		return span.FromKm - pos, true
	}
	if pos < span.FromKm || terminal > span.ToKm {
		return 0, false
	}
	return pos - span.ToKm, true
}

func (r *Recommender) disruptionCandidates(v View, e disruption.Entry) []Decision {
	trains := r.approaching(v, e)
	var passengers, freights []approach
	for _, a := range trains {
		switch a.rt.Type {
		case train.Passenger:
			passengers = append(passengers, a)
		case train.Freight:
			freights = append(freights, a)
		}
	}
	if len(passengers) == 0 || len(freights) == 0 {
		return nil
	}
	lead := passengers[0]
	remaining := math.Min(e.EndAtMin()-v.Now, r.cfg.HorizonMin)
	if remaining <= 0 {
		return nil
	}
	// Long enough for the lead passenger train to clear the section.
	hold := remaining
	if speed := lead.tr.Profile.Cruise() * e.Factor(train.Passenger); speed > 0 {
		hold = math.Min(hold, (lead.gapKm+e.Span.Length())/speed*60)
	}
	hold = math.Ceil(hold)

	var out []Decision
	for _, f := range freights {
		if f.gapKm <= 0 {
			// Already inside; holding it there would only block the section.
			continue
		}
		reason := fmt.Sprintf("%s %s ahead of %s and %s", e.Type, e.ID, lead.rt.TrainID, f.rt.TrainID)
		if stop, ok := stopBefore(f.tr.Route, f.rt, e.Span); ok {
			out = append(out, Decision{
				ID:          fmt.Sprintf("rec-%s-%s-%s", ActionHold, f.rt.TrainID, e.ID),
				TrainID:     f.rt.TrainID,
				Action:      ActionHold,
				StationCode: stop,
				DurationMin: hold,
				Reason:      reason,
			})
			out = append(out, Decision{
				ID:             fmt.Sprintf("rec-%s-%s-%s-%s", ActionPrecedence, lead.rt.TrainID, f.rt.TrainID, e.ID),
				TrainID:        lead.rt.TrainID,
				AffectedTrains: []train.ID{f.rt.TrainID},
				Action:         ActionPrecedence,
				StationCode:    stop,
				DurationMin:    math.Ceil(remaining),
				Reason:         reason,
			})
		}
		out = append(out, Decision{
			ID:          fmt.Sprintf("rec-%s-%s-%s", ActionRegulate, f.rt.TrainID, e.ID),
			TrainID:     f.rt.TrainID,
			Action:      ActionRegulate,
			SpeedKmph:   math.Round(f.tr.Profile.Cruise() * e.Factor(train.Freight) / 2),
			DurationMin: math.Ceil(remaining),
			Reason:      reason,
		})
	}
	return out
}

// stopBefore returns the next scheduled stop of the train that still lies
// before the section entry.
func stopBefore(r train.Route, rt *train.Runtime, span topology.Span) (string, bool) {
	dir := float64(r.Direction)
	entry := span.FromKm
	if r.Direction == topology.Upline {
		entry = span.ToKm
	}
	for i := rt.SegmentIndex; i < len(r.Stops); i++ {
		d := r.Distances[i]
		if (d-rt.DistanceKm)*dir < 0 {
			continue // already behind
		}
		if (entry-d)*dir >= 0 {
			return r.Stops[i].StationCode, true
		}
		return "", false
	}
	return "", false
}

func (r *Recommender) bunchingCandidates(v View) []Decision {
	var out []Decision
	for _, follower := range r.fleet {
		frt := v.State[follower.Route.TrainID]
		if frt == nil || frt.Status != train.StatusRunning {
			continue
		}
		for _, leader := range r.fleet {
			if leader.Route.TrainID == follower.Route.TrainID || leader.Route.Direction != follower.Route.Direction {
				continue
			}
			lrt := v.State[leader.Route.TrainID]
			if lrt == nil || lrt.Status == train.StatusCompleted || !lrt.Departed() {
				continue
			}
			gap := (lrt.DistanceKm - frt.DistanceKm) * float64(follower.Route.Direction)
			if gap <= 0 || gap >= r.cfg.MinHeadwayKm || frt.SpeedKmph <= lrt.SpeedKmph {
				continue
			}
			out = append(out, Decision{
				ID:          fmt.Sprintf("rec-%s-%s-bunch-%s", ActionRegulate, frt.TrainID, lrt.TrainID),
				TrainID:     frt.TrainID,
				Action:      ActionRegulate,
				SpeedKmph:   math.Round(lrt.SpeedKmph),
				DurationMin: r.cfg.BunchRegulateMin,
				Reason:      fmt.Sprintf("%s closing on %s at %.1f km", frt.TrainID, lrt.TrainID, gap),
			})
		}
	}
	return out
}
