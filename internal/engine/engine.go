// Package engine runs the corridor simulation and is its only public surface.
//
// An Engine owns all simulation state. State changes only inside a tick or
// inside one of the mutation calls, both under the engine lock, so there is a
// single writer at any time. Each tick has two passes:
//
//  1. Constraint pass - the applied dispatcher decisions are resolved into a
//     hold or speed cap for every train, reading the state as it was at the
//     end of the previous tick.
//  2. Motion pass - every train is stepped once with its constraints, the
//     disruption index and its speed profile.
//
// After the motion pass, recommendations and KPIs are refreshed and an
// immutable Snapshot is published to every subscriber.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cxd309/tms-dispatch/internal/dispatch"
	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/kinematics"
	"github.com/cxd309/tms-dispatch/internal/kpi"
	"github.com/cxd309/tms-dispatch/internal/timeutil"
	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

type subscriber struct {
	id uint64
	fn func(Snapshot)
}

// Engine is a corridor simulation with a wall-clock driven frame loop.
type Engine struct {
	cfg     Config
	log     zerolog.Logger
	metrics *metrics

	corridor *topology.Corridor
	fleet    []kinematics.Train
	routes   []train.Route
	order    []train.ID
	rec      *dispatch.Recommender

	// publishMu serializes ticks together with their publication, so
	// subscribers see snapshots in tick order.
	publishMu sync.Mutex

	mu          sync.Mutex
	status      Status
	stop        chan struct{} // closed to end the running frame loop
	now         float64
	tick        uint64
	multiplier  float64
	state       kinematics.State
	disruptions []disruption.Disruption
	index       *disruption.Index
	ledger      *dispatch.Ledger
	tracker     *kpi.Tracker
	recs        []dispatch.Decision
	recAt       float64
	snap        Snapshot

	subMu   sync.Mutex
	subs    []subscriber
	nextSub uint64
}

// New creates a stopped engine for the given corridor and fleet. Invalid
// stations or trains are reported as a *SetupError.
func New(cfg Config, stations []topology.Station, trains []train.Config) (*Engine, error) {
	cfg = cfg.withDefaults()

	cor, err := topology.NewCorridor(stations)
	if err != nil {
		return nil, &SetupError{Op: "corridor", Err: err}
	}
	if err := train.ValidateAll(cor, trains); err != nil {
		return nil, &SetupError{Op: "trains", Err: err}
	}

	e := &Engine{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "engine").Logger(),
		corridor:   cor,
		multiplier: cfg.SpeedMultiplier,
		status:     StatusStopped,
		tracker:    kpi.NewTracker(cfg.KPI),
	}
	for _, c := range trains {
		r, err := train.Resolve(cor, c)
		if err != nil {
			return nil, &SetupError{Op: "trains", Err: err}
		}
		tr, err := kinematics.NewTrain(r)
		if err != nil {
			return nil, &SetupError{Op: "trains", Err: fmt.Errorf("train %q: %w", c.TrainID, err)}
		}
		e.fleet = append(e.fleet, tr)
		e.routes = append(e.routes, r)
		e.order = append(e.order, r.TrainID)
	}

	m, err := newMetrics(cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating engine metrics: %w", err)
	}
	e.metrics = m

	e.ledger = dispatch.NewLedger(e.routes)
	if !cfg.DisableRecommendations {
		e.rec = dispatch.NewRecommender(cfg.Dispatch, e.fleet)
	}
	e.index = disruption.NewIndex(cor, nil)
	e.reset()

	e.log.Info().
		Int("stations", len(stations)).
		Int("trains", len(trains)).
		Float64("max_distance_km", cor.MaxDistanceKm()).
		Msg("engine created")
	return e, nil
}

// Start begins advancing the simulation in real time. Starting a running
// engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusRunning {
		return
	}
	e.status = StatusRunning
	e.stop = make(chan struct{})
	tk := e.cfg.Clock.NewTicker(e.cfg.FrameInterval)
	go e.loop(tk, e.stop, e.cfg.Clock.Now())
	e.setStatus()
	e.log.Info().Float64("sim_time_min", e.now).Msg("simulation started")
}

// Pause stops scheduling ticks and keeps all state. It takes effect at the
// next tick boundary.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != StatusRunning {
		return
	}
	e.halt()
	e.status = StatusPaused
	e.setStatus()
	e.log.Info().Float64("sim_time_min", e.now).Msg("simulation paused")
}

// Reset stops the engine and returns every train to its origin with empty
// history. Decisions are cleared; the configured disruptions are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.halt()
	e.status = StatusStopped
	e.reset()
	e.log.Info().Msg("simulation reset")
}

// SetSpeedMultiplier scales how fast sim time passes relative to wall time.
func (e *Engine) SetSpeedMultiplier(f float64) error {
	if !(f > 0) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidMultiplier, f)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.multiplier = f
	e.snap.SpeedMultiplier = f
	return nil
}

// SetDisruptions replaces the disruption set. Disruptions without an ID get
// one. The new set applies from the next tick.
func (e *Engine) SetDisruptions(ds []disruption.Disruption) error {
	prepared, err := prepareDisruptions(nil, ds)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setDisruptions(prepared)
	e.log.Info().Int("count", len(prepared)).Msg("disruptions replaced")
	return nil
}

// AddDisruption adds d to the disruption set and returns it with its ID.
func (e *Engine) AddDisruption(d disruption.Disruption) (disruption.Disruption, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prepared, err := prepareDisruptions(e.disruptions, []disruption.Disruption{d})
	if err != nil {
		return disruption.Disruption{}, err
	}
	e.setDisruptions(prepared)
	added := prepared[len(prepared)-1]
	e.log.Info().
		Str("disruption_id", added.ID).
		Str("type", string(added.Type)).
		Str("from", added.StartStation).
		Str("to", added.EndStation).
		Float64("start_at_min", added.StartAtMin).
		Float64("duration_min", added.DurationMin).
		Msg("disruption added")
	return added.Clone(), nil
}

// ClearDisruptions removes every disruption.
func (e *Engine) ClearDisruptions() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setDisruptions(nil)
	e.log.Info().Msg("disruptions cleared")
}

// ApplyPrioritizationDecision applies d at the current sim time. A decision
// naming an unknown train changes nothing and returns
// dispatch.ErrUnknownTrain. Without an expected delay reduction, the
// predicted impact is filled in.
func (e *Engine) ApplyPrioritizationDecision(d dispatch.Decision) (dispatch.Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if d.ExpectedDelayReduction == 0 && e.rec != nil && d.Validate() == nil && !e.ledger.Known(d.ID) {
		d.ExpectedDelayReduction = math.Round(e.rec.Impact(e.dispatchView(), d)*100) / 100
	}
	applied, err := e.ledger.Apply(d, e.now)
	if err != nil {
		e.metrics.decision(d.Action, outcomeRejected)
		e.log.Warn().Err(err).
			Str("decision_id", d.ID).
			Str("train_id", d.TrainID).
			Str("action", string(d.Action)).
			Msg("decision not applied")
		return dispatch.Decision{}, err
	}
	e.metrics.decision(applied.Action, outcomeApplied)
	e.log.Info().
		Str("decision_id", applied.ID).
		Str("train_id", applied.TrainID).
		Str("action", string(applied.Action)).
		Float64("applied_at", applied.AppliedAt).
		Float64("expected_delay_reduction", applied.ExpectedDelayReduction).
		Msg("decision applied")
	e.recommend()
	e.refresh(nil)
	return applied, nil
}

// OverridePrioritizationDecision overrides the decision or pending
// recommendation with the given ID. An applied decision stops constraining
// trains from the next tick; history is never rewritten.
func (e *Engine) OverridePrioritizationDecision(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		d   dispatch.Decision
		err error
	)
	switch i := e.pending(id); {
	case e.ledger.Known(id):
		d, err = e.ledger.Override(id, e.now)
	case i >= 0:
		d, err = e.ledger.Reject(e.recs[i], e.now)
	default:
		err = fmt.Errorf("%w: %q", dispatch.ErrUnknownDecision, id)
	}
	if err != nil {
		e.log.Warn().Err(err).Str("decision_id", id).Msg("decision not overridden")
		return err
	}
	e.metrics.decision(d.Action, outcomeOverridden)
	e.log.Info().
		Str("decision_id", id).
		Str("train_id", d.TrainID).
		Float64("overridden_at", d.OverriddenAt).
		Msg("decision overridden")
	e.recommend()
	e.refresh(nil)
	return nil
}

// Subscribe registers fn to receive every published snapshot. Callbacks run
// synchronously on the ticking goroutine, one at a time, and must not call
// Tick. The returned function unregisters fn; calling it twice is harmless.
func (e *Engine) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	e.subMu.Unlock()
	e.metrics.subscribed(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			defer e.subMu.Unlock()
			for i, s := range e.subs {
				if s.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					break
				}
			}
			e.metrics.subscribed(-1)
		})
	}
}

// State returns the latest snapshot.
func (e *Engine) State() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// Tick advances the simulation by dtMin simulated minutes, publishes the
// resulting snapshot and returns it. It is the deterministic driver used by
// tests and batch runs and may be called whatever the engine status.
func (e *Engine) Tick(dtMin float64) Snapshot {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	snap := e.advance(dtMin)
	e.mu.Unlock()

	e.publish(snap)
	return snap
}

func (e *Engine) loop(tk timeutil.Ticker, stop <-chan struct{}, last time.Time) {
	defer tk.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-tk.C():
			elapsed := now.Sub(last)
			last = now
			if elapsed > e.cfg.MaxFrameDelta {
				elapsed = e.cfg.MaxFrameDelta
			}
			e.frame(stop, elapsed)
		}
	}
}

// frame runs one real-time tick unless the loop was stopped meanwhile.
func (e *Engine) frame(stop <-chan struct{}, elapsed time.Duration) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	e.mu.Lock()
	select {
	case <-stop:
		e.mu.Unlock()
		return
	default:
	}
	dt := elapsed.Seconds() * e.cfg.SimMinutesPerSecond * e.multiplier
	snap := e.advance(dt)
	e.mu.Unlock()

	e.publish(snap)
}

// advance runs one tick. Callers hold mu.
func (e *Engine) advance(dt float64) Snapshot {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return e.snap
	}
	start := e.cfg.Clock.Now()
	prev := e.kpiView(e.snap.Trains)

	events := kinematics.Advance(e.fleet, e.state, e.index, e.ledger.Constraints, e.now, dt)
	e.now += dt
	e.tick++
	for _, ev := range events {
		e.onEvent(ev)
	}
	if e.now-e.recAt >= e.cfg.RecommendIntervalMin {
		e.recommend()
	}
	e.refresh(&prev)

	e.metrics.tick(e.cfg.Clock.Since(start))
	return e.snap
}

func (e *Engine) onEvent(ev kinematics.Event) {
	rt := e.state[ev.TrainID]
	if ev.Departed {
		e.log.Debug().Str("train_id", ev.TrainID).Float64("sim_time_min", e.now).Msg("train departed")
	}
	if !ev.Arrived {
		return
	}
	e.metrics.arrival(rt.Type)
	evt := e.log.Debug()
	if ev.Completed {
		evt = e.log.Info()
	}
	evt.Str("train_id", ev.TrainID).
		Str("station", ev.Station).
		Float64("sim_time_min", e.now).
		Float64("delay_min", ev.DelayMin).
		Bool("completed", ev.Completed).
		Msg("train arrived")
}

// publish delivers snap to every subscriber. A panicking subscriber is
// logged and skipped.
func (e *Engine) publish(snap Snapshot) {
	e.subMu.Lock()
	subs := append([]subscriber(nil), e.subs...)
	e.subMu.Unlock()
	for _, s := range subs {
		e.deliver(s, snap)
	}
}

func (e *Engine) deliver(s subscriber, snap Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().
				Uint64("subscriber", s.id).
				Uint64("tick", snap.Tick).
				Interface("panic", r).
				Msg("subscriber panicked")
		}
	}()
	s.fn(snap)
}

// halt ends the frame loop, if any. Callers hold mu.
func (e *Engine) halt() {
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

// reset reinitializes the run state. Callers hold mu or own e exclusively.
func (e *Engine) reset() {
	e.state = make(kinematics.State, len(e.fleet))
	for _, tr := range e.fleet {
		e.state[tr.Route.TrainID] = train.NewRuntime(tr.Route)
	}
	e.now = 0
	e.tick = 0
	e.ledger.Reset()
	e.tracker.Reset()
	e.recommend()
	e.refresh(nil)
}

func (e *Engine) setDisruptions(ds []disruption.Disruption) {
	e.disruptions = ds
	e.index = disruption.NewIndex(e.corridor, ds)
	e.recommend()
	e.refresh(nil)
}

func (e *Engine) dispatchView() dispatch.View {
	return dispatch.View{Now: e.now, State: e.state, Index: e.index, Ledger: e.ledger}
}

func (e *Engine) recommend() {
	e.recAt = e.now
	if e.rec == nil {
		e.recs = nil
		return
	}
	e.recs = e.rec.Recommend(e.dispatchView())
}

// pending returns the index of the current recommendation with the given
// ID, or -1.
func (e *Engine) pending(id string) int {
	for i, r := range e.recs {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// refresh rebuilds the snapshot from the current state. After a tick, prev
// is the view before it and feeds the KPI tracker. Callers hold mu.
func (e *Engine) refresh(prev *kpi.View) {
	trains := make(map[train.ID]train.Runtime, len(e.state))
	for id, rt := range e.state {
		trains[id] = rt.View()
	}
	view := e.kpiView(trains)
	if prev != nil {
		e.tracker.Observe(*prev, view)
	}

	ds := make([]disruption.Disruption, len(e.disruptions))
	for i, d := range e.disruptions {
		ds[i] = d.Clone()
	}

	e.snap = Snapshot{
		SimTimeMin:              e.now,
		Tick:                    e.tick,
		SpeedMultiplier:         e.multiplier,
		Trains:                  trains,
		TrainOrder:              e.order[:len(e.order):len(e.order)],
		Disruptions:             ds,
		PrioritizationDecisions: e.ledger.Decisions(),
		Recommendations:         append([]dispatch.Decision(nil), e.recs...),
		KPI:                     kpi.Compute(e.cfg.KPI, view, e.tracker),
	}
	e.setStatus()
}

// kpiView pairs trains with the current sim time and disruptions.
func (e *Engine) kpiView(trains map[train.ID]train.Runtime) kpi.View {
	return kpi.View{Now: e.now, Routes: e.routes, Trains: trains, Index: e.index}
}

func (e *Engine) setStatus() {
	e.snap.Status = e.status
	e.snap.Running = e.status == StatusRunning
}

// prepareDisruptions appends ds to existing, assigning missing IDs and
// rejecting duplicates. Neither input is modified.
func prepareDisruptions(existing, ds []disruption.Disruption) ([]disruption.Disruption, error) {
	out := make([]disruption.Disruption, 0, len(existing)+len(ds))
	seen := make(map[string]bool, len(existing)+len(ds))
	for _, d := range existing {
		out = append(out, d)
		seen[d.ID] = true
	}
	for _, d := range ds {
		d = d.Clone()
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if seen[d.ID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateDisruption, d.ID)
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, nil
}
