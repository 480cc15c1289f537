package kinematics_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/kinematics"
	"github.com/cxd309/tms-dispatch/internal/topology"
	"github.com/cxd309/tms-dispatch/internal/train"
)

func corridor(t *testing.T) *topology.Corridor {
	t.Helper()
	c, err := topology.NewCorridor([]topology.Station{
		{Code: "A", DistanceKm: 0},
		{Code: "B", DistanceKm: 10, HaltMinutes: 2},
		{Code: "C", DistanceKm: 20},
	})
	require.NoError(t, err)
	return c
}

// newTrain builds a 60 km/h train (1 km per sim minute, 0.5 km/min in the
// 1 km zone around stops) running through stops.
func newTrain(t *testing.T, id string, typ train.Type, stops ...train.Stop) kinematics.Train {
	t.Helper()
	r, err := train.Resolve(corridor(t), train.Config{TrainID: id, Type: typ, SpeedKmph: 60, Stops: stops})
	require.NoError(t, err)
	tr, err := kinematics.NewTrain(r)
	require.NoError(t, err)
	return tr
}

func downline(t *testing.T, id string, typ train.Type) kinematics.Train {
	return newTrain(t, id, typ,
		train.Stop{StationCode: "A", ScheduledMin: 0},
		train.Stop{StationCode: "B", ScheduledMin: 10},
		train.Stop{StationCode: "C", ScheduledMin: 22},
	)
}

func run(fleet []kinematics.Train, s kinematics.State, idx *disruption.Index,
	resolve kinematics.ConstraintFunc, ticks int) {
	for i := 0; i < ticks; i++ {
		kinematics.Advance(fleet, s, idx, resolve, float64(i), 1)
	}
}

func stateFor(fleet ...kinematics.Train) kinematics.State {
	s := kinematics.State{}
	for _, tr := range fleet {
		s[tr.Route.TrainID] = train.NewRuntime(tr.Route)
	}
	return s
}

func TestStep_CheckpointsAndDwell(t *testing.T) {
	tr := downline(t, "P1", train.Passenger)
	s := stateFor(tr)
	run([]kinematics.Train{tr}, s, nil, nil, 12)

	rt := s["P1"]
	assert.Equal(t, 0.0, rt.ActualTimes["A"])
	assert.Equal(t, 12.0, rt.ActualTimes["B"])
	assert.Equal(t, 2.0, rt.DelayMin)
	assert.Equal(t, train.StatusHalted, rt.Status)
	assert.Equal(t, train.HaltDwell, rt.HaltReason)
	assert.Equal(t, 1, rt.SegmentIndex)

	// Two minutes of dwell, then it leaves B.
	run2 := func(now float64) { kinematics.Advance([]kinematics.Train{tr}, s, nil, nil, now, 1) }
	run2(12)
	run2(13)
	assert.Equal(t, 10.0, rt.DistanceKm)
	run2(14)
	assert.Greater(t, rt.DistanceKm, 10.0)
	assert.Equal(t, train.StatusRunning, rt.Status)
}

func TestStep_CompletesAndStops(t *testing.T) {
	tr := downline(t, "P1", train.Passenger)
	s := stateFor(tr)
	run([]kinematics.Train{tr}, s, nil, nil, 60)

	rt := s["P1"]
	require.Equal(t, train.StatusCompleted, rt.Status)
	assert.Equal(t, 20.0, rt.DistanceKm)
	assert.Equal(t, 26.0, rt.ActualTimes["C"])
	assert.Equal(t, 4.0, rt.DelayMin)
	assert.Equal(t, 1, rt.SegmentIndex)

	n := len(rt.History)
	kinematics.Advance([]kinematics.Train{tr}, s, nil, nil, 60, 1)
	assert.Len(t, rt.History, n, "completed trains are not integrated")
	assert.Equal(t, 26.0, rt.History[n-1].TimeMin)
}

func TestStep_WaitsForScheduledDeparture(t *testing.T) {
	tr := newTrain(t, "F1", train.Freight,
		train.Stop{StationCode: "A", ScheduledMin: 5},
		train.Stop{StationCode: "C", ScheduledMin: 40},
	)
	s := stateFor(tr)
	run([]kinematics.Train{tr}, s, nil, nil, 5)

	rt := s["F1"]
	assert.Equal(t, train.HaltScheduled, rt.HaltReason)
	assert.Equal(t, 0.0, rt.DistanceKm)
	assert.Zero(t, rt.DelayMin)
	assert.NotContains(t, rt.ActualTimes, "A")

	kinematics.Advance([]kinematics.Train{tr}, s, nil, nil, 5, 1)
	assert.Equal(t, 5.0, rt.ActualTimes["A"])
	assert.Equal(t, train.StatusRunning, rt.Status)
}

func TestStep_HistoryMonotoneInTravelDirection(t *testing.T) {
	down := downline(t, "D1", train.Passenger)
	up := newTrain(t, "U1", train.Freight,
		train.Stop{StationCode: "C", ScheduledMin: 0},
		train.Stop{StationCode: "B", ScheduledMin: 15},
		train.Stop{StationCode: "A", ScheduledMin: 30},
	)
	fleet := []kinematics.Train{down, up}
	s := stateFor(fleet...)
	idx := disruption.NewIndex(corridor(t), []disruption.Disruption{{
		ID: "slow", StartStation: "A", EndStation: "B", StartAtMin: 3, DurationMin: 20,
		SpeedReduction: map[train.Type]float64{train.Passenger: 0.3, train.Freight: 0},
	}})
	run(fleet, s, idx, nil, 90)

	for _, tr := range fleet {
		rt := s[tr.Route.TrainID]
		dir := float64(tr.Route.Direction)
		for i := 1; i < len(rt.History); i++ {
			prev, cur := rt.History[i-1], rt.History[i]
			assert.GreaterOrEqual(t, cur.TimeMin, prev.TimeMin)
			delta := (cur.DistanceKm - prev.DistanceKm) * dir
			if rt.Waiting(i) {
				assert.Zero(t, delta)
				continue
			}
			assert.Positive(t, delta, "train %s sample %d", rt.TrainID, i)
		}
		assert.Equal(t, train.StatusCompleted, rt.Status)
	}
}

func TestStep_FullBlockHaltsForWholeWindow(t *testing.T) {
	tr := newTrain(t, "F1", train.Freight,
		train.Stop{StationCode: "A", ScheduledMin: 0},
		train.Stop{StationCode: "C", ScheduledMin: 30},
	)
	fleet := []kinematics.Train{tr}
	s := stateFor(tr)
	idx := disruption.NewIndex(corridor(t), []disruption.Disruption{{
		ID: "block", Type: disruption.TypeBlockage, StartStation: "A", EndStation: "C",
		StartAtMin: 5, DurationMin: 15,
		SpeedReduction: map[train.Type]float64{train.Freight: 0, train.Passenger: 1},
	}})
	rt := s["F1"]

	run(fleet, s, idx, nil, 5)
	blockedAt := rt.DistanceKm
	require.Greater(t, blockedAt, 0.0)

	for now := 5; now <= 20; now++ {
		kinematics.Advance(fleet, s, idx, nil, float64(now), 1)
		assert.Equal(t, train.StatusHalted, rt.Status, "now=%d", now)
		assert.Equal(t, train.HaltBlocked, rt.HaltReason)
		assert.Equal(t, blockedAt, rt.DistanceKm)
		assert.Zero(t, rt.SpeedSamples[len(rt.SpeedSamples)-1])
	}

	kinematics.Advance(fleet, s, idx, nil, 21, 1)
	assert.Equal(t, train.StatusRunning, rt.Status)
	assert.Greater(t, rt.DistanceKm, blockedAt)
}

func TestStep_HoldDelaysLaterCheckpoints(t *testing.T) {
	hold := func(id train.ID, now float64, _ kinematics.State) kinematics.Constraints {
		if id == "P1" && now >= 5 && now < 15 {
			return kinematics.Constraints{Hold: true, HoldReason: train.HaltHold}
		}
		return kinematics.Constraints{}
	}

	base := stateFor(downline(t, "P1", train.Passenger))
	held := stateFor(downline(t, "P1", train.Passenger))
	fleet := []kinematics.Train{downline(t, "P1", train.Passenger)}
	run(fleet, base, nil, nil, 80)
	run(fleet, held, nil, hold, 80)

	for _, code := range []string{"B", "C"} {
		delta := held["P1"].ActualTimes[code] - base["P1"].ActualTimes[code]
		assert.GreaterOrEqual(t, delta, 10.0, "station %s", code)
	}
	// History before the hold is identical.
	assert.Equal(t, base["P1"].History[:6], held["P1"].History[:6])
}

func TestStep_HoldFreezesDwell(t *testing.T) {
	tr := downline(t, "P1", train.Passenger)
	s := stateFor(tr)
	run([]kinematics.Train{tr}, s, nil, nil, 12) // arrives at B at 12, 2 min dwell

	rt := s["P1"]
	c := kinematics.Constraints{Hold: true, HoldReason: train.HaltPrecedence}
	for now := 12; now < 20; now++ {
		kinematics.Step(tr, rt, nil, c, float64(now), 1)
	}
	assert.Equal(t, 2.0, rt.RemainingDwellMin)
	assert.Equal(t, train.HaltPrecedence, rt.HaltReason)
}

func TestStep_SpeedCap(t *testing.T) {
	tr := downline(t, "P1", train.Passenger)
	s := stateFor(tr)
	cap20 := func(train.ID, float64, kinematics.State) kinematics.Constraints {
		return kinematics.Constraints{Capped: true, CapKmph: 20}
	}
	run([]kinematics.Train{tr}, s, nil, cap20, 10)

	for _, v := range s["P1"].SpeedSamples {
		assert.LessOrEqual(t, v, 20.0+1e-9)
	}

	zero := func(train.ID, float64, kinematics.State) kinematics.Constraints {
		return kinematics.Constraints{Capped: true, CapKmph: 0}
	}
	kinematics.Advance([]kinematics.Train{tr}, s, nil, zero, 10, 1)
	assert.Equal(t, train.HaltHold, s["P1"].HaltReason)
}

func TestAdvance_ResolvesFromPriorTickState(t *testing.T) {
	a := downline(t, "P1", train.Passenger)
	b := downline(t, "P2", train.Passenger)
	fleet := []kinematics.Train{a, b}
	s := stateFor(fleet...)
	run(fleet, s, nil, nil, 4)

	before := s["P1"].DistanceKm
	var seen float64
	resolve := func(id train.ID, _ float64, st kinematics.State) kinematics.Constraints {
		if id == "P2" {
			seen = st["P1"].DistanceKm
		}
		return kinematics.Constraints{}
	}
	kinematics.Advance(fleet, s, nil, resolve, 4, 1)
	assert.Equal(t, before, seen)
	assert.NotEqual(t, before, s["P1"].DistanceKm)
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	tr := downline(t, "P1", train.Passenger)
	s := stateFor(tr)
	run([]kinematics.Train{tr}, s, nil, nil, 3)
	snapshot := s["P1"].Clone()

	var ticks int
	p := kinematics.Project([]kinematics.Train{tr}, s, nil, nil, 3, 30, 1, func(float64, kinematics.State) { ticks++ })

	assert.Equal(t, 30, ticks)
	assert.Equal(t, snapshot, s["P1"])
	assert.Equal(t, train.StatusCompleted, p["P1"].Status)
}

func TestProfiles(t *testing.T) {
	_, err := kinematics.ProfileFor(train.Config{TrainID: "x", SpeedKmph: 80, SpeedProfile: train.SpeedProfile{Model: "warp"}})
	assert.ErrorIs(t, err, kinematics.ErrUnknownModel)

	zoned, err := kinematics.ProfileFor(train.Config{SpeedKmph: 80})
	require.NoError(t, err)
	assert.Equal(t, 80.0, zoned.Cruise())
	assert.Equal(t, 40.0, zoned.TargetSpeed(0.2, 5))
	assert.Equal(t, 40.0, zoned.TargetSpeed(5, 0.5))
	assert.Equal(t, 80.0, zoned.TargetSpeed(5, 5))

	ramp, err := kinematics.ProfileFor(train.Config{SpeedKmph: 100, SpeedProfile: train.SpeedProfile{
		Model: kinematics.RampModelName, Slow: 20, ZoneKm: 2,
	}})
	require.NoError(t, err)
	prev := 0.0
	for d := 0.0; d <= 3; d += 0.25 {
		v := ramp.TargetSpeed(d, 10)
		assert.GreaterOrEqual(t, v, prev)
		assert.LessOrEqual(t, v, ramp.Cruise())
		prev = v
	}
	assert.Equal(t, 60.0, ramp.TargetSpeed(1, 10))
}

func TestStep_StopsAtEntryOfBlockedSection(t *testing.T) {
	cor, err := topology.NewCorridor([]topology.Station{
		{Code: "A", DistanceKm: 0},
		{Code: "X", DistanceKm: 10},
		{Code: "Y", DistanceKm: 11},
		{Code: "Z", DistanceKm: 40},
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		typ     train.Type
		speed   float64
		from    string
		to      string
		dt      float64
		entryKm float64
	}{
		{name: "freight long ticks", typ: train.Freight, speed: 60, from: "A", to: "Z", dt: 5, entryKm: 10},
		{name: "fast passenger", typ: train.Passenger, speed: 150, from: "A", to: "Z", dt: 1, entryKm: 10},
		{name: "upline freight", typ: train.Freight, speed: 60, from: "Z", to: "A", dt: 5, entryKm: 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := train.Resolve(cor, train.Config{TrainID: "T1", Type: tt.typ, SpeedKmph: tt.speed, Stops: []train.Stop{
				{StationCode: tt.from, ScheduledMin: 0}, {StationCode: tt.to, ScheduledMin: 60},
			}})
			require.NoError(t, err)
			tr, err := kinematics.NewTrain(r)
			require.NoError(t, err)
			idx := disruption.NewIndex(cor, []disruption.Disruption{{
				ID: "block", Type: disruption.TypeBlockage, StartStation: "X", EndStation: "Y",
				StartAtMin: 0, DurationMin: 1000,
				SpeedReduction: map[train.Type]float64{tt.typ: 0},
			}})
			fleet := []kinematics.Train{tr}
			s := stateFor(tr)

			for now := 0.0; now < 100; now += tt.dt {
				kinematics.Advance(fleet, s, idx, nil, now, tt.dt)
			}

			rt := s["T1"]
			assert.Equal(t, tt.entryKm, rt.DistanceKm)
			assert.Equal(t, train.StatusHalted, rt.Status)
			assert.Equal(t, train.HaltBlocked, rt.HaltReason)
			assert.NotContains(t, rt.ActualTimes, tt.to)
		})
	}
}

func TestStep_InactiveRestrictionAheadIsNotAStop(t *testing.T) {
	tr := newTrain(t, "F1", train.Freight,
		train.Stop{StationCode: "A", ScheduledMin: 0},
		train.Stop{StationCode: "C", ScheduledMin: 30},
	)
	s := stateFor(tr)
	idx := disruption.NewIndex(corridor(t), []disruption.Disruption{{
		ID: "later", StartStation: "B", EndStation: "C", StartAtMin: 500, DurationMin: 10,
		SpeedReduction: map[train.Type]float64{train.Freight: 0},
	}})
	for now := 0.0; now < 60; now += 5 {
		kinematics.Advance([]kinematics.Train{tr}, s, idx, nil, now, 5)
	}
	assert.Equal(t, train.StatusCompleted, s["F1"].Status)
}

func TestStep_HeldAtOriginReportsDispatcherReason(t *testing.T) {
	tr := newTrain(t, "F1", train.Freight,
		train.Stop{StationCode: "A", ScheduledMin: 2},
		train.Stop{StationCode: "C", ScheduledMin: 40},
	)
	rt := train.NewRuntime(tr.Route)

	kinematics.Step(tr, rt, nil, kinematics.Constraints{}, 0, 1)
	assert.Equal(t, train.HaltScheduled, rt.HaltReason)

	kinematics.Step(tr, rt, nil, kinematics.Constraints{Hold: true, HoldReason: train.HaltPrecedence}, 1, 1)
	assert.Equal(t, train.HaltPrecedence, rt.HaltReason)
	assert.False(t, rt.Departed())

	kinematics.Step(tr, rt, nil, kinematics.Constraints{Hold: true}, 2, 1)
	assert.Equal(t, train.HaltHold, rt.HaltReason)
	assert.Equal(t, 1.0, rt.DelayMin)
	assert.False(t, rt.Departed())
	assert.Equal(t, 0.0, rt.DistanceKm)

	kinematics.Step(tr, rt, nil, kinematics.Constraints{}, 3, 1)
	assert.True(t, rt.Departed())
	assert.Equal(t, 3.0, rt.ActualTimes["A"])
	assert.Equal(t, train.StatusRunning, rt.Status)
}
