package kinematics

import (
	"math"

	"github.com/cxd309/tms-dispatch/internal/disruption"
	"github.com/cxd309/tms-dispatch/internal/train"
)

// Constraints are the dispatcher restrictions in force for one train during
// one tick.
type Constraints struct {
	Hold       bool
	HoldReason train.HaltReason // HaltHold or HaltPrecedence
	Capped     bool
	CapKmph    float64
}

// Train is a resolved route together with its speed profile.
type Train struct {
	Route   train.Route
	Profile Profile
}

// NewTrain resolves a config's speed profile. The route must already be
// resolved against the corridor.
func NewTrain(r train.Route) (Train, error) {
	p, err := ProfileFor(r.Config)
	if err != nil {
		return Train{}, err
	}
	return Train{Route: r, Profile: p}, nil
}

// Event reports checkpoint activity of one train during one step.
type Event struct {
	TrainID   train.ID
	Departed  bool
	Arrived   bool
	Station   string
	DelayMin  float64
	Completed bool
}

// Step advances rt by dt simulated minutes starting at now. It reads only
// rt, the disruption index and c; completed trains are left untouched.
// Checkpoints reached during the step are stamped with now+dt.
func Step(tr Train, rt *train.Runtime, idx *disruption.Index, c Constraints, now, dt float64) Event {
	ev := Event{TrainID: rt.TrainID}
	if rt.Status == train.StatusCompleted || dt <= 0 {
		return ev
	}
	r := tr.Route
	end := now + dt
	startKm := rt.DistanceKm
	moveMin := dt

	switch {
	case !rt.Departed():
		origin := r.Stops[0]
		if now < origin.ScheduledMin || c.Hold {
			reason := train.HaltScheduled
			if c.Hold {
				reason = holdReason(c)
				if now >= origin.ScheduledMin {
					// Held past the scheduled departure: the lateness is real.
					rt.DelayMin = end - origin.ScheduledMin
				}
			}
			halt(rt, reason)
			record(rt, startKm, end, dt)
			return ev
		}
		rt.ActualTimes[origin.StationCode] = now
		rt.DelayMin = now - origin.ScheduledMin
		rt.Status = train.StatusRunning
		rt.HaltReason = train.HaltNone
		ev.Departed = true
		ev.Station = origin.StationCode
		ev.DelayMin = rt.DelayMin

	case rt.RemainingDwellMin > 0:
		if c.Hold {
			// The dwell clock is frozen while a hold is in force.
			halt(rt, c.HoldReason)
			record(rt, startKm, end, dt)
			return ev
		}
		rt.RemainingDwellMin -= dt
		if rt.RemainingDwellMin > 0 {
			halt(rt, train.HaltDwell)
			record(rt, startKm, end, dt)
			return ev
		}
		moveMin = -rt.RemainingDwellMin
		rt.RemainingDwellMin = 0
		rt.Status = train.StatusRunning
		rt.HaltReason = train.HaltNone
	}

	seg := rt.SegmentIndex
	from, to := r.Distances[seg], r.Distances[seg+1]
	sinceKm := math.Abs(rt.DistanceKm - from)
	toKm := math.Abs(to - rt.DistanceKm)

	speed := tr.Profile.TargetSpeed(sinceKm, toKm)
	factor := idx.SpeedFactor(now, rt.DistanceKm, r.Type)
	speed *= factor
	if c.Capped {
		speed = math.Min(speed, c.CapKmph)
	}

	switch {
	case c.Hold:
		speed = 0
		halt(rt, holdReason(c))
	case factor == 0:
		speed = 0
		halt(rt, train.HaltBlocked)
	case speed <= 0:
		// A speed cap of zero behaves like a hold.
		speed = 0
		halt(rt, train.HaltHold)
	}
	if speed == 0 || moveMin <= 0 {
		if speed > 0 {
			// Dwell ended exactly on the tick boundary; move next tick.
			rt.SpeedKmph = 0
		}
		rt.DelayMin = end - r.ScheduledAt(seg, rt.DistanceKm)
		record(rt, startKm, end, dt)
		return ev
	}

	step := speed * moveMin / 60
	if gap, ok := idx.NextRestriction(now, rt.DistanceKm, r.Direction, r.Type, factor); ok && gap < toKm && step >= gap {
		// Stop at the entry of a more restrictive section; its factor
		// applies from the next tick.
		step = gap
	}
	if step < toKm {
		rt.DistanceKm += float64(r.Direction) * step
		rt.SpeedKmph = speed
		rt.Status = train.StatusRunning
		rt.HaltReason = train.HaltNone
		rt.DelayMin = end - r.ScheduledAt(seg, rt.DistanceKm)
		record(rt, startKm, end, dt)
		return ev
	}

	// Reached the next stop: clamp, stamp the checkpoint and dwell.
	rt.DistanceKm = to
	rt.SpeedKmph = 0
	stop := r.Stops[seg+1]
	if _, seen := rt.ActualTimes[stop.StationCode]; !seen {
		rt.ActualTimes[stop.StationCode] = end
	}
	rt.DelayMin = rt.ActualTimes[stop.StationCode] - stop.ScheduledMin
	ev.Arrived = true
	ev.Station = stop.StationCode
	ev.DelayMin = rt.DelayMin

	if seg+1 == len(r.Stops)-1 {
		rt.Status = train.StatusCompleted
		rt.HaltReason = train.HaltNone
		ev.Completed = true
	} else {
		rt.SegmentIndex = seg + 1
		rt.RemainingDwellMin = r.Halts[seg+1]
		if rt.RemainingDwellMin > 0 {
			halt(rt, train.HaltDwell)
		} else {
			rt.Status = train.StatusRunning
			rt.HaltReason = train.HaltNone
		}
	}
	record(rt, startKm, end, dt)
	return ev
}

func holdReason(c Constraints) train.HaltReason {
	if c.HoldReason == train.HaltNone {
		return train.HaltHold
	}
	return c.HoldReason
}

func halt(rt *train.Runtime, reason train.HaltReason) {
	rt.Status = train.StatusHalted
	rt.HaltReason = reason
	rt.SpeedKmph = 0
}

// record appends the end-of-step history sample and the observed speed.
func record(rt *train.Runtime, startKm, end, dt float64) {
	rt.History = append(rt.History, train.Sample{TimeMin: end, DistanceKm: rt.DistanceKm})
	rt.SpeedSamples = append(rt.SpeedSamples, math.Abs(rt.DistanceKm-startKm)/dt*60)
}
