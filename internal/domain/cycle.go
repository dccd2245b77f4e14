package domain

import (
	"time"

	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/zone"
)

// StartWork begins or overwrites a work cycle in zone z. override lifts the
// resting and pending-rest guards.
//
// While a work cycle is still running the new zone's limit is measured from the
// start of that cycle and the earlier of the two deadlines wins, so a stricter
// zone can only shorten the remaining time.
func StartWork(p Participant, z zone.ID, now time.Time, override bool) (Participant, error) {
	if !p.IsTrainer() {
		return p, ErrNotTrainer
	}
	if _, ok := zone.Lookup(z); !ok {
		return p, ErrUnknownZone
	}
	if !override {
		switch p.Phase {
		case PhaseResting:
			return p, ErrResting
		case PhaseWorkComplete:
			return p, ErrPendingRest
		}
	}

	end := now.Add(zone.WorkDuration(z))
	cycleStart := clock.Wall(now)

	if p.Phase == PhaseWorking && !p.EndTime.IsZero() {
		current, err := clock.Resolve(now, p.StartTime, p.EndTime)
		if err == nil && current.After(now) {
			began := now
			if !p.CycleStart.IsZero() {
				if at, err := clock.Latest(now, p.CycleStart); err == nil {
					began = at
					cycleStart = p.CycleStart
				}
			}
			proposed := began.Add(zone.WorkDuration(z))
			if proposed.Before(now) {
				proposed = now
			}
			end = current
			if proposed.Before(current) {
				end = proposed
			}
		}
	}

	next := p
	next.Phase = PhaseWorking
	next.Zone = z
	next.StartTime = clock.Wall(now)
	next.EndTime = clock.Wall(end)
	next.CycleStart = cycleStart
	next.MostStringentZone = zone.MostStringent(z, p.MostStringentZone)
	next.UpdatedAt = now
	return next, nil
}

// CompleteWork finishes an expired work cycle. It reports false when the
// participant is not working or the cycle has not yet expired.
func CompleteWork(p Participant, now time.Time) (Participant, bool, error) {
	if p.Phase != PhaseWorking || p.EndTime.IsZero() {
		return p, false, nil
	}
	expired, err := clock.Expired(now, p.StartTime, p.EndTime)
	if err != nil || !expired {
		return p, false, err
	}
	next := p
	next.Phase = PhaseWorkComplete
	next.UpdatedAt = now
	return next, true, nil
}

// RestZone is the zone a rest period is sized from: the most stringent zone of
// the preceding work period, else the current zone.
func RestZone(p Participant) zone.ID {
	if p.MostStringentZone != "" {
		return p.MostStringentZone
	}
	return p.Zone
}

// StartRest begins a rest period sized by RestZone and returns its duration.
func StartRest(p Participant, now time.Time) (Participant, time.Duration, error) {
	if !p.IsTrainer() {
		return p, 0, ErrNotTrainer
	}
	restZone := RestZone(p)
	rest := zone.RestDurationFor(restZone)

	next := p
	next.Phase = PhaseResting
	if next.Zone == "" {
		next.Zone = restZone
		if next.Zone == "" {
			next.Zone = zone.White
		}
	}
	next.StartTime = clock.Wall(now)
	next.EndTime = clock.Wall(now.Add(rest))
	next.CycleStart = ""
	next.MostStringentZone = ""
	next.UpdatedAt = now
	return next, rest, nil
}

// CompleteRest resets a participant whose rest period has expired and returns
// the scheduled end of that period.
func CompleteRest(p Participant, now time.Time) (Participant, time.Time, bool, error) {
	if p.Phase != PhaseResting || p.EndTime.IsZero() {
		return p, time.Time{}, false, nil
	}
	endAt, err := clock.Resolve(now, p.StartTime, p.EndTime)
	if err != nil {
		return p, time.Time{}, false, err
	}
	if now.Before(endAt) {
		return p, time.Time{}, false, nil
	}
	return Reset(p, now), endAt, true, nil
}

// Reset returns p in the full idle state.
func Reset(p Participant, now time.Time) Participant {
	next := p
	next.Phase = PhaseIdle
	next.Zone = ""
	next.StartTime = ""
	next.EndTime = ""
	next.CycleStart = ""
	next.MostStringentZone = ""
	next.UpdatedAt = now
	return next
}

// ForceRest places p in a mandatory rest of duration d regardless of its cycle.
func ForceRest(p Participant, now time.Time, d time.Duration) Participant {
	next := Reset(p, now)
	next.Phase = PhaseResting
	next.Zone = zone.CutOff
	next.StartTime = clock.Wall(now)
	next.EndTime = clock.Wall(now.Add(d))
	return next
}
