package clock

import (
	"fmt"
	"time"
)

const wallLayout = "15:04:05"

// rolloverWindow bounds how far apart a start and end may be before the end is
// read as belonging to the next day. Cycles are assumed never to exceed it.
const rolloverWindow = 12

// WallTime is a wall-clock-of-day value ("HH:MM:SS"). The zero value means unset.
type WallTime string

// Wall formats t as a WallTime.
func Wall(t time.Time) WallTime {
	return WallTime(t.Format(wallLayout))
}

// IsZero reports whether w is unset.
func (w WallTime) IsZero() bool {
	return w == ""
}

// String implements fmt.Stringer.
func (w WallTime) String() string {
	return string(w)
}

// Parse splits w into hour, minute and second.
func (w WallTime) Parse() (hour, minute, second int, err error) {
	t, err := time.Parse(wallLayout, string(w))
	if err != nil {
		return 0, 0, 0, fmt.Errorf("parse wall time %q: %w", string(w), err)
	}
	return t.Hour(), t.Minute(), t.Second(), nil
}

// On places w on the calendar day of day, in day's location.
func (w WallTime) On(day time.Time) (time.Time, error) {
	h, m, s, err := w.Parse()
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.Date()
	return time.Date(y, mo, d, h, m, s, 0, day.Location()), nil
}

// Resolve reconstructs the full timestamp of end for a cycle that began at
// start, as observed at now.
//
// The cycle is anchored on today; when start read on today lies more than
// twelve hours ahead of now the cycle began yesterday. An end hour that is more
// than twelve hours below the start hour belongs to the day after the anchor.
func Resolve(now time.Time, start, end WallTime) (time.Time, error) {
	anchor := now
	var startHour int
	if !start.IsZero() {
		startAt, err := start.On(now)
		if err != nil {
			return time.Time{}, err
		}
		if startAt.Sub(now) > rolloverWindow*time.Hour {
			anchor = now.AddDate(0, 0, -1)
		}
		startHour = startAt.Hour()
	}

	endAt, err := end.On(anchor)
	if err != nil {
		return time.Time{}, err
	}
	if !start.IsZero() && endAt.Hour() < startHour && startHour-endAt.Hour() > rolloverWindow {
		endAt = endAt.AddDate(0, 0, 1)
	}
	return endAt, nil
}

// Latest returns the most recent occurrence of w at or before now.
func Latest(now time.Time, w WallTime) (time.Time, error) {
	at, err := w.On(now)
	if err != nil {
		return time.Time{}, err
	}
	if at.After(now) {
		at = at.AddDate(0, 0, -1)
	}
	return at, nil
}

// Expired reports whether a cycle from start to end has run out at now.
func Expired(now time.Time, start, end WallTime) (bool, error) {
	endAt, err := Resolve(now, start, end)
	if err != nil {
		return false, err
	}
	return !now.Before(endAt), nil
}
