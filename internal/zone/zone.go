// Package zone holds the static WBGT zone catalog: work/rest durations and the
// stringency order used to size rest periods.
package zone

import (
	"fmt"
	"strings"
	"time"
)

// ID identifies a heat-stress zone. The empty ID means "no zone".
type ID string

const (
	White  ID = "white"
	Green  ID = "green"
	Yellow ID = "yellow"
	Red    ID = "red"
	Black  ID = "black"
	CutOff ID = "cut-off"
	// Test is a short-duration zone for exercising the cycle end to end.
	Test ID = "test"
)

// Spec describes the prescribed cycle for a zone.
type Spec struct {
	ID   ID
	Work time.Duration
	Rest time.Duration
	// Rank orders zones by stringency; higher is more restrictive.
	Rank int
}

var catalog = map[ID]Spec{
	White:  {ID: White, Work: 60 * time.Minute, Rest: 15 * time.Minute, Rank: 0},
	Green:  {ID: Green, Work: 45 * time.Minute, Rest: 15 * time.Minute, Rank: 1},
	Yellow: {ID: Yellow, Work: 30 * time.Minute, Rest: 15 * time.Minute, Rank: 2},
	Red:    {ID: Red, Work: 30 * time.Minute, Rest: 30 * time.Minute, Rank: 3},
	Black:  {ID: Black, Work: 15 * time.Minute, Rest: 30 * time.Minute, Rank: 4},
	CutOff: {ID: CutOff, Work: 0, Rest: 30 * time.Minute, Rank: 5},
	Test:   {ID: Test, Work: 7 * time.Second, Rest: 10 * time.Second, Rank: 6},
}

// All returns the catalog ordered from least to most stringent.
func All() []Spec {
	out := make([]Spec, len(catalog))
	for _, spec := range catalog {
		out[spec.Rank] = spec
	}
	return out
}

// Lookup returns the spec for id.
func Lookup(id ID) (Spec, bool) {
	spec, ok := catalog[id]
	return spec, ok
}

// Parse normalises user input into a known zone.
func Parse(raw string) (ID, error) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := catalog[id]; !ok {
		return "", fmt.Errorf("unknown zone %q", raw)
	}
	return id, nil
}

// Rank reports the stringency rank of id. Unknown or empty zones rank as white.
func Rank(id ID) int {
	return catalog[id].Rank
}

// MostStringent returns whichever zone is more restrictive. Ties favour current.
// An empty previous always yields current.
func MostStringent(current, previous ID) ID {
	if previous == "" {
		return current
	}
	if Rank(current) >= Rank(previous) {
		return current
	}
	return previous
}

// WorkDuration returns the work period for id, defaulting to white's.
func WorkDuration(id ID) time.Duration {
	if spec, ok := catalog[id]; ok {
		return spec.Work
	}
	return catalog[White].Work
}

// RestDurationFor returns the rest period owed for id, defaulting to white's.
func RestDurationFor(id ID) time.Duration {
	if spec, ok := catalog[id]; ok {
		return spec.Rest
	}
	return catalog[White].Rest
}
