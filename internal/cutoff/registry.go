// Package cutoff keeps the per-conduct cut-off / mandatory-rest override.
//
// The state is process-scoped: it is created lazily per conduct, never
// persisted, and reads as "no cut-off" after a restart.
package cutoff

import (
	"sync"
	"time"

	"example.com/wbgt/internal/clock"
)

// Status is a conduct's override state.
type Status struct {
	CutOff bool
	// EndsAt is the end of the mandatory rest that follows a lifted cut-off.
	EndsAt time.Time
}

// EndTime renders EndsAt as a wall-clock value; unset when there is none.
func (s Status) EndTime() clock.WallTime {
	if s.EndsAt.IsZero() {
		return ""
	}
	return clock.Wall(s.EndsAt)
}

// MandatoryRest reports whether the post-cut-off rest window is open at now.
func (s Status) MandatoryRest(now time.Time) bool {
	return !s.EndsAt.IsZero() && now.Before(s.EndsAt)
}

// Registry holds Status by conduct id.
type Registry struct {
	mu       sync.Mutex
	statuses map[string]Status
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{statuses: make(map[string]Status)}
}

// Get returns the conduct's status, defaulting to no override.
func (r *Registry) Get(conductID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statuses[conductID]
}

// Toggle flips the cut-off. Turning it off opens a mandatory rest window of
// length rest starting at now.
func (r *Registry) Toggle(conductID string, now time.Time, rest time.Duration) Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := r.statuses[conductID]
	var next Status
	if current.CutOff {
		next = Status{CutOff: false, EndsAt: now.Add(rest)}
	} else {
		next = Status{CutOff: true}
	}
	r.statuses[conductID] = next
	return next
}

// Reset clears any override for the conduct.
func (r *Registry) Reset(conductID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[conductID] = Status{}
	return Status{}
}

// Forget drops the conduct's entry entirely.
func (r *Registry) Forget(conductID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.statuses, conductID)
}
