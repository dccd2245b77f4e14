// Package clock produces civil time for the cycle engine and reconstructs
// stored wall-clock-of-day values into full timestamps.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock reports the current civil time truncated to whole seconds.
type Clock interface {
	Now() time.Time
}

// Civil is a Clock pinned to a fixed timezone.
type Civil struct {
	loc *time.Location
}

// NewCivil loads the named timezone.
func NewCivil(name string) (*Civil, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Civil{loc: loc}, nil
}

// Now implements Clock.
func (c *Civil) Now() time.Time {
	return time.Now().In(c.loc).Truncate(time.Second)
}

// Location returns the clock's timezone.
func (c *Civil) Location() *time.Location {
	return c.loc
}

// Fake is a manually driven Clock for tests and replay tooling.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake positioned at now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now.Truncate(time.Second)}
}

// Now implements Clock.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.Truncate(time.Second)
}

// Advance moves the clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d).Truncate(time.Second)
}
