package cache

import "context"

// Invalidator defines a cache invalidation contract.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// NoopInvalidator is a no-op implementation.
type NoopInvalidator struct{}

// Invalidate performs no action.
func (NoopInvalidator) Invalidate(context.Context, string) error { return nil }

// Multi fans an invalidation out to several caches and returns the first error.
type Multi []Invalidator

// Invalidate implements Invalidator.
func (m Multi) Invalidate(ctx context.Context, key string) error {
	var firstErr error
	for _, inv := range m {
		if err := inv.Invalidate(ctx, key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
