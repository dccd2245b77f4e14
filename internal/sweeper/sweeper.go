// Package sweeper runs the recurring passes that complete expired work and
// rest cycles and retire idle conducts.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/observability"
)

const (
	sweepCycles   = "cycles"
	sweepConducts = "conducts"
)

// Engine is the subset of the cycle engine the sweeper drives.
type Engine interface {
	ActiveCycles(ctx context.Context) ([]domain.Participant, error)
	StaleConducts(ctx context.Context, idle time.Duration) ([]domain.Conduct, error)
	CompleteWork(ctx context.Context, participantID string) (bool, error)
	CompleteRest(ctx context.Context, participantID string) (bool, error)
	DeactivateIfIdle(ctx context.Context, c domain.Conduct) (bool, error)
}

// Option configures optional behaviour for the Sweeper.
type Option func(*Sweeper)

// WithLogger overrides the sweeper logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithInterval sets the period of the cycle sweep.
func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithConductSweepEvery runs the conduct sweep on every nth cycle tick.
func WithConductSweepEvery(n int) Option {
	return func(s *Sweeper) {
		if n > 0 {
			s.conductEvery = n
		}
	}
}

// WithInactivityThreshold sets how long a conduct may go without activity
// before it is deactivated.
func WithInactivityThreshold(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.threshold = d
		}
	}
}

// Sweeper periodically completes expired cycles and deactivates stale conducts.
type Sweeper struct {
	engine       Engine
	logger       *slog.Logger
	interval     time.Duration
	conductEvery int
	threshold    time.Duration

	shutdownComplete chan struct{}
}

// New constructs a Sweeper with a one second cycle sweep, a conduct sweep on
// every 60th tick and a 24 hour inactivity threshold.
func New(engine Engine, opts ...Option) *Sweeper {
	s := &Sweeper{
		engine:           engine,
		logger:           slog.Default().With(slog.String("component", "sweeper")),
		interval:         time.Second,
		conductEvery:     60,
		threshold:        24 * time.Hour,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs both sweeps until ctx is cancelled. It should be called in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		close(s.shutdownComplete)
	}()

	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.SweepCycles(ctx)
		if tick%s.conductEvery == 0 {
			s.SweepConducts(ctx)
		}
	}
}

// Wait blocks until Start returns.
func (s *Sweeper) Wait() {
	<-s.shutdownComplete
}

// SweepCycles evaluates every working and resting participant once and
// returns the number of transitions that fired. A failing row is logged and
// skipped.
func (s *Sweeper) SweepCycles(ctx context.Context) int {
	start := time.Now()
	defer func() { observability.ObserveSweep(sweepCycles, time.Since(start)) }()

	participants, err := s.engine.ActiveCycles(ctx)
	if err != nil {
		s.logger.Error("list active cycles", slog.Any("error", err))
		observability.RecordSweepError(sweepCycles)
		return 0
	}

	fired := 0
	for _, p := range participants {
		if ctx.Err() != nil {
			return fired
		}

		var (
			done bool
			err  error
		)
		switch p.Phase {
		case domain.PhaseWorking:
			done, err = s.engine.CompleteWork(ctx, p.ID)
		case domain.PhaseResting:
			done, err = s.engine.CompleteRest(ctx, p.ID)
		default:
			continue
		}
		if err != nil {
			s.logger.Warn("cycle sweep row failed",
				slog.String("conduct_id", p.ConductID), slog.String("participant_id", p.ID), slog.Any("error", err))
			observability.RecordSweepError(sweepCycles)
			continue
		}
		if done {
			fired++
		}
	}
	return fired
}

// SweepConducts deactivates active conducts idle for longer than the
// threshold and returns how many were deactivated.
func (s *Sweeper) SweepConducts(ctx context.Context) int {
	start := time.Now()
	defer func() { observability.ObserveSweep(sweepConducts, time.Since(start)) }()

	stale, err := s.engine.StaleConducts(ctx, s.threshold)
	if err != nil {
		s.logger.Error("list stale conducts", slog.Any("error", err))
		observability.RecordSweepError(sweepConducts)
		return 0
	}

	deactivated := 0
	for _, c := range stale {
		if ctx.Err() != nil {
			return deactivated
		}
		ok, err := s.engine.DeactivateIfIdle(ctx, c)
		if err != nil {
			s.logger.Warn("conduct sweep row failed", slog.String("conduct_id", c.ID), slog.Any("error", err))
			observability.RecordSweepError(sweepConducts)
			continue
		}
		if ok {
			s.logger.Info("conduct deactivated", slog.String("conduct_id", c.ID))
			deactivated++
		}
	}
	return deactivated
}
