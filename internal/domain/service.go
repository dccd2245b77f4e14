// Package domain defines the cycle engine: participant work/rest transitions,
// the conduct-wide cut-off override and the conduct lifecycle.
package domain

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/wbgt/internal/cache"
	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/cutoff"
	"example.com/wbgt/internal/observability"
	"example.com/wbgt/internal/zone"
)

const (
	defaultMandatoryRest = 30 * time.Minute
	pinAttempts          = 10
)

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger used to report swallowed failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithInvalidator sets the read cache invalidated after every mutation.
func WithInvalidator(inv cache.Invalidator) Option {
	return func(s *Service) {
		s.invalidator = inv
	}
}

// WithMandatoryRest overrides the rest enforced after a cut-off is lifted.
func WithMandatoryRest(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.mandatoryRest = d
		}
	}
}

// WithSupervisorJoinCode requires code from conducting bodies joining a conduct.
func WithSupervisorJoinCode(code string) Option {
	return func(s *Service) {
		s.joinCode = code
	}
}

// Service orchestrates cycle workflows.
type Service struct {
	store         Store
	clock         clock.Clock
	overrides     *cutoff.Registry
	invalidator   cache.Invalidator
	logger        *slog.Logger
	mandatoryRest time.Duration
	joinCode      string
}

// NewService constructs a Service.
func NewService(store Store, clk clock.Clock, overrides *cutoff.Registry, opts ...Option) *Service {
	s := &Service{
		store:         store,
		clock:         clk,
		overrides:     overrides,
		invalidator:   cache.NoopInvalidator{},
		logger:        slog.Default(),
		mandatoryRest: defaultMandatoryRest,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the engine's current civil time.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// StartWork begins or overwrites the participant's work cycle in zone z.
func (s *Service) StartWork(ctx context.Context, participantID string, z zone.ID, caller Caller) (*Participant, error) {
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := authorizeSelf(caller, *p); err != nil {
		return nil, err
	}
	if _, ok := zone.Lookup(z); !ok {
		return nil, ErrUnknownZone
	}

	now := s.clock.Now()
	if !caller.Supervisor() {
		status := s.overrides.Get(p.ConductID)
		if status.CutOff {
			return nil, ErrCutOffActive
		}
		if status.MandatoryRest(now) {
			return nil, ErrMandatoryRest
		}
	}

	c, err := s.transition(ctx, participantID, func(current Participant) (*Commit, error) {
		next, err := StartWork(current, z, now, caller.Supervisor())
		if err != nil {
			return nil, err
		}
		entry := NewActivity(next.ConductID, next.Name, ActionStartWork, z, "", now)
		return &Commit{
			Participant: next,
			Entry:       &entry,
			Events:      []Event{ParticipantUpdatedEvent(next, now)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &c.Participant, nil
}

// StopCycle ends the participant's cycle early and returns them to idle.
func (s *Service) StopCycle(ctx context.Context, participantID string, caller Caller) (*Participant, error) {
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if err := authorizeSelf(caller, *p); err != nil {
		return nil, err
	}
	if !p.IsTrainer() {
		return nil, ErrNotTrainer
	}

	now := s.clock.Now()
	c, err := s.transition(ctx, participantID, func(current Participant) (*Commit, error) {
		next := Reset(current, now)
		entry := NewActivity(current.ConductID, current.Name, ActionEarlyCompletion, current.Zone, "", now)
		return &Commit{
			Participant: next,
			Entry:       &entry,
			Events:      []Event{ParticipantUpdatedEvent(next, now)},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &c.Participant, nil
}

// StartRest begins the rest period owed by the named participant and returns
// its length. The rest is sized by the most stringent zone of the preceding
// work period.
func (s *Service) StartRest(ctx context.Context, conductID, name string, caller Caller) (*Participant, time.Duration, error) {
	p, err := s.GetState(ctx, conductID, name)
	if err != nil {
		return nil, 0, err
	}
	if err := authorizeSelf(caller, *p); err != nil {
		return nil, 0, err
	}

	now := s.clock.Now()
	var rest time.Duration
	c, err := s.transition(ctx, p.ID, func(current Participant) (*Commit, error) {
		restZone := RestZone(current)
		if restZone == "" {
			restZone = zone.White
		}
		next, d, err := StartRest(current, now)
		if err != nil {
			return nil, err
		}
		rest = d
		details := fmt.Sprintf("Started %s rest period (based on most stringent zone: %s)", formatRest(d), restZone)
		entry := NewActivity(next.ConductID, next.Name, ActionStartRest, next.Zone, details, now)
		return &Commit{
			Participant: next,
			Entry:       &entry,
			Events:      []Event{ParticipantUpdatedEvent(next, now)},
		}, nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &c.Participant, rest, nil
}

// CompleteWork finishes the participant's work cycle when it has expired. It
// reports whether a transition fired; re-observing a finished cycle is a no-op.
func (s *Service) CompleteWork(ctx context.Context, participantID string) (bool, error) {
	now := s.clock.Now()
	_, err := s.transition(ctx, participantID, func(current Participant) (*Commit, error) {
		next, fired, err := CompleteWork(current, now)
		if err != nil {
			return nil, err
		}
		if !fired {
			return nil, ErrNoChange
		}
		entry := NewActivity(current.ConductID, current.Name, ActionCompletedWork, current.Zone, "", now)
		return &Commit{
			Participant: next,
			Entry:       &entry,
			Events: []Event{
				ParticipantUpdatedEvent(next, now),
				WorkCycleCompletedEvent(next),
			},
		}, nil
	})
	return outcome(err)
}

// CompleteRest resets the participant when their rest period has expired. The
// audit entry carries the scheduled end of the rest, not the observation time.
func (s *Service) CompleteRest(ctx context.Context, participantID string) (bool, error) {
	now := s.clock.Now()
	_, err := s.transition(ctx, participantID, func(current Participant) (*Commit, error) {
		next, scheduledEnd, fired, err := CompleteRest(current, now)
		if err != nil {
			return nil, err
		}
		if !fired {
			return nil, ErrNoChange
		}
		entry := NewActivity(current.ConductID, current.Name, ActionCompletedRest, current.Zone, "", scheduledEnd)
		return &Commit{
			Participant: next,
			Entry:       &entry,
			Events: []Event{
				ParticipantUpdatedEvent(next, now),
				RestCycleCompletedEvent(next, current.Zone),
			},
		}, nil
	})
	return outcome(err)
}

// RenotifyWorkComplete re-sends the work-complete prompt to a participant who
// has finished work but not yet started rest. An expired cycle the sweeper has
// not reached yet is completed first.
func (s *Service) RenotifyWorkComplete(ctx context.Context, participantID string, caller Caller) (bool, error) {
	p, err := s.participant(ctx, participantID)
	if err != nil {
		return false, err
	}
	if err := authorizeSelf(caller, *p); err != nil {
		return false, err
	}

	if p.Phase == PhaseWorking {
		return s.CompleteWork(ctx, participantID)
	}
	if p.Phase != PhaseWorkComplete {
		return false, nil
	}
	if err := s.store.Enqueue(ctx, WorkCycleCompletedEvent(*p)); err != nil {
		s.logger.Warn("enqueue work complete reminder failed",
			slog.String("participant_id", p.ID), slog.Any("error", err))
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return true, nil
}

// ToggleCutOff flips the conduct's cut-off. Turning it on idles every trainer;
// turning it off places every trainer in the mandatory rest.
func (s *Service) ToggleCutOff(ctx context.Context, conductID string, caller Caller) (cutoff.Status, error) {
	if err := authorizeSupervisor(caller, conductID); err != nil {
		return cutoff.Status{}, err
	}
	if _, err := s.conduct(ctx, conductID); err != nil {
		return cutoff.Status{}, err
	}

	now := s.clock.Now()
	status := s.overrides.Toggle(conductID, now, s.mandatoryRest)

	trainers, err := s.trainers(ctx, conductID)
	if err != nil {
		return status, err
	}

	var errs []error
	for _, t := range trainers {
		_, err := s.transition(ctx, t.ID, func(current Participant) (*Commit, error) {
			if !current.IsTrainer() {
				return nil, ErrNoChange
			}
			var (
				next  Participant
				entry ActivityEntry
			)
			if status.CutOff {
				if current.Phase == PhaseIdle {
					return nil, ErrNoChange
				}
				next = Reset(current, now)
				entry = NewActivity(conductID, current.Name, ActionCutOffApplied, current.Zone, "", now)
			} else {
				next = ForceRest(current, now, s.mandatoryRest)
				details := fmt.Sprintf("Mandatory %s rest after cut-off lifted", formatRest(s.mandatoryRest))
				entry = NewActivity(conductID, current.Name, ActionMandatoryRest, next.Zone, details, now)
			}
			return &Commit{
				Participant: next,
				Entry:       &entry,
				Events:      []Event{ParticipantUpdatedEvent(next, now)},
			}, nil
		})
		if err != nil && !errors.Is(err, ErrNoChange) {
			s.logger.Error("cut-off transition failed",
				slog.String("conduct_id", conductID), slog.String("participant_id", t.ID), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	action, details := ActionCutOffActivated, "Cut-off activated; all trainers stopped"
	if !status.CutOff {
		action = ActionCutOffLifted
		details = fmt.Sprintf("Cut-off lifted; mandatory rest until %s", status.EndTime())
	}
	entry := NewActivity(conductID, caller.Name, action, "", details, now)
	if err := s.store.AppendActivity(ctx, entry, SystemStatusEvent(conductID, status, now)); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrStorage, err))
	}
	return status, errors.Join(errs...)
}

// ClearAll resets every trainer in the conduct and lifts any override.
func (s *Service) ClearAll(ctx context.Context, conductID string, caller Caller) error {
	if err := authorizeSupervisor(caller, conductID); err != nil {
		return err
	}
	if _, err := s.conduct(ctx, conductID); err != nil {
		return err
	}

	now := s.clock.Now()
	trainers, err := s.trainers(ctx, conductID)
	if err != nil {
		return err
	}

	var errs []error
	for _, t := range trainers {
		_, err := s.transition(ctx, t.ID, func(current Participant) (*Commit, error) {
			if !current.IsTrainer() {
				return nil, ErrNoChange
			}
			next := Reset(current, now)
			entry := NewActivity(conductID, current.Name, ActionInterfaceReset, "", "Trainer interface reset by conducting body", now)
			return &Commit{
				Participant: next,
				Entry:       &entry,
				Events:      []Event{ParticipantUpdatedEvent(next, now)},
			}, nil
		})
		if err != nil && !errors.Is(err, ErrNoChange) {
			s.logger.Error("reset transition failed",
				slog.String("conduct_id", conductID), slog.String("participant_id", t.ID), slog.Any("error", err))
			errs = append(errs, err)
		}
	}

	status := s.overrides.Reset(conductID)
	entry := NewActivity(conductID, caller.Name, ActionClearCommands, "", "All commands cleared and trainer interfaces reset", now)
	if err := s.store.AppendActivity(ctx, entry, SystemStatusEvent(conductID, status, now)); err != nil {
		errs = append(errs, fmt.Errorf("%w: %v", ErrStorage, err))
	}
	return errors.Join(errs...)
}

// GetState returns the named participant of a conduct.
func (s *Service) GetState(ctx context.Context, conductID, name string) (*Participant, error) {
	p, err := s.store.FindParticipant(ctx, conductID, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}

// Participant returns a participant by id.
func (s *Service) Participant(ctx context.Context, participantID string) (*Participant, error) {
	return s.participant(ctx, participantID)
}

// Participants lists every participant of a conduct.
func (s *Service) Participants(ctx context.Context, conductID string) ([]Participant, error) {
	if _, err := s.conduct(ctx, conductID); err != nil {
		return nil, err
	}
	list, err := s.store.ListParticipants(ctx, conductID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return list, nil
}

// History returns a conduct's audit entries, most recent first. A limit of
// zero or less returns everything after cursor.
func (s *Service) History(ctx context.Context, conductID string, cursor *Cursor, limit int) ([]ActivityEntry, *Cursor, error) {
	entries, err := s.store.ListActivity(ctx, conductID, cursor, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	var next *Cursor
	if limit > 0 && len(entries) == limit {
		last := entries[len(entries)-1]
		next = &Cursor{Timestamp: last.Timestamp, ID: last.ID}
	}
	return entries, next, nil
}

// SystemStatus returns the conduct's override state.
func (s *Service) SystemStatus(ctx context.Context, conductID string) (cutoff.Status, error) {
	if _, err := s.conduct(ctx, conductID); err != nil {
		return cutoff.Status{}, err
	}
	return s.overrides.Get(conductID), nil
}

// Conduct returns a conduct by id.
func (s *Service) Conduct(ctx context.Context, conductID string) (*Conduct, error) {
	return s.conduct(ctx, conductID)
}

// CreateConduct opens a conduct under a freshly generated PIN.
func (s *Service) CreateConduct(ctx context.Context, name string) (*Conduct, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}

	now := s.clock.Now()
	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin, err := generatePIN()
		if err != nil {
			return nil, err
		}
		c := Conduct{
			ID:             uuid.NewString(),
			Name:           name,
			PIN:            pin,
			Status:         ConductActive,
			LastActivityAt: now,
			CreatedAt:      now,
		}
		err = s.store.CreateConduct(ctx, c)
		if errors.Is(err, ErrDuplicatePIN) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		s.overrides.Reset(c.ID)
		return &c, nil
	}
	return nil, fmt.Errorf("%w: no free conduct pin after %d attempts", ErrStorage, pinAttempts)
}

// JoinInput captures a join request.
type JoinInput struct {
	PIN      string
	Name     string
	Role     string
	JoinCode string
}

// JoinConduct adds a participant to the conduct behind PIN, or re-admits an
// existing one under the requested role. Joining reactivates an inactive
// conduct and refreshes its activity timestamp.
func (s *Service) JoinConduct(ctx context.Context, in JoinInput) (*Participant, *Conduct, error) {
	if !validPIN(in.PIN) {
		return nil, nil, ErrInvalidPIN
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, nil, ErrInvalidName
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return nil, nil, err
	}

	c, err := s.store.GetConductByPIN(ctx, in.PIN)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if c == nil {
		return nil, nil, ErrConductNotFound
	}
	if role == RoleConductingBody && s.joinCode != "" && in.JoinCode != s.joinCode {
		return nil, nil, ErrJoinCode
	}

	now := s.clock.Now()
	reactivated := c.Status == ConductInactive
	if err := s.store.UpdateConductStatus(ctx, c.ID, ConductActive, now); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	c.Status = ConductActive
	c.LastActivityAt = now
	if reactivated {
		entry := NewActivity(c.ID, SystemUser, ActionConductReactivated, "", "Conduct reactivated by "+name, now)
		if err := s.store.AppendActivity(ctx, entry, ConductStatusEvent(*c, now)); err != nil {
			s.logger.Warn("log conduct reactivation failed", slog.String("conduct_id", c.ID), slog.Any("error", err))
		}
	}

	p, err := s.store.FindParticipant(ctx, c.ID, name)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if p == nil {
		p = &Participant{
			ID:        uuid.NewString(),
			ConductID: c.ID,
			Name:      name,
			Phase:     PhaseIdle,
			CreatedAt: now,
		}
	}
	p.Role = role
	if role != RoleTrainer {
		*p = Reset(*p, now)
	}
	p.UpdatedAt = now
	if err := s.store.SaveParticipant(ctx, *p); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.invalidate(ctx, p.ID)

	update := ParticipantUpdatedEvent(*p, now)
	if role == RoleTrainer {
		entry := NewActivity(c.ID, name, ActionUserJoined, "", "", now)
		err = s.store.AppendActivity(ctx, entry, update)
	} else {
		err = s.store.Enqueue(ctx, update)
	}
	if err != nil {
		s.logger.Warn("announce join failed",
			slog.String("conduct_id", c.ID), slog.String("participant_id", p.ID), slog.Any("error", err))
	}
	return p, c, nil
}

// RemoveParticipant deletes a participant from the conduct roster.
func (s *Service) RemoveParticipant(ctx context.Context, conductID, name string, caller Caller) error {
	if err := authorizeSupervisor(caller, conductID); err != nil {
		return err
	}
	p, err := s.GetState(ctx, conductID, name)
	if err != nil {
		return err
	}
	if p.Role == RoleConductingBody {
		return ErrProtectedParticipant
	}
	if err := s.store.DeleteParticipant(ctx, p.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	s.invalidate(ctx, p.ID)

	now := s.clock.Now()
	entry := NewActivity(conductID, p.Name, ActionUserRemoved, "", "Removed from conduct by "+caller.Name, now)
	if err := s.store.AppendActivity(ctx, entry, ParticipantRemovedEvent(*p, now)); err != nil {
		s.logger.Warn("log removal failed",
			slog.String("conduct_id", conductID), slog.String("participant_id", p.ID), slog.Any("error", err))
	}
	return nil
}

// ActiveCycles lists every participant currently working or resting.
func (s *Service) ActiveCycles(ctx context.Context) ([]Participant, error) {
	return s.store.ListParticipantsByPhase(ctx, PhaseWorking, PhaseResting)
}

// StaleConducts lists active conducts without activity for longer than idle.
func (s *Service) StaleConducts(ctx context.Context, idle time.Duration) ([]Conduct, error) {
	return s.store.ListStaleConducts(ctx, s.clock.Now().Add(-idle))
}

// DeactivateIfIdle marks the conduct inactive unless someone is still working
// or resting in it. c is the row seen by the stale scan; a join or rejoin since
// then refreshes last_activity_at and leaves the conduct active.
func (s *Service) DeactivateIfIdle(ctx context.Context, c Conduct) (bool, error) {
	changed, err := s.store.DeactivateIdle(ctx, c.ID, c.LastActivityAt)
	if err != nil || !changed {
		return false, err
	}

	now := s.clock.Now()
	c.Status = ConductInactive
	s.overrides.Forget(c.ID)
	observability.RecordDeactivation()

	entry := NewActivity(c.ID, SystemUser, ActionConductDeactivated, "", "Conduct automatically deactivated after 24 hours of inactivity", now)
	if err := s.store.AppendActivity(ctx, entry, ConductStatusEvent(c, now)); err != nil {
		s.logger.Warn("log deactivation failed", slog.String("conduct_id", c.ID), slog.Any("error", err))
	}
	return true, nil
}

// transition runs fn under the store's per-row unit. When the combined write
// fails, the audit entry and the participant row are written separately.
func (s *Service) transition(ctx context.Context, participantID string, fn TransitionFunc) (*Commit, error) {
	c, err := s.store.Transition(ctx, participantID, fn)
	if err == nil {
		s.committed(ctx, c)
		return c, nil
	}
	if c == nil || !errors.Is(err, ErrStorage) {
		return nil, err
	}
	return s.fallback(ctx, c, err)
}

func (s *Service) fallback(ctx context.Context, c *Commit, cause error) (*Commit, error) {
	log := s.logger.With(
		slog.String("conduct_id", c.Participant.ConductID),
		slog.String("participant_id", c.Participant.ID),
	)
	log.Warn("combined commit failed, writing audit and state separately", slog.Any("error", cause))

	var auditErr error
	if c.Entry != nil {
		auditErr = s.store.AppendActivity(ctx, *c.Entry)
	}
	stateErr := s.store.SaveParticipant(ctx, c.Participant)

	switch {
	case stateErr != nil && (auditErr != nil || c.Entry == nil):
		observability.RecordFallback("failed")
		log.Error("fallback commit failed", slog.Any("audit_error", auditErr), slog.Any("state_error", stateErr))
		return nil, fmt.Errorf("%w: %v", ErrStorage, errors.Join(cause, auditErr, stateErr))
	case stateErr != nil:
		observability.RecordFallback("audit_only")
		log.Error("fallback state write failed", slog.Any("error", stateErr))
	case auditErr != nil:
		observability.RecordFallback("state_only")
		log.Error("fallback audit write failed", slog.Any("error", auditErr))
	default:
		observability.RecordFallback("split")
	}

	if stateErr == nil {
		if err := s.store.Enqueue(ctx, c.Events...); err != nil {
			log.Warn("enqueue events after fallback failed", slog.Any("error", err))
		}
	}
	s.committed(ctx, c)
	return c, nil
}

func (s *Service) committed(ctx context.Context, c *Commit) {
	s.invalidate(ctx, c.Participant.ID)
	if c.Entry != nil {
		observability.RecordTransition(string(c.Entry.Action), c.Participant.UpdatedAt)
	}
}

func (s *Service) invalidate(ctx context.Context, participantID string) {
	if err := s.invalidator.Invalidate(ctx, participantID); err != nil {
		s.logger.Warn("cache invalidation failed", slog.String("participant_id", participantID), slog.Any("error", err))
	}
}

func (s *Service) participant(ctx context.Context, id string) (*Participant, error) {
	p, err := s.store.GetParticipant(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if p == nil {
		return nil, ErrParticipantNotFound
	}
	return p, nil
}

func (s *Service) conduct(ctx context.Context, id string) (*Conduct, error) {
	c, err := s.store.GetConduct(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if c == nil {
		return nil, ErrConductNotFound
	}
	return c, nil
}

func (s *Service) trainers(ctx context.Context, conductID string) ([]Participant, error) {
	all, err := s.store.ListParticipants(ctx, conductID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	out := make([]Participant, 0, len(all))
	for _, p := range all {
		if p.IsTrainer() {
			out = append(out, p)
		}
	}
	return out, nil
}

// authorizeSelf lets trainers act on themselves and supervisors act on anyone
// in their conduct.
func authorizeSelf(caller Caller, target Participant) error {
	if caller.ConductID != target.ConductID {
		return ErrWrongConduct
	}
	if caller.Supervisor() || caller.ParticipantID == target.ID {
		return nil
	}
	return ErrNotOwner
}

func authorizeSupervisor(caller Caller, conductID string) error {
	if caller.ConductID != conductID {
		return ErrWrongConduct
	}
	if !caller.Supervisor() {
		return ErrNotSupervisor
	}
	return nil
}

func outcome(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNoChange):
		return false, nil
	default:
		return false, err
	}
}

func validPIN(pin string) bool {
	if len(pin) != 6 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func generatePIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
