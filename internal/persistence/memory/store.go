// Package memory is an in-process store for local development and tests. It
// implements the engine's store and doubles as the outbox source.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"example.com/wbgt/internal/domain"
	"example.com/wbgt/internal/outbox"
)

// Store keeps conducts, participants, the activity log and the outbox in
// memory behind a single mutex.
type Store struct {
	mu           sync.Mutex
	router       outbox.Router
	conducts     map[string]domain.Conduct
	participants map[string]domain.Participant
	activity     []domain.ActivityEntry
	activitySeq  int64
	pending      []outbox.Message
	outboxSeq    int64
	deadLetters  []DeadLetter
}

// DeadLetter is an outbox message the dispatcher failed to deliver.
type DeadLetter struct {
	Message outbox.Message
	Reason  string
}

// NewStore constructs an empty Store routing events through router.
func NewStore(router outbox.Router) *Store {
	return &Store{
		router:       router,
		conducts:     make(map[string]domain.Conduct),
		participants: make(map[string]domain.Participant),
	}
}

// GetParticipant implements domain.ParticipantStore.
func (s *Store) GetParticipant(_ context.Context, id string) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.participants[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// FindParticipant implements domain.ParticipantStore.
func (s *Store) FindParticipant(_ context.Context, conductID, name string) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.participants {
		if p.ConductID == conductID && p.Name == name {
			return &p, nil
		}
	}
	return nil, nil
}

// ListParticipants implements domain.ParticipantStore.
func (s *Store) ListParticipants(_ context.Context, conductID string) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Participant, 0)
	for _, p := range s.participants {
		if p.ConductID == conductID {
			out = append(out, p)
		}
	}
	sortParticipants(out)
	return out, nil
}

// ListParticipantsByPhase implements domain.ParticipantStore.
func (s *Store) ListParticipantsByPhase(_ context.Context, phases ...domain.Phase) ([]domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Participant, 0)
	for _, p := range s.participants {
		for _, phase := range phases {
			if p.Phase == phase {
				out = append(out, p)
				break
			}
		}
	}
	sortParticipants(out)
	return out, nil
}

// SaveParticipant implements domain.ParticipantStore.
func (s *Store) SaveParticipant(_ context.Context, p domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conducts[p.ConductID]; !ok {
		return domain.ErrConductNotFound
	}
	s.participants[p.ID] = p
	return nil
}

// DeleteParticipant implements domain.ParticipantStore.
func (s *Store) DeleteParticipant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.participants, id)
	return nil
}

// GetConduct implements domain.ConductStore.
func (s *Store) GetConduct(_ context.Context, id string) (*domain.Conduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conducts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

// GetConductByPIN implements domain.ConductStore.
func (s *Store) GetConductByPIN(_ context.Context, pin string) (*domain.Conduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.conducts {
		if c.PIN == pin {
			return &c, nil
		}
	}
	return nil, nil
}

// CreateConduct implements domain.ConductStore.
func (s *Store) CreateConduct(_ context.Context, c domain.Conduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.conducts {
		if existing.PIN == c.PIN {
			return domain.ErrDuplicatePIN
		}
	}
	s.conducts[c.ID] = c
	return nil
}

// UpdateConductStatus implements domain.ConductStore.
func (s *Store) UpdateConductStatus(_ context.Context, id string, status domain.ConductStatus, lastActivityAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conducts[id]
	if !ok {
		return domain.ErrConductNotFound
	}
	c.Status = status
	c.LastActivityAt = lastActivityAt
	s.conducts[id] = c
	return nil
}

// ListStaleConducts implements domain.ConductStore.
func (s *Store) ListStaleConducts(_ context.Context, before time.Time) ([]domain.Conduct, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Conduct, 0)
	for _, c := range s.conducts {
		if c.Status == domain.ConductActive && c.LastActivityAt.Before(before) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	return out, nil
}

// DeactivateIdle implements domain.ConductStore.
func (s *Store) DeactivateIdle(_ context.Context, id string, lastSeen time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conducts[id]
	if !ok || c.Status != domain.ConductActive || c.LastActivityAt.After(lastSeen) {
		return false, nil
	}
	for _, p := range s.participants {
		if p.ConductID == id && (p.Phase == domain.PhaseWorking || p.Phase == domain.PhaseResting) {
			return false, nil
		}
	}
	c.Status = domain.ConductInactive
	s.conducts[id] = c
	return true, nil
}

// AppendActivity implements domain.AuditStore.
func (s *Store) AppendActivity(_ context.Context, entry domain.ActivityEntry, evts ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.routeWithHistoryLocked(entry, evts)
	if err != nil {
		return err
	}
	s.appendLocked(entry)
	s.commitOutboxLocked(msgs)
	return nil
}

// ListActivity implements domain.AuditStore.
func (s *Store) ListActivity(_ context.Context, conductID string, before *domain.Cursor, limit int) ([]domain.ActivityEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listActivityLocked(conductID, before, limit), nil
}

// Enqueue implements domain.EventQueue.
func (s *Store) Enqueue(_ context.Context, evts ...domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs, err := s.router.RouteAll(evts...)
	if err != nil {
		return err
	}
	s.commitOutboxLocked(msgs)
	return nil
}

// Transition implements domain.Store. The store mutex serialises every
// transition, which covers the per-row guarantee.
func (s *Store) Transition(_ context.Context, participantID string, fn domain.TransitionFunc) (*domain.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.participants[participantID]
	if !ok {
		return nil, domain.ErrParticipantNotFound
	}
	c, err := fn(current)
	if err != nil {
		return nil, err
	}

	var msgs []outbox.Message
	if c.Entry != nil {
		msgs, err = s.routeWithHistoryLocked(*c.Entry, c.Events)
	} else {
		msgs, err = s.router.RouteAll(c.Events...)
	}
	if err != nil {
		return c, fmt.Errorf("%w: %v", domain.ErrStorage, err)
	}

	s.participants[c.Participant.ID] = c.Participant
	if c.Entry != nil {
		*c.Entry = s.appendLocked(*c.Entry)
	}
	s.commitOutboxLocked(msgs)
	return c, nil
}

// Claim implements outbox.Source.
func (s *Store) Claim(_ context.Context, limit int) ([]outbox.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.pending) {
		limit = len(s.pending)
	}
	claimed := make([]outbox.Message, limit)
	copy(claimed, s.pending[:limit])
	s.pending = s.pending[limit:]
	return claimed, nil
}

// MarkPublished implements outbox.Source. Claimed messages already left the
// queue, so there is nothing to record.
func (s *Store) MarkPublished(context.Context, []int64) error {
	return nil
}

// DeadLetter implements outbox.Source.
func (s *Store) DeadLetter(_ context.Context, msg outbox.Message, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, DeadLetter{Message: msg, Reason: reason})
	return nil
}

// DeadLetters returns every message the dispatcher gave up on.
func (s *Store) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.deadLetters...)
}

// Pending returns the messages waiting to be claimed.
func (s *Store) Pending() []outbox.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Message(nil), s.pending...)
}

// routeWithHistoryLocked routes evts followed by the history.updated event
// that entry's append produces.
func (s *Store) routeWithHistoryLocked(entry domain.ActivityEntry, evts []domain.Event) ([]outbox.Message, error) {
	history := append([]domain.ActivityEntry{entry}, s.listActivityLocked(entry.ConductID, nil, domain.HistoryWindow)...)
	sortEntries(history)
	all := append(append([]domain.Event(nil), evts...), domain.HistoryEvent(entry.ConductID, string(entry.Action), history))
	return s.router.RouteAll(all...)
}

func (s *Store) appendLocked(entry domain.ActivityEntry) domain.ActivityEntry {
	s.activitySeq++
	entry.ID = formatSeq(s.activitySeq)
	s.activity = append(s.activity, entry)
	return entry
}

func (s *Store) commitOutboxLocked(msgs []outbox.Message) {
	for _, msg := range msgs {
		s.outboxSeq++
		msg.EventID = s.outboxSeq
		s.pending = append(s.pending, msg)
	}
}

func (s *Store) listActivityLocked(conductID string, before *domain.Cursor, limit int) []domain.ActivityEntry {
	out := make([]domain.ActivityEntry, 0)
	for _, entry := range s.activity {
		if entry.ConductID != conductID {
			continue
		}
		if before != nil && !entryBefore(entry, *before) {
			continue
		}
		out = append(out, entry)
	}
	sortEntries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// entryBefore reports whether entry sorts after the cursor position in
// most-recent-first order.
func entryBefore(entry domain.ActivityEntry, c domain.Cursor) bool {
	if !entry.Timestamp.Equal(c.Timestamp) {
		return entry.Timestamp.Before(c.Timestamp)
	}
	return entry.ID < c.ID
}

func sortEntries(entries []domain.ActivityEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		// Unsaved entries have no id yet and are the newest.
		if entries[i].ID == "" || entries[j].ID == "" {
			return entries[i].ID == ""
		}
		return entries[i].ID > entries[j].ID
	})
}

func sortParticipants(list []domain.Participant) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].ConductID != list[j].ConductID {
			return list[i].ConductID < list[j].ConductID
		}
		return list[i].Name < list[j].Name
	})
}

func formatSeq(n int64) string {
	s := strconv.FormatInt(n, 10)
	const width = 12
	for len(s) < width {
		s = "0" + s
	}
	return s
}
