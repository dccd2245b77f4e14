package domain

import (
	"context"
	"time"
)

// ParticipantStore persists participant rows. Lookups return nil, nil when
// nothing matches.
type ParticipantStore interface {
	GetParticipant(ctx context.Context, id string) (*Participant, error)
	FindParticipant(ctx context.Context, conductID, name string) (*Participant, error)
	ListParticipants(ctx context.Context, conductID string) ([]Participant, error)
	ListParticipantsByPhase(ctx context.Context, phases ...Phase) ([]Participant, error)
	SaveParticipant(ctx context.Context, p Participant) error
	DeleteParticipant(ctx context.Context, id string) error
}

// ConductStore persists conducts.
type ConductStore interface {
	GetConduct(ctx context.Context, id string) (*Conduct, error)
	GetConductByPIN(ctx context.Context, pin string) (*Conduct, error)
	CreateConduct(ctx context.Context, c Conduct) error
	UpdateConductStatus(ctx context.Context, id string, status ConductStatus, lastActivityAt time.Time) error
	ListStaleConducts(ctx context.Context, before time.Time) ([]Conduct, error)
	// DeactivateIdle flips an active conduct to inactive only while its
	// last_activity_at is still at or before lastSeen and none of its
	// participants is working or resting. It reports whether the row changed.
	DeactivateIdle(ctx context.Context, id string, lastSeen time.Time) (bool, error)
}

// AuditStore is the append-only activity log. AppendActivity commits the entry,
// a history.updated event and any extra events together. ListActivity orders
// by timestamp then id, most recent first; limit <= 0 means unbounded.
type AuditStore interface {
	AppendActivity(ctx context.Context, entry ActivityEntry, events ...Event) error
	ListActivity(ctx context.Context, conductID string, before *Cursor, limit int) ([]ActivityEntry, error)
}

// Cursor positions history pagination after the entry it names.
type Cursor struct {
	Timestamp time.Time
	ID        string
}

// EventQueue hands events to the broadcast outbox.
type EventQueue interface {
	Enqueue(ctx context.Context, events ...Event) error
}

// Commit is the outcome of a transition: the new participant row, the audit
// entry describing it and the events to broadcast once it is durable.
type Commit struct {
	Participant Participant
	Entry       *ActivityEntry
	Events      []Event
}

// TransitionFunc computes a Commit from the locked current row. Returning an
// error aborts the transition without writing.
type TransitionFunc func(current Participant) (*Commit, error)

// Store is everything the Service needs.
type Store interface {
	ParticipantStore
	ConductStore
	AuditStore
	EventQueue

	// Transition locks the participant row, applies fn and commits the row,
	// the audit entry, a history.updated event and the commit's events as one
	// unit. When the combined write fails the computed Commit is returned with
	// an error wrapping ErrStorage.
	Transition(ctx context.Context, participantID string, fn TransitionFunc) (*Commit, error)
}
