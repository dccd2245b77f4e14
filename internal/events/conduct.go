// Package events defines the payloads broadcast to subscribers of a conduct.
package events

import "time"

// Event types carried in the event_type header.
const (
	TypeParticipantUpdated   = "participant.updated"
	TypeParticipantRemoved   = "participant.removed"
	TypeSystemStatusUpdated  = "system_status.updated"
	TypeHistoryUpdated       = "history.updated"
	TypeWorkCycleCompleted   = "work_cycle.completed"
	TypeRestCycleCompleted   = "rest_cycle.completed"
	TypeConductStatusChanged = "conduct.status_changed"
)

// ParticipantUpdated is a full snapshot of one participant's cycle state.
type ParticipantUpdated struct {
	ConductID         string    `json:"conduct_id"`
	ParticipantID     string    `json:"participant_id"`
	User              string    `json:"user"`
	Role              string    `json:"role"`
	Status            string    `json:"status"`
	Zone              *string   `json:"zone"`
	StartTime         *string   `json:"start_time"`
	EndTime           *string   `json:"end_time"`
	WorkCompleted     bool      `json:"work_completed"`
	PendingRest       bool      `json:"pending_rest"`
	MostStringentZone *string   `json:"most_stringent_zone"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ParticipantRemoved announces a participant leaving the conduct roster.
type ParticipantRemoved struct {
	ConductID  string    `json:"conduct_id"`
	User       string    `json:"user"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SystemStatusUpdated carries the conduct's cut-off override state.
type SystemStatusUpdated struct {
	ConductID     string    `json:"conduct_id"`
	CutOff        bool      `json:"cut_off"`
	CutOffEndTime *string   `json:"cut_off_end_time"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// HistoryEntry is one audit row as shown to monitors.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Zone      *string   `json:"zone"`
	Details   string    `json:"details"`
}

// HistoryUpdated carries the conduct's recent audit history, most recent first.
type HistoryUpdated struct {
	ConductID string         `json:"conduct_id"`
	Trigger   string         `json:"trigger"`
	History   []HistoryEntry `json:"history"`
	// Truncated is set when older entries were left out; clients page them
	// through the history endpoint.
	Truncated bool `json:"truncated,omitempty"`
}

// WorkCycleCompleted asks the participant's client to prompt for rest.
type WorkCycleCompleted struct {
	ConductID   string `json:"conduct_id"`
	Username    string `json:"username"`
	Zone        string `json:"zone"`
	RestSeconds int    `json:"rest_seconds"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

// RestCycleCompleted lets the participant's client re-enable zone selection.
type RestCycleCompleted struct {
	ConductID string `json:"conduct_id"`
	Username  string `json:"username"`
	Zone      string `json:"zone"`
}

// ConductStatusChanged announces activation or deactivation of a conduct.
type ConductStatusChanged struct {
	ConductID  string    `json:"conduct_id"`
	Status     string    `json:"status"`
	OccurredAt time.Time `json:"occurred_at"`
}
