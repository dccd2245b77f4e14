package api

import (
	"time"

	"example.com/wbgt/internal/cutoff"
	"example.com/wbgt/internal/domain"
)

// CreateConductRequest is the payload for POST /v1/conducts.
type CreateConductRequest struct {
	Name string `json:"name" validate:"required,max=120"`
}

// JoinRequest is the payload for POST /v1/conducts/join.
type JoinRequest struct {
	PIN      string `json:"pin" validate:"required,len=6,numeric"`
	Name     string `json:"name" validate:"required,max=64"`
	Role     string `json:"role" validate:"required,oneof=trainer conducting_body monitor"`
	JoinCode string `json:"join_code,omitempty"`
}

// StartWorkRequest is the payload for POST /v1/participants/{id}/zone.
type StartWorkRequest struct {
	Zone string `json:"zone" validate:"required"`
}

// TimeResponse is the server clock used by clients to correct drift.
type TimeResponse struct {
	ServerTime time.Time `json:"server_time"`
	WallTime   string    `json:"wall_time"`
	Timezone   string    `json:"timezone"`
}

// ZoneView describes one catalog zone.
type ZoneView struct {
	Zone        string `json:"zone"`
	WorkSeconds int    `json:"work_seconds"`
	RestSeconds int    `json:"rest_seconds"`
	Rank        int    `json:"rank"`
}

// ConductView exposes a conduct.
type ConductView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PIN            string    `json:"pin"`
	Status         string    `json:"status"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ParticipantView exposes a participant's cycle state.
type ParticipantView struct {
	ID                string  `json:"id"`
	ConductID         string  `json:"conduct_id"`
	Name              string  `json:"name"`
	Role              string  `json:"role"`
	Status            string  `json:"status"`
	Zone              *string `json:"zone"`
	StartTime         *string `json:"start_time"`
	EndTime           *string `json:"end_time"`
	WorkCompleted     bool    `json:"work_completed"`
	PendingRest       bool    `json:"pending_rest"`
	MostStringentZone *string `json:"most_stringent_zone"`
}

// JoinResponse carries the joined participant and its bearer token.
type JoinResponse struct {
	Participant ParticipantView `json:"participant"`
	Conduct     ConductView     `json:"conduct"`
	Token       string          `json:"token"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// ListParticipantsResponse packages the conduct roster.
type ListParticipantsResponse struct {
	Items []ParticipantView `json:"items"`
}

// StartRestResponse reports the rest period that was started.
type StartRestResponse struct {
	Participant ParticipantView `json:"participant"`
	RestSeconds int             `json:"rest_seconds"`
}

// RenotifyResponse reports whether a work-complete prompt was sent.
type RenotifyResponse struct {
	Notified bool `json:"notified"`
}

// ActivityView is one audit entry.
type ActivityView struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Username  string    `json:"username"`
	Action    string    `json:"action"`
	Zone      *string   `json:"zone"`
	Details   string    `json:"details"`
}

// HistoryResponse packages one page of audit entries, most recent first.
type HistoryResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// StatusView is the conduct's override state.
type StatusView struct {
	CutOff        bool    `json:"cut_off"`
	CutOffEndTime *string `json:"cut_off_end_time"`
	MandatoryRest bool    `json:"mandatory_rest"`
}

func toConductView(c domain.Conduct) ConductView {
	return ConductView{
		ID:             c.ID,
		Name:           c.Name,
		PIN:            c.PIN,
		Status:         string(c.Status),
		LastActivityAt: c.LastActivityAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toParticipantView(p domain.Participant) ParticipantView {
	return ParticipantView{
		ID:                p.ID,
		ConductID:         p.ConductID,
		Name:              p.Name,
		Role:              string(p.Role),
		Status:            string(p.Status()),
		Zone:              optional(string(p.Zone)),
		StartTime:         optional(p.StartTime.String()),
		EndTime:           optional(p.EndTime.String()),
		WorkCompleted:     p.WorkCompleted(),
		PendingRest:       p.PendingRest(),
		MostStringentZone: optional(string(p.MostStringentZone)),
	}
}

func toActivityView(e domain.ActivityEntry) ActivityView {
	return ActivityView{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Username:  e.Username,
		Action:    string(e.Action),
		Zone:      optional(string(e.Zone)),
		Details:   e.Details,
	}
}

func toStatusView(s cutoff.Status, now time.Time) StatusView {
	return StatusView{
		CutOff:        s.CutOff,
		CutOffEndTime: optional(s.EndTime().String()),
		MandatoryRest: s.MandatoryRest(now),
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
