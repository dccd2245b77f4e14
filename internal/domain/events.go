package domain

import (
	"time"

	"example.com/wbgt/internal/cutoff"
	"example.com/wbgt/internal/events"
	"example.com/wbgt/internal/zone"
)

// Event is a broadcast notification bound for every subscriber of a conduct.
type Event struct {
	Type        string
	ConductID   string
	AggregateID string
	Payload     any
}

// ParticipantUpdatedEvent snapshots p.
func ParticipantUpdatedEvent(p Participant, at time.Time) Event {
	return Event{
		Type:        events.TypeParticipantUpdated,
		ConductID:   p.ConductID,
		AggregateID: p.ID,
		Payload: events.ParticipantUpdated{
			ConductID:         p.ConductID,
			ParticipantID:     p.ID,
			User:              p.Name,
			Role:              string(p.Role),
			Status:            string(p.Status()),
			Zone:              optional(string(p.Zone)),
			StartTime:         optional(p.StartTime.String()),
			EndTime:           optional(p.EndTime.String()),
			WorkCompleted:     p.WorkCompleted(),
			PendingRest:       p.PendingRest(),
			MostStringentZone: optional(string(p.MostStringentZone)),
			OccurredAt:        at,
		},
	}
}

// ParticipantRemovedEvent announces p leaving the roster.
func ParticipantRemovedEvent(p Participant, at time.Time) Event {
	return Event{
		Type:        events.TypeParticipantRemoved,
		ConductID:   p.ConductID,
		AggregateID: p.ID,
		Payload:     events.ParticipantRemoved{ConductID: p.ConductID, User: p.Name, OccurredAt: at},
	}
}

// SystemStatusEvent carries the override state of a conduct.
func SystemStatusEvent(conductID string, status cutoff.Status, at time.Time) Event {
	return Event{
		Type:        events.TypeSystemStatusUpdated,
		ConductID:   conductID,
		AggregateID: conductID,
		Payload: events.SystemStatusUpdated{
			ConductID:     conductID,
			CutOff:        status.CutOff,
			CutOffEndTime: optional(status.EndTime().String()),
			OccurredAt:    at,
		},
	}
}

// HistoryWindow caps the entries carried by a history.updated event so the
// record stays well under the broker's message size limit.
const HistoryWindow = 500

// HistoryEvent carries the history of a conduct, most recent first. Stores
// emit it whenever an entry is appended, passing at least HistoryWindow+1
// entries when that many exist so truncation can be flagged.
func HistoryEvent(conductID, trigger string, history []ActivityEntry) Event {
	truncated := len(history) > HistoryWindow
	if truncated {
		history = history[:HistoryWindow]
	}
	entries := make([]events.HistoryEntry, 0, len(history))
	for _, entry := range history {
		entries = append(entries, events.HistoryEntry{
			Timestamp: entry.Timestamp,
			Username:  entry.Username,
			Action:    string(entry.Action),
			Zone:      optional(string(entry.Zone)),
			Details:   entry.Details,
		})
	}
	return Event{
		Type:        events.TypeHistoryUpdated,
		ConductID:   conductID,
		AggregateID: conductID,
		Payload:     events.HistoryUpdated{ConductID: conductID, Trigger: trigger, History: entries, Truncated: truncated},
	}
}

// WorkCycleCompletedEvent prompts p's client to start the rest it owes.
func WorkCycleCompletedEvent(p Participant) Event {
	return Event{
		Type:        events.TypeWorkCycleCompleted,
		ConductID:   p.ConductID,
		AggregateID: p.ID,
		Payload: events.WorkCycleCompleted{
			ConductID:   p.ConductID,
			Username:    p.Name,
			Zone:        string(p.Zone),
			RestSeconds: int(zone.RestDurationFor(RestZone(p)).Seconds()),
			Title:       "Work Cycle Complete!",
			Message:     "Your work cycle has ended. Time to start rest cycle!",
		},
	}
}

// RestCycleCompletedEvent tells p's client the rest period is over.
func RestCycleCompletedEvent(p Participant, completed zone.ID) Event {
	return Event{
		Type:        events.TypeRestCycleCompleted,
		ConductID:   p.ConductID,
		AggregateID: p.ID,
		Payload:     events.RestCycleCompleted{ConductID: p.ConductID, Username: p.Name, Zone: string(completed)},
	}
}

// ConductStatusEvent announces a conduct status transition.
func ConductStatusEvent(c Conduct, at time.Time) Event {
	return Event{
		Type:        events.TypeConductStatusChanged,
		ConductID:   c.ID,
		AggregateID: c.ID,
		Payload:     events.ConductStatusChanged{ConductID: c.ID, Status: string(c.Status), OccurredAt: at},
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
