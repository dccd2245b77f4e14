package domain

import (
	"fmt"
	"time"

	"example.com/wbgt/internal/zone"
)

// Action enumerates audit log entry kinds.
type Action string

const (
	ActionUserJoined         Action = "user_joined"
	ActionUserRemoved        Action = "user_removed"
	ActionStartWork          Action = "start_work"
	ActionCompletedWork      Action = "completed_work"
	ActionStartRest          Action = "start_rest"
	ActionCompletedRest      Action = "completed_rest"
	ActionEarlyCompletion    Action = "early_completion"
	ActionInterfaceReset     Action = "interface_reset"
	ActionClearCommands      Action = "clear_commands"
	ActionCutOffActivated    Action = "cut_off_activated"
	ActionCutOffLifted       Action = "cut_off_lifted"
	ActionCutOffApplied      Action = "cut_off_applied"
	ActionMandatoryRest      Action = "mandatory_rest"
	ActionConductDeactivated Action = "conduct_deactivated"
	ActionConductReactivated Action = "conduct_reactivated"
)

// ActivityEntry is an immutable audit record.
type ActivityEntry struct {
	ID        string
	ConductID string
	Username  string
	Action    Action
	Zone      zone.ID
	Details   string
	Timestamp time.Time
}

const clockLayout = "03:04:05 PM"

// NewActivity builds an entry, synthesising details for known actions when
// none are given.
func NewActivity(conductID, username string, action Action, z zone.ID, details string, at time.Time) ActivityEntry {
	if details == "" {
		details = describe(action, z, at)
	}
	return ActivityEntry{
		ConductID: conductID,
		Username:  username,
		Action:    action,
		Zone:      z,
		Details:   details,
		Timestamp: at,
	}
}

func describe(action Action, z zone.ID, at time.Time) string {
	stamp := at.Format(clockLayout)
	switch action {
	case ActionUserJoined:
		return "User joined conduct at " + stamp
	case ActionStartWork:
		return fmt.Sprintf("Started work cycle for %s zone at %s", z, stamp)
	case ActionStartRest:
		return fmt.Sprintf("Started rest period for %s zone at %s", z, stamp)
	case ActionCompletedRest:
		return fmt.Sprintf("Completed rest period for %s zone at %s", z, stamp)
	case ActionCompletedWork:
		return fmt.Sprintf("Completed work cycle for %s zone at %s", z, stamp)
	case ActionEarlyCompletion:
		return "Cycle ended early at " + stamp
	case ActionInterfaceReset:
		return "Trainer interface reset at " + stamp
	case ActionCutOffApplied:
		return "Cycle interrupted by cut-off at " + stamp
	}
	return ""
}

// formatRest renders a rest duration for audit details.
func formatRest(d time.Duration) string {
	if d < time.Minute || d%time.Minute != 0 {
		return fmt.Sprintf("%d second", int(d/time.Second))
	}
	return fmt.Sprintf("%d minute", int(d/time.Minute))
}
