package domain

import (
	"fmt"
	"time"

	"example.com/wbgt/internal/clock"
	"example.com/wbgt/internal/zone"
)

// Role is the participant's function within a conduct.
type Role string

const (
	RoleTrainer        Role = "trainer"
	RoleConductingBody Role = "conducting_body"
	RoleMonitor        Role = "monitor"
)

// ParseRole validates a role string.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleTrainer, RoleConductingBody, RoleMonitor:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
}

// Status is the externally visible cycle status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
	StatusResting Status = "resting"
)

// Phase is the participant's cycle sub-state. PhaseWorkComplete is the idle
// interstitial between a finished work period and the rest that follows it.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseWorking      Phase = "working"
	PhaseWorkComplete Phase = "work_complete_pending_rest"
	PhaseResting      Phase = "resting"
)

// ParsePhase validates a stored phase.
func ParsePhase(raw string) (Phase, error) {
	switch p := Phase(raw); p {
	case PhaseIdle, PhaseWorking, PhaseWorkComplete, PhaseResting:
		return p, nil
	}
	return "", fmt.Errorf("unknown phase %q", raw)
}

// Participant is one member of a conduct and, for trainers, their cycle state.
type Participant struct {
	ID        string
	ConductID string
	Name      string
	Role      Role
	Phase     Phase
	Zone      zone.ID
	StartTime clock.WallTime
	EndTime   clock.WallTime
	// CycleStart is when the current work period began; zone overwrites keep it.
	CycleStart        clock.WallTime
	MostStringentZone zone.ID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Status maps the phase onto the public status.
func (p Participant) Status() Status {
	switch p.Phase {
	case PhaseWorking:
		return StatusWorking
	case PhaseResting:
		return StatusResting
	default:
		return StatusIdle
	}
}

// WorkCompleted reports the finished-work flag.
func (p Participant) WorkCompleted() bool {
	return p.Phase == PhaseWorkComplete
}

// PendingRest reports the awaiting-rest flag.
func (p Participant) PendingRest() bool {
	return p.Phase == PhaseWorkComplete
}

// IsTrainer reports whether the participant runs work/rest cycles.
func (p Participant) IsTrainer() bool {
	return p.Role == RoleTrainer
}

// Caller is the already-authenticated actor behind a request.
type Caller struct {
	ParticipantID string
	ConductID     string
	Name          string
	Role          Role
}

// Supervisor reports whether the caller holds override authority.
func (c Caller) Supervisor() bool {
	return c.Role == RoleConductingBody
}

// SystemUser is the audit username for engine-initiated actions.
const SystemUser = "SYSTEM"
