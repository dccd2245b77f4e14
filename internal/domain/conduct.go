package domain

import "time"

// ConductStatus tracks whether a conduct is in use.
type ConductStatus string

const (
	ConductActive   ConductStatus = "active"
	ConductInactive ConductStatus = "inactive"
)

// Conduct is one training session, joined by PIN.
type Conduct struct {
	ID             string
	Name           string
	PIN            string
	Status         ConductStatus
	LastActivityAt time.Time
	CreatedAt      time.Time
}
