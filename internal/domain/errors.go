package domain

import "errors"

// Error kinds. Every error returned by the Service wraps exactly one of these.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrStorage         = errors.New("storage failure")
)

// ErrNoChange is returned by a TransitionFunc whose guard no longer holds. The
// store writes nothing.
var ErrNoChange = errors.New("no change")

// ErrDuplicatePIN is returned by CreateConduct when the PIN is taken.
var ErrDuplicatePIN = errors.New("conduct pin already in use")

var (
	ErrParticipantNotFound = kindError(ErrNotFound, "participant not found")
	ErrConductNotFound     = kindError(ErrNotFound, "conduct not found")

	ErrCutOffActive         = kindError(ErrForbidden, "conduct is in cut-off mode")
	ErrMandatoryRest        = kindError(ErrForbidden, "mandatory rest period is still active")
	ErrNotOwner             = kindError(ErrForbidden, "trainers can only manage their own cycle")
	ErrNotSupervisor        = kindError(ErrForbidden, "conducting body role required")
	ErrWrongConduct         = kindError(ErrForbidden, "participant belongs to another conduct")
	ErrProtectedParticipant = kindError(ErrForbidden, "conducting body participants cannot be removed")
	ErrJoinCode             = kindError(ErrForbidden, "invalid conducting body join code")

	ErrResting     = kindError(ErrInvalidState, "cannot start work cycle during rest period")
	ErrPendingRest = kindError(ErrInvalidState, "must start rest cycle before beginning new work cycle")
	ErrNotTrainer  = kindError(ErrInvalidState, "only trainers run work/rest cycles")

	ErrUnknownZone = kindError(ErrInvalidArgument, "unknown zone")
	ErrInvalidPIN  = kindError(ErrInvalidArgument, "pin must be 6 digits")
	ErrInvalidName = kindError(ErrInvalidArgument, "name is required")
	ErrInvalidRole = kindError(ErrInvalidArgument, "invalid role")
)

type classified struct {
	kind error
	msg  string
}

func kindError(kind error, msg string) error {
	return &classified{kind: kind, msg: msg}
}

func (e *classified) Error() string { return e.msg }

func (e *classified) Unwrap() error { return e.kind }

// Kind returns the error kind err wraps, or nil when it wraps none.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrForbidden, ErrInvalidState, ErrInvalidArgument, ErrStorage} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
