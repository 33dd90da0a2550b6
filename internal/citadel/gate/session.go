package gate

import (
	"image"
	"time"

	"github.com/BrandonDHaskell/Citadel/gate/internal/citadel/types"
)

// State is the session controller's position in the verification flow.
type State int

const (
	StateIdle State = iota
	StateAwaitingFace
	StateDeciding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingFace:
		return "awaiting_face"
	case StateDeciding:
		return "deciding"
	default:
		return "unknown"
	}
}

// Operator-facing status texts.
const (
	StatusReady         = "Ready"
	StatusQRVerified    = "QR Verified"
	StatusGranted       = "Access Granted"
	StatusExitLogged    = "Exit Logged"
	StatusDenied        = "Access Denied"
	StatusNotRegistered = "Not Registered"
	StatusTryAgain      = "Try Again"
	StatusAlreadyLogged = "Already Logged"
	StatusTooSoon       = "Too Soon"
	StatusDBError       = "DB Error"
)

// Snapshot is a copy of the session state for display.
type Snapshot struct {
	SessionID string
	State     State
	Status    string
	// Detail carries the latest face rejection reason or ledger reason.
	Detail    string
	Identity  *types.Identity
	Method    types.Method
	FaceBox   *image.Rectangle
	UpdatedAt time.Time
}

func (s Snapshot) Active() bool { return s.State != StateIdle }

// statusFor maps a ledger outcome to the text shown at the gate.
func statusFor(dir types.Direction, out types.Outcome) string {
	switch out.Kind {
	case types.OutcomeGranted:
		if dir == types.DirectionExit {
			return StatusExitLogged
		}
		return StatusGranted
	case types.OutcomeAlreadyLogged:
		return StatusAlreadyLogged
	case types.OutcomeTooSoon:
		return StatusTooSoon
	case types.OutcomeDenied:
		if out.Reason == types.ReasonNotRegistered {
			return StatusNotRegistered
		}
		return StatusDenied
	default:
		return StatusDenied
	}
}
