package types

// OutcomeKind is the ledger's verdict on a write attempt.
type OutcomeKind int

const (
	OutcomeGranted OutcomeKind = iota + 1
	OutcomeDenied
	OutcomeAlreadyLogged
	OutcomeTooSoon
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeGranted:
		return "granted"
	case OutcomeDenied:
		return "denied"
	case OutcomeAlreadyLogged:
		return "already_logged"
	case OutcomeTooSoon:
		return "too_soon"
	default:
		return "unknown"
	}
}

// Outcome reasons.
const (
	ReasonNotRegistered = "not registered"
	ReasonNoOpenEntry   = "no entry to close"
	ReasonDebounced     = "logged too recently"
)

type Outcome struct {
	Kind   OutcomeKind
	Reason string

	// Identity is set when the identity was found, whatever the verdict.
	Identity *Identity
}

func Granted(id Identity) Outcome { return Outcome{Kind: OutcomeGranted, Identity: &id} }

func Denied(reason string) Outcome { return Outcome{Kind: OutcomeDenied, Reason: reason} }

func (o Outcome) IsGranted() bool { return o.Kind == OutcomeGranted }
