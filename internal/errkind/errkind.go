// Package errkind defines the closed error taxonomy from the resilience
// spec's error handling design. Every terminal task/plan error is
// classified into one of these kinds so operator-visible failures and
// retry policy can branch on Kind() instead of type-switching on concrete
// error values across package boundaries.
package errkind

import "errors"

// Kind is one row of the error taxonomy.
type Kind string

const (
	TransientNetwork  Kind = "transient_network"
	FatalInput        Kind = "fatal_input"
	Budget            Kind = "budget"
	CircuitOpen       Kind = "circuit_open"
	Capacity          Kind = "capacity"
	Cancellation      Kind = "cancellation"
	InternalInvariant Kind = "internal_invariant"
)

// Retryable reports whether the default policy retries errors of this kind.
// Only TransientNetwork is retried automatically; CircuitOpen is retried on
// a different candidate by the engine, not via the retry-budget path.
func (k Kind) Retryable() bool {
	return k == TransientNetwork
}

// Error is a taxonomy-classified error carrying a stable code and a
// human message, per spec §7 ("Events carry the kind, a stable error
// code, and a human message").
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Code + ": " + e.Message + ": " + e.Cause.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a classified error.
func New(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an
// *Error; otherwise it returns "" and false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Sentinel errors referenced by name across the engine, registry, breaker
// and budget packages. They are wrapped into a classified *Error at the
// point a task result is produced so callers can match either the
// sentinel (errors.Is) or the kind (errkind.KindOf).
var (
	ErrNoEligibleAgent    = errors.New("no eligible agent for required skills")
	ErrAllCircuitsOpen    = errors.New("all candidate circuits are open")
	ErrBudgetExceeded     = errors.New("budget exceeded: dispatch forbidden")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrCancelled          = errors.New("operation cancelled")
	ErrInvariant          = errors.New("internal invariant violated")
	ErrDecompositionEmpty = errors.New("decomposition produced zero subtasks")
	ErrCycle              = errors.New("dependency graph contains a cycle")
	ErrUnknownStrategy    = errors.New("unknown decomposition strategy")
	ErrAgentEvicted       = errors.New("agent forcibly evicted from the registry")
)

// Wrap classifies a sentinel/plain error into the taxonomy with a stable
// code, preserving the original as Cause.
func Wrap(kind Kind, code string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: err.Error(), Cause: err}
}
