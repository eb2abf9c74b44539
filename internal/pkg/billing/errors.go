package billing

import "fmt"

// FailureKind is the closed set of ways a billing operation can fail.
// Callers and the retry engine branch on the kind, never on message text.
type FailureKind string

const (
	FailureLockTimeout      FailureKind = "lock_timeout"
	FailureConnection       FailureKind = "connection_error"
	FailureNotFound         FailureKind = "subscription_not_found"
	FailureInvalidStatus    FailureKind = "invalid_status"
	FailureInvalidTransition FailureKind = "invalid_transition"
	FailureLowConfidence    FailureKind = "low_confidence_match"
)

// Failure is a tagged billing error. Retryability is decided at the point
// of origin and carried with the error.
type Failure struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Message != "" {
		return fmt.Sprintf("billing: %s: %s", f.Kind, f.Message)
	}
	return fmt.Sprintf("billing: %s", f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Retryable reports whether the failure is transient. The retry engine
// calls this through the Retryable interface check.
func (f *Failure) Retryable() bool {
	switch f.Kind {
	case FailureLockTimeout, FailureConnection:
		return true
	default:
		return false
	}
}

// NewFailure builds a tagged failure.
func NewFailure(kind FailureKind, message string, cause error) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: cause}
}
