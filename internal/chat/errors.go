package chat

import (
	"errors"
	"fmt"
)

// Kind classifies an orchestration failure so the transport layer can map it
// to a status code without inspecting error strings.
type Kind string

const (
	KindQuotaExceeded           Kind = "QUOTA_EXCEEDED"
	KindQuotaServiceUnavailable Kind = "QUOTA_SERVICE_UNAVAILABLE"
	KindConversationNotFound    Kind = "CONVERSATION_NOT_FOUND"
	KindConversationForbidden   Kind = "CONVERSATION_FORBIDDEN"
	KindRetrievalFailure        Kind = "RETRIEVAL_FAILURE"
	KindGenerationFailure       Kind = "GENERATION_FAILURE"
	KindGenerationTimeout       Kind = "GENERATION_TIMEOUT"
	KindPersistenceFailure      Kind = "PERSISTENCE_FAILURE"
	KindInvalidInput            Kind = "INVALID_INPUT"
)

// Error carries the failure kind, a human-readable reason and the wrapped
// cause.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// KindOf extracts the failure kind from an error chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// ReasonOf extracts the human-readable reason, falling back to the error
// text.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return err.Error()
}
