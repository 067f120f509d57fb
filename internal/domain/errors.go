package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConversationNotFound is returned when no conversation exists for a
	// normalized phone number.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound is returned when a provider SID or message id does
	// not resolve to a stored message.
	ErrMessageNotFound = errors.New("message not found")

	// ErrDuplicateMessage marks a replayed inbound delivery. It is a
	// recognized no-op, not a failure: the unique key on provider_sid already
	// holds the row.
	ErrDuplicateMessage = errors.New("duplicate provider message id")
)

// ValidationError rejects malformed caller input before any state is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// ExternalError wraps a failure from the gateway or the tenant directory.
// Transient failures are retryable; permanent ones are not.
type ExternalError struct {
	Service    string
	Code       string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ExternalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Service, e.Code)
}

func (e *ExternalError) Unwrap() error {
	return e.Err
}
