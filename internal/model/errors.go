package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a session that never existed and a session
	// owned by a different user. The two cases are deliberately
	// indistinguishable to callers.
	ErrNotFound = errors.New("session not found")

	// ErrValidation marks malformed input rejected before any store access.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition marks a status change not present in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrLimitExceeded marks a conversation that would exceed the message
	// count or per-message content size limit.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrConflict marks a lost optimistic-concurrency race.
	ErrConflict = errors.New("conflict")

	// ErrDecode marks a persisted record that could not be decoded. This is
	// a data-integrity fault and is never reported as ErrNotFound.
	ErrDecode = errors.New("decode error")

	// ErrStoreUnavailable marks a backing-store timeout or connection
	// failure. No partial write occurred; the operation is safe to retry.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// TransitionError carries the current and requested states of a rejected
// status transition. It matches ErrInvalidTransition under errors.Is.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %q to %q", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
