// Package services defines the business logic for digest settings, history,
// and scheduled digest delivery. This file centralizes service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import (
	"errors"
	"fmt"
)

// Settings and history errors.
var (
	// ErrSettingsNotFound indicates that no settings record exists for the
	// requested user.
	ErrSettingsNotFound = errors.New("settings not found")

	// ErrDigestNotFound indicates that the requested digest does not exist or
	// does not belong to the user.
	ErrDigestNotFound = errors.New("digest not found")

	// ErrMissingUserID is returned when an operation requires a user id and
	// none (or only whitespace) was supplied.
	ErrMissingUserID = errors.New("userId is required")

	// ErrMissingPushToken is returned by RegisterPushToken for a blank token.
	ErrMissingPushToken = errors.New("pushToken is required")
)

// Scheduler errors.
var (
	// ErrInvalidHour is returned when a UTC hour outside [0, 23] is requested.
	ErrInvalidHour = errors.New("utc hour must be between 0 and 23")
)

// PersistenceError reports a failed history or settings write. Op names the
// store operation that failed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
