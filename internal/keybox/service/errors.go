package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidDeviceID = errors.New("device_id is required")

	// ErrUnknownKey rejects an explicit checkin naming a key that has never
	// been registered.
	ErrUnknownKey = errors.New("unknown key")

	ErrAlertNotFound          = errors.New("alert not found")
	ErrInvalidAlertTransition = errors.New("invalid alert status transition")
)

// ValidationError reports a missing or malformed inbound field.  Nothing is
// written when it is returned.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func missingField(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}
