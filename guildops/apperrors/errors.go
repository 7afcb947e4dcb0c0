package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the three caller-facing failure classes. Operations
// wrap these so callers can branch with errors.Is while still getting a
// descriptive message.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// ValidationError marks a precondition or state violation. These are
// expected, user-facing outcomes (insufficient balance, stale bid, wrong
// status), not bugs.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	if e.ID == 0 {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

func NewNotFoundError(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// UnauthorizedError marks an actor that lacks rights over a specific record,
// e.g. a non-creator trying to start or cancel an auction.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string {
	return e.Reason
}

func (e *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

func NewUnauthorizedError(format string, args ...any) error {
	return &UnauthorizedError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
