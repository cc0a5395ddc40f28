/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. NotFound        - referenced student/lesson/slot does not exist
  2. AlreadyExists   - duplicate active schedule slot
  3. InvalidState    - operation not allowed in the entity's current state
  4. InvalidArgument - malformed input (empty name, bad HH:MM, bad weekday)

Store failures are not wrapped in a category of their own. The engine adds
operation context with %w so errors.Is still reaches the driver error.

USAGE:
  if errors.Is(err, ledger.ErrNotFound) { ... }

  var nf *ledger.NotFoundError
  if errors.As(err, &nf) { log(nf.Entity, nf.ID) }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidArgument = errors.New("invalid argument")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string // "student", "lesson", "slot"
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func StudentNotFound(id StudentID) error { return &NotFoundError{Entity: "student", ID: int64(id)} }
func LessonNotFound(id LessonID) error   { return &NotFoundError{Entity: "lesson", ID: int64(id)} }
func SlotNotFound(id SlotID) error       { return &NotFoundError{Entity: "slot", ID: int64(id)} }

// SlotExistsError is returned when an active slot already covers the
// requested (day, time) for the student.
type SlotExistsError struct {
	StudentID StudentID
	DayOfWeek Weekday
	Time      SlotTime
	SlotID    SlotID
}

func (e *SlotExistsError) Error() string {
	return fmt.Sprintf("active slot %d already exists for student %d on %s at %s",
		e.SlotID, e.StudentID, e.DayOfWeek, e.Time)
}

func (e *SlotExistsError) Unwrap() error { return ErrAlreadyExists }

// InvalidStateError explains why an operation is not allowed right now.
type InvalidStateError struct {
	Op       string
	LessonID LessonID
	Reason   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s lesson %d: %s", e.Op, e.LessonID, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ArgumentError describes malformed input.
type ArgumentError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ArgumentError) Unwrap() error { return ErrInvalidArgument }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller's request
// rather than the store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidArgument)
}
