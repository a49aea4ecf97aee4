package task

import (
	"errors"
	"fmt"
)

var (
	// ErrIllegalTransition is returned when an event is not permitted from
	// the task's current status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrStaleEntity is returned when an operation acted on a view of a task
	// that no longer matches the store.
	ErrStaleEntity = errors.New("stale entity")

	// ErrNotFound is returned when a task does not exist.
	ErrNotFound = errors.New("task not found")
)

// IllegalTransitionError describes a rejected event.
type IllegalTransitionError struct {
	TaskID string
	From   Status
	Event  Event
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("task %s: %s not allowed from %s", e.TaskID, e.Event, e.From)
}

func (e *IllegalTransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// StaleEntityError describes a status mismatch between what the caller
// expected and what the store holds.
type StaleEntityError struct {
	TaskID string
	Want   Status
	Got    Status
}

func (e *StaleEntityError) Error() string {
	if e.Got == "" {
		return fmt.Sprintf("task %s: no longer exists", e.TaskID)
	}
	return fmt.Sprintf("task %s: expected status %s, found %s", e.TaskID, e.Want, e.Got)
}

func (e *StaleEntityError) Unwrap() error {
	return ErrStaleEntity
}
