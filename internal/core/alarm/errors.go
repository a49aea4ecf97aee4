package alarm

import (
	"errors"
	"fmt"
)

// ErrSchedulingFailure is returned when a trigger could not be registered.
var ErrSchedulingFailure = errors.New("scheduling failure")

// SchedulingError wraps the cause of a failed Schedule call.
type SchedulingError struct {
	TaskID string
	Err    error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("schedule alarm for task %s: %v", e.TaskID, e.Err)
}

func (e *SchedulingError) Unwrap() []error {
	return []error{ErrSchedulingFailure, e.Err}
}
