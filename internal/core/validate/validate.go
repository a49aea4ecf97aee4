// Package validate provides shared validation functions for user input.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/colonyops/taskwatch/internal/core/task"
	"github.com/hay-kot/criterio"
)

// ErrValidation marks errors caused by invalid caller input. Field level
// detail is available through criterio.FieldErrors.
var ErrValidation = errors.New("validation failed")

// MaxTitleLength bounds task titles.
const MaxTitleLength = 200

// Wrap tags a criterio error with ErrValidation. Nil stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

// Title validates a task title is non-empty after trimming whitespace.
func Title(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return fmt.Errorf("title is required")
	}
	if len([]rune(trimmed)) > MaxTitleLength {
		return fmt.Errorf("title must be at most %d characters", MaxTitleLength)
	}
	return nil
}

// TimeOfDay validates a strict 24-hour HH:MM string.
func TimeOfDay(s string) error {
	_, err := task.ParseTimeOfDay(s)
	return err
}

// Priority validates a priority. Empty is allowed and means the default.
func Priority(p string) error {
	if p == "" || task.Priority(p).IsValid() {
		return nil
	}
	return fmt.Errorf("priority must be one of low, medium, high")
}

// UserID validates an owner or supervisor id. IDs become store path
// segments, so they may not contain separators or whitespace.
func UserID(id string) error {
	if id == "" {
		return fmt.Errorf("id is required")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("id cannot contain '/'")
	}
	if strings.IndexFunc(id, unicode.IsSpace) >= 0 {
		return fmt.Errorf("id cannot contain whitespace")
	}
	return nil
}

// UserIDField returns a criterio validator for user ids.
func UserIDField(field, id string) error {
	return criterio.Run(field, id, UserID)
}

// TaskID validates a task id with the same rules as user ids.
func TaskID(id string) error {
	return UserID(id)
}

// SnoozeMinutes validates a snooze duration against the configured maximum.
func SnoozeMinutes(minutes, maxMinutes int) error {
	if minutes < 1 || minutes > maxMinutes {
		return fmt.Errorf("minutes must be between 1 and %d", maxMinutes)
	}
	return nil
}
