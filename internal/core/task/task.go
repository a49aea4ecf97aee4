// Package task defines the daily task record and the status machine that
// governs it.
package task

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDone      Status = "done"
	StatusConfirmed Status = "confirmed"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDone, StatusConfirmed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions leave s.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed
}

// Priority ranks a task for display. It carries no scheduling meaning.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Task is a daily obligation owned by a single owner.
//
// Field names follow the shared record layout so that any client reading the
// store sees the same document.
type Task struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"userId"`
	Title            string     `json:"title"`
	Time             string     `json:"time"`
	Description      string     `json:"description,omitempty"`
	Priority         Priority   `json:"priority"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	DoneAt           *time.Time `json:"doneAt,omitempty"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty"`
	ConfirmedBy      string     `json:"confirmedBy,omitempty"`
	RejectedAt       *time.Time `json:"rejectedAt,omitempty"`
	RejectedBy       string     `json:"rejectedBy,omitempty"`
	RejectionMessage string     `json:"rejectionMessage,omitempty"`
}

// TimeOfDay parses the task's daily time.
func (t Task) TimeOfDay() (TimeOfDay, error) {
	return ParseTimeOfDay(t.Time)
}

// Record field names used for partial updates.
const (
	FieldStatus           = "status"
	FieldDoneAt           = "doneAt"
	FieldConfirmedAt      = "confirmedAt"
	FieldConfirmedBy      = "confirmedBy"
	FieldRejectedAt       = "rejectedAt"
	FieldRejectedBy       = "rejectedBy"
	FieldRejectionMessage = "rejectionMessage"
)
