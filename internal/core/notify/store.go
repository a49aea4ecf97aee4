// Package notify defines notification records, their append-only audit log,
// and the sink contract used to deliver alerts.
package notify

import (
	"context"
	"time"
)

// Type identifies what a notification is about.
type Type string

const (
	TypeTaskCompleted Type = "task_completed"
	TypeTaskConfirmed Type = "task_confirmed"
	TypeTaskRejected  Type = "task_rejected"
	TypeTaskAlarm     Type = "task_alarm"
)

// Role is the recipient's role relative to the task.
type Role string

const (
	RoleOwner      Role = "owner"
	RoleSupervisor Role = "supervisor"
)

// Status is the delivery outcome recorded for a notification.
type Status string

const (
	StatusDelivered   Status = "delivered"
	StatusUndelivered Status = "undelivered"
	StatusQueued      Status = "queued"
)

// Record is an immutable audit entry. Retries append a new record whose
// RetryOf points at the original.
type Record struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	RecipientRole Role      `json:"recipientRole"`
	RecipientID   string    `json:"recipientId,omitempty"`
	OwnerID       string    `json:"ownerId"`
	TaskID        string    `json:"taskId"`
	Message       string    `json:"message,omitempty"`
	Status        Status    `json:"status"`
	RetryOf       string    `json:"retryOf,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Filter narrows a List call. Empty fields match everything.
type Filter struct {
	OwnerID     string
	RecipientID string
	Status      Status
}

// Store persists notification records. Records are never updated or deleted.
type Store interface {
	Append(ctx context.Context, r Record) (Record, error)
	List(ctx context.Context, f Filter) ([]Record, error)
	// Pending returns original records for the owner that were queued or
	// undelivered and have no delivered retry.
	Pending(ctx context.Context, ownerID string) ([]Record, error)
}
