package notify

import (
	"context"
	"errors"
)

// ErrDeliveryFailure is returned when a sink could not deliver an alert.
var ErrDeliveryFailure = errors.New("delivery failure")

// Alert is a single user-facing notification handed to a Sink.
type Alert struct {
	Type          Type              `json:"type"`
	RecipientRole Role              `json:"recipientRole"`
	RecipientID   string            `json:"recipientId"`
	OwnerID       string            `json:"ownerId"`
	TaskID        string            `json:"taskId"`
	Title         string            `json:"title"`
	Message       string            `json:"message"`
	Data          map[string]string `json:"data,omitempty"`
}

// Sink delivers alerts to people. Looping alerts repeat until stopped and
// stopping one that is not running is a no-op.
type Sink interface {
	Alert(ctx context.Context, a Alert) error
	StartLoopingAlert(ctx context.Context, ownerID, taskID string) error
	StopLoopingAlert(ownerID, taskID string)
}
