package taskwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/core/remote"
)

// InboxMessage is the document pushed into a recipient's store inbox.
type InboxMessage struct {
	Type      notify.Type       `json:"type"`
	OwnerID   string            `json:"userId"`
	TaskID    string            `json:"taskId"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"createdAt"`
}

// InboxSink delivers alerts by appending them to the recipient's inbox in
// the remote store, where the recipient's clients pick them up.
type InboxSink struct {
	store remote.Store
	now   func() time.Time
}

var _ notify.Sink = (*InboxSink)(nil)

// NewInboxSink creates an inbox sink backed by store.
func NewInboxSink(store remote.Store) *InboxSink {
	return &InboxSink{store: store, now: time.Now}
}

func (s *InboxSink) Alert(ctx context.Context, a notify.Alert) error {
	if a.RecipientID == "" {
		return fmt.Errorf("%w: alert %s has no recipient", notify.ErrDeliveryFailure, a.Type)
	}

	var path string
	switch a.RecipientRole {
	case notify.RoleOwner:
		path = remote.OwnerInboxPath(a.RecipientID)
	case notify.RoleSupervisor:
		path = remote.SupervisorInboxPath(a.RecipientID)
	default:
		return fmt.Errorf("%w: unknown recipient role %q", notify.ErrDeliveryFailure, a.RecipientRole)
	}

	_, err := s.store.Push(ctx, path, InboxMessage{
		Type:      a.Type,
		OwnerID:   a.OwnerID,
		TaskID:    a.TaskID,
		Title:     a.Title,
		Message:   a.Message,
		Data:      a.Data,
		CreatedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: push inbox: %w", notify.ErrDeliveryFailure, err)
	}
	return nil
}

// StartLoopingAlert is a no-op; the inbox holds a single entry per alert.
func (s *InboxSink) StartLoopingAlert(context.Context, string, string) error { return nil }

// StopLoopingAlert is a no-op.
func (s *InboxSink) StopLoopingAlert(string, string) {}
