package stores

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/colonyops/taskwatch/internal/core/notify"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/google/uuid"
)

// NotifyStore implements notify.Store using SQLite. Records are append-only.
type NotifyStore struct {
	db  *db.DB
	now func() time.Time
}

var _ notify.Store = (*NotifyStore)(nil)

// NewNotifyStore creates a new SQLite-backed notification audit log.
func NewNotifyStore(db *db.DB) *NotifyStore {
	return &NotifyStore{db: db, now: time.Now}
}

// Append persists r, assigning an ID and timestamp when they are unset.
func (s *NotifyStore) Append(ctx context.Context, r notify.Record) (notify.Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}

	err := s.db.Queries().InsertNotification(ctx, db.InsertNotificationParams{
		ID:            r.ID,
		Type:          string(r.Type),
		RecipientRole: string(r.RecipientRole),
		RecipientID:   r.RecipientID,
		OwnerID:       r.OwnerID,
		TaskID:        r.TaskID,
		Message:       r.Message,
		Status:        string(r.Status),
		RetryOf:       sql.NullString{String: r.RetryOf, Valid: r.RetryOf != ""},
		CreatedAt:     r.CreatedAt.UnixNano(),
	})
	if err != nil {
		return notify.Record{}, fmt.Errorf("insert notification: %w", err)
	}

	return r, nil
}

// List returns records matching f, oldest first.
func (s *NotifyStore) List(ctx context.Context, f notify.Filter) ([]notify.Record, error) {
	rows, err := s.db.Queries().ListNotifications(ctx, db.ListNotificationsParams{
		OwnerID:     f.OwnerID,
		RecipientID: f.RecipientID,
		Status:      string(f.Status),
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	return rowsToRecords(rows), nil
}

// Pending returns the owner's undelivered originals that have no delivered retry.
func (s *NotifyStore) Pending(ctx context.Context, ownerID string) ([]notify.Record, error) {
	rows, err := s.db.Queries().ListPendingNotifications(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}

	return rowsToRecords(rows), nil
}

func rowsToRecords(rows []db.Notification) []notify.Record {
	result := make([]notify.Record, 0, len(rows))
	for _, row := range rows {
		result = append(result, notify.Record{
			ID:            row.ID,
			Type:          notify.Type(row.Type),
			RecipientRole: notify.Role(row.RecipientRole),
			RecipientID:   row.RecipientID,
			OwnerID:       row.OwnerID,
			TaskID:        row.TaskID,
			Message:       row.Message,
			Status:        notify.Status(row.Status),
			RetryOf:       row.RetryOf.String,
			CreatedAt:     time.Unix(0, row.CreatedAt),
		})
	}
	return result
}
