package db

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the SQL statements used by the stores.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Node struct {
	Path      string
	Value     string
	Rev       int64
	UpdatedAt int64
}

type Notification struct {
	ID            string
	Type          string
	RecipientRole string
	RecipientID   string
	OwnerID       string
	TaskID        string
	Message       string
	Status        string
	RetryOf       sql.NullString
	CreatedAt     int64
}

// ---------------------------------------------------------------------------
// store_meta

const bumpRevision = `UPDATE store_meta SET rev = rev + 1 WHERE id = 1 RETURNING rev`

func (q *Queries) BumpRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRowContext(ctx, bumpRevision).Scan(&rev)
	return rev, err
}

const currentRevision = `SELECT rev FROM store_meta WHERE id = 1`

func (q *Queries) CurrentRevision(ctx context.Context) (int64, error) {
	var rev int64
	err := q.db.QueryRowContext(ctx, currentRevision).Scan(&rev)
	return rev, err
}

// ---------------------------------------------------------------------------
// nodes

const nodeGet = `SELECT path, value, rev, updated_at FROM nodes WHERE path = ?`

func (q *Queries) NodeGet(ctx context.Context, path string) (Node, error) {
	var n Node
	err := q.db.QueryRowContext(ctx, nodeGet, path).Scan(&n.Path, &n.Value, &n.Rev, &n.UpdatedAt)
	return n, err
}

// Descendants of a path sort strictly between "path/" and "path0" because
// '0' is the byte following '/'.
const nodeListDescendants = `
SELECT path, value, rev, updated_at FROM nodes
WHERE path > ? AND path < ?
ORDER BY path`

func (q *Queries) NodeListDescendants(ctx context.Context, path string) ([]Node, error) {
	rows, err := q.db.QueryContext(ctx, nodeListDescendants, path+"/", path+"0")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.Path, &n.Value, &n.Rev, &n.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

type NodeUpsertParams struct {
	Path      string
	Value     string
	Rev       int64
	UpdatedAt int64
}

const nodeUpsert = `
INSERT INTO nodes (path, value, rev, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    value = excluded.value,
    rev = excluded.rev,
    updated_at = excluded.updated_at`

func (q *Queries) NodeUpsert(ctx context.Context, arg NodeUpsertParams) error {
	_, err := q.db.ExecContext(ctx, nodeUpsert, arg.Path, arg.Value, arg.Rev, arg.UpdatedAt)
	return err
}

type NodePatchParams struct {
	Path      string
	Patch     string
	Rev       int64
	UpdatedAt int64
}

// json_patch follows RFC 7396 so null members remove keys.
const nodePatch = `
INSERT INTO nodes (path, value, rev, updated_at)
VALUES (?1, json_patch('{}', ?2), ?3, ?4)
ON CONFLICT(path) DO UPDATE SET
    value = json_patch(nodes.value, ?2),
    rev = excluded.rev,
    updated_at = excluded.updated_at`

func (q *Queries) NodePatch(ctx context.Context, arg NodePatchParams) error {
	_, err := q.db.ExecContext(ctx, nodePatch, arg.Path, arg.Patch, arg.Rev, arg.UpdatedAt)
	return err
}

type NodeUpdateParams struct {
	Path      string
	Patch     string
	Rev       int64
	UpdatedAt int64
}

const nodeUpdate = `
UPDATE nodes SET
    value = json_patch(value, ?2),
    rev = ?3,
    updated_at = ?4
WHERE path = ?1`

// NodeUpdate patches an existing node and returns the number of rows changed.
func (q *Queries) NodeUpdate(ctx context.Context, arg NodeUpdateParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, nodeUpdate, arg.Path, arg.Patch, arg.Rev, arg.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const nodeDeleteTree = `DELETE FROM nodes WHERE path = ? OR (path > ? AND path < ?)`

func (q *Queries) NodeDeleteTree(ctx context.Context, path string) (int64, error) {
	res, err := q.db.ExecContext(ctx, nodeDeleteTree, path, path+"/", path+"0")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ---------------------------------------------------------------------------
// notifications

type InsertNotificationParams struct {
	ID            string
	Type          string
	RecipientRole string
	RecipientID   string
	OwnerID       string
	TaskID        string
	Message       string
	Status        string
	RetryOf       sql.NullString
	CreatedAt     int64
}

const insertNotification = `
INSERT INTO notifications (id, type, recipient_role, recipient_id, owner_id, task_id, message, status, retry_of, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) InsertNotification(ctx context.Context, arg InsertNotificationParams) error {
	_, err := q.db.ExecContext(ctx, insertNotification,
		arg.ID, arg.Type, arg.RecipientRole, arg.RecipientID, arg.OwnerID,
		arg.TaskID, arg.Message, arg.Status, arg.RetryOf, arg.CreatedAt,
	)
	return err
}

const notificationColumns = `id, type, recipient_role, recipient_id, owner_id, task_id, message, status, retry_of, created_at`

type ListNotificationsParams struct {
	OwnerID     string
	RecipientID string
	Status      string
}

// Empty parameters match every row.
const listNotifications = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE (? = '' OR owner_id = ?)
  AND (? = '' OR recipient_id = ?)
  AND (? = '' OR status = ?)
ORDER BY created_at ASC, id ASC`

func (q *Queries) ListNotifications(ctx context.Context, arg ListNotificationsParams) ([]Notification, error) {
	return q.queryNotifications(ctx, listNotifications,
		arg.OwnerID, arg.OwnerID,
		arg.RecipientID, arg.RecipientID,
		arg.Status, arg.Status,
	)
}

// A record is pending when it was never delivered and no later retry of it
// was delivered either.
const listPendingNotifications = `
SELECT ` + notificationColumns + ` FROM notifications n
WHERE n.owner_id = ?
  AND n.retry_of IS NULL
  AND n.status IN ('queued', 'undelivered')
  AND NOT EXISTS (
      SELECT 1 FROM notifications r
      WHERE r.retry_of = n.id AND r.status = 'delivered'
  )
ORDER BY n.created_at ASC, n.id ASC`

func (q *Queries) ListPendingNotifications(ctx context.Context, ownerID string) ([]Notification, error) {
	return q.queryNotifications(ctx, listPendingNotifications, ownerID)
}

func (q *Queries) queryNotifications(ctx context.Context, query string, args ...any) ([]Notification, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var items []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(
			&n.ID, &n.Type, &n.RecipientRole, &n.RecipientID, &n.OwnerID,
			&n.TaskID, &n.Message, &n.Status, &n.RetryOf, &n.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

// ---------------------------------------------------------------------------
// kv_store

// Rows past their expiry are invisible to reads even before a sweep.
const kvGetLive = `
SELECT value FROM kv_store
WHERE key = ? AND (expires_at IS NULL OR expires_at >= ?)`

func (q *Queries) KVGetLive(ctx context.Context, key string, now int64) ([]byte, error) {
	var value []byte
	err := q.db.QueryRowContext(ctx, kvGetLive, key, now).Scan(&value)
	return value, err
}

type KVPutParams struct {
	Key       string
	Value     []byte
	ExpiresAt sql.NullInt64
	Now       int64
}

const kvPut = `
INSERT INTO kv_store (key, value, expires_at, created_at, updated_at)
VALUES (?1, ?2, ?3, ?4, ?4)
ON CONFLICT(key) DO UPDATE SET
    value = excluded.value,
    expires_at = excluded.expires_at,
    updated_at = excluded.updated_at`

func (q *Queries) KVPut(ctx context.Context, arg KVPutParams) error {
	_, err := q.db.ExecContext(ctx, kvPut, arg.Key, arg.Value, arg.ExpiresAt, arg.Now)
	return err
}

const kvDelete = `DELETE FROM kv_store WHERE key = ?`

func (q *Queries) KVDelete(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, kvDelete, key)
	return err
}

const kvSweepExpired = `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at < ?`

// KVSweepExpired returns the number of rows removed.
func (q *Queries) KVSweepExpired(ctx context.Context, now int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, kvSweepExpired, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
