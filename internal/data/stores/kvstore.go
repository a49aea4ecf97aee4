package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/colonyops/taskwatch/internal/data/db"
)

// KVStore is the SQLite implementation of kv.KV. Values are stored as JSON
// and expiry timestamps are unix nanoseconds.
type KVStore struct {
	db  *db.DB
	now func() time.Time
}

var (
	_ kv.KV      = (*KVStore)(nil)
	_ kv.Sweeper = (*KVStore)(nil)
)

func NewKVStore(db *db.DB) *KVStore {
	return &KVStore{db: db, now: time.Now}
}

func (s *KVStore) Get(ctx context.Context, key string, dest any) error {
	raw, err := s.db.Queries().KVGetLive(ctx, key, s.now().UnixNano())
	switch {
	case IsNotFoundError(err):
		return fmt.Errorf("%w: %s", kv.ErrNotFound, key)
	case err != nil:
		return fmt.Errorf("kv get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("kv decode %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kv encode %s: %w", key, err)
	}

	now := s.now()
	params := db.KVPutParams{Key: key, Value: raw, Now: now.UnixNano()}
	if ttl != 0 {
		params.ExpiresAt = sql.NullInt64{Int64: now.Add(ttl).UnixNano(), Valid: true}
	}

	if err := s.db.Queries().KVPut(ctx, params); err != nil {
		return fmt.Errorf("kv put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.db.Queries().KVDelete(ctx, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

// SweepExpired deletes entries whose expiry has passed.
func (s *KVStore) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.db.Queries().KVSweepExpired(ctx, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("kv sweep: %w", err)
	}
	return n, nil
}
