package stores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/colonyops/taskwatch/internal/core/remote"
	"github.com/colonyops/taskwatch/internal/data/db"
	"github.com/rs/zerolog"
)

// NodeStore implements remote.Store on SQLite. Each row holds a JSON
// document at a slash separated path; reads of a parent path assemble the
// documents below it into one object.
//
// Every mutation bumps a global revision in the same transaction, and reads
// report the revision they observed.
type NodeStore struct {
	db      *db.DB
	changes *changeFeed
	poll    time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

var _ remote.Store = (*NodeStore)(nil)
var _ remote.ChangeNotifier = (*NodeStore)(nil)

// NodeStoreOption configures a NodeStore.
type NodeStoreOption func(*NodeStore)

// WithPollInterval sets how often subscriptions re-check the revision when no
// change notification arrives. Zero disables polling.
func WithPollInterval(d time.Duration) NodeStoreOption {
	return func(s *NodeStore) { s.poll = d }
}

// WithClock overrides the clock used for row timestamps and push keys.
func WithClock(now func() time.Time) NodeStoreOption {
	return func(s *NodeStore) { s.now = now }
}

// NewNodeStore creates a new SQLite-backed document store.
func NewNodeStore(db *db.DB, log zerolog.Logger, opts ...NodeStoreOption) *NodeStore {
	s := &NodeStore{
		db:      db,
		changes: newChangeFeed(),
		poll:    2 * time.Second,
		now:     time.Now,
		log:     log.With().Str("component", "node-store").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyChanged wakes all subscriptions so they re-read their path. It is
// called after external processes write to the database file.
func (s *NodeStore) NotifyChanged() {
	s.changes.notify()
}

// Revision returns the current store revision.
func (s *NodeStore) Revision(ctx context.Context) (int64, error) {
	rev, err := s.db.Queries().CurrentRevision(ctx)
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// ReadOnce returns the value at path together with the revision it was read at.
func (s *NodeStore) ReadOnce(ctx context.Context, path string) (remote.Snapshot, error) {
	segs, err := remote.Split(path)
	if err != nil {
		return remote.Snapshot{}, err
	}

	snap := remote.Snapshot{Path: path}
	err = s.db.WithTx(ctx, func(q *db.Queries) error {
		rev, err := q.CurrentRevision(ctx)
		if err != nil {
			return fmt.Errorf("read revision: %w", err)
		}
		snap.Revision = rev

		value, exists, err := readTree(ctx, q, path, segs)
		if err != nil {
			return err
		}
		snap.Exists = exists
		snap.Value = value
		return nil
	})
	if err != nil {
		return remote.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}

	return snap, nil
}

// Subscribe emits the current value of path and every subsequent change.
func (s *NodeStore) Subscribe(ctx context.Context, path string) (<-chan remote.Snapshot, error) {
	if _, err := remote.Split(path); err != nil {
		return nil, err
	}

	// Capture the wake channel before the first read so a write landing in
	// between is not missed.
	wake := s.changes.wait()
	first, err := s.ReadOnce(ctx, path)
	if err != nil {
		return nil, err
	}

	out := make(chan remote.Snapshot, 1)
	out <- first

	go s.follow(ctx, path, first, wake, out)
	return out, nil
}

func (s *NodeStore) follow(ctx context.Context, path string, last remote.Snapshot, wake <-chan struct{}, out chan remote.Snapshot) {
	defer close(out)

	var tick <-chan time.Time
	if s.poll > 0 {
		ticker := time.NewTicker(s.poll)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
		case <-tick:
		}

		wake = s.changes.wait()

		rev, err := s.Revision(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Str("path", path).Msg("subscription revision check failed")
			continue
		}
		if rev == last.Revision {
			continue
		}

		snap, err := s.ReadOnce(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn().Err(err).Str("path", path).Msg("subscription read failed")
			continue
		}

		changed := snap.Exists != last.Exists || !bytes.Equal(snap.Value, last.Value)
		last.Revision = snap.Revision
		if !changed {
			continue
		}

		last = snap
		sendLatest(out, snap)
	}
}

// sendLatest replaces any undelivered snapshot with snap. The caller must be
// the only sender on out.
func sendLatest(out chan remote.Snapshot, snap remote.Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}

	select {
	case <-out:
	default:
	}
	out <- snap
}

// Write replaces the value at path.
func (s *NodeStore) Write(ctx context.Context, path string, value any) error {
	segs, err := remote.Split(path)
	if err != nil {
		return err
	}
	if value == nil {
		return s.Delete(ctx, path)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("write %s marshal: %w", path, err)
	}

	return s.mutate(ctx, "write", path, func(q *db.Queries, rev, now int64) error {
		anc, rel, err := findAncestor(ctx, q, segs)
		if err != nil {
			return err
		}
		if anc != nil {
			return patchAncestor(ctx, q, *anc, rev, now, func(doc map[string]any) error {
				v, err := toAny(data)
				if err != nil {
					return err
				}
				setIn(doc, rel, v)
				return nil
			})
		}

		if _, err := q.NodeDeleteTree(ctx, path); err != nil {
			return err
		}
		return q.NodeUpsert(ctx, db.NodeUpsertParams{
			Path:      path,
			Value:     string(data),
			Rev:       rev,
			UpdatedAt: now,
		})
	})
}

// WritePartial merges fields into the document at path, creating it when
// missing.
func (s *NodeStore) WritePartial(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, "write partial", path, fields, false)
}

// Update merges fields into the existing document at path. A missing
// document is remote.ErrNotFound and nothing is written.
func (s *NodeStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.merge(ctx, "update", path, fields, true)
}

func (s *NodeStore) merge(ctx context.Context, op, path string, fields map[string]any, mustExist bool) error {
	segs, err := remote.Split(path)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		if !mustExist {
			return nil
		}
		fields = map[string]any{}
	}

	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("%s %s marshal: %w", op, path, err)
	}

	return s.mutate(ctx, op, path, func(q *db.Queries, rev, now int64) error {
		anc, rel, err := findAncestor(ctx, q, segs)
		if err != nil {
			return err
		}
		if anc != nil {
			return patchAncestor(ctx, q, *anc, rev, now, func(doc map[string]any) error {
				if mustExist {
					if v, ok := lookupIn(doc, rel); !ok || !isObject(v) {
						return remote.ErrNotFound
					}
				}
				target := mapIn(doc, rel)
				for k, v := range fields {
					if v == nil {
						delete(target, k)
						continue
					}
					data, err := json.Marshal(v)
					if err != nil {
						return err
					}
					av, err := toAny(data)
					if err != nil {
						return err
					}
					target[k] = av
				}
				return nil
			})
		}

		children, err := q.NodeListDescendants(ctx, path)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return writeChildren(ctx, q, path, fields, rev, now)
		}

		if !mustExist {
			return q.NodePatch(ctx, db.NodePatchParams{
				Path:      path,
				Patch:     string(patch),
				Rev:       rev,
				UpdatedAt: now,
			})
		}

		n, err := q.NodeUpdate(ctx, db.NodeUpdateParams{
			Path:      path,
			Patch:     string(patch),
			Rev:       rev,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return remote.ErrNotFound
		}
		return nil
	})
}

func isObject(v any) bool {
	_, ok := v.(map[string]any)
	return ok
}

// Push stores value under a new child key of path.
func (s *NodeStore) Push(ctx context.Context, path string, value any) (string, error) {
	if _, err := remote.Split(path); err != nil {
		return "", err
	}
	key := remote.NewKey(s.now())
	if err := s.Write(ctx, remote.Join(path, key), value); err != nil {
		return "", err
	}
	return key, nil
}

// Delete removes path and everything below it.
func (s *NodeStore) Delete(ctx context.Context, path string) error {
	segs, err := remote.Split(path)
	if err != nil {
		return err
	}

	return s.mutate(ctx, "delete", path, func(q *db.Queries, rev, now int64) error {
		anc, rel, err := findAncestor(ctx, q, segs)
		if err != nil {
			return err
		}
		if anc != nil {
			return patchAncestor(ctx, q, *anc, rev, now, func(doc map[string]any) error {
				deleteIn(doc, rel)
				return nil
			})
		}
		_, err = q.NodeDeleteTree(ctx, path)
		return err
	})
}

func (s *NodeStore) mutate(ctx context.Context, op, path string, fn func(q *db.Queries, rev, now int64) error) error {
	err := s.db.WithTx(ctx, func(q *db.Queries) error {
		rev, err := q.BumpRevision(ctx)
		if err != nil {
			return fmt.Errorf("bump revision: %w", err)
		}
		return fn(q, rev, s.now().UnixNano())
	})
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}

	s.changes.notify()
	return nil
}

// readTree resolves path against three layouts: a value nested inside an
// ancestor document, a document stored at the path itself, or a virtual
// object assembled from descendants.
func readTree(ctx context.Context, q *db.Queries, path string, segs []string) (json.RawMessage, bool, error) {
	anc, rel, err := findAncestor(ctx, q, segs)
	if err != nil {
		return nil, false, err
	}
	if anc != nil {
		doc, err := decodeDoc(anc.Value)
		if err != nil {
			return nil, false, err
		}
		v, ok := lookupIn(doc, rel)
		if !ok {
			return nil, false, nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}

	row, err := q.NodeGet(ctx, path)
	switch {
	case err == nil:
		return json.RawMessage(row.Value), true, nil
	case !IsNotFoundError(err):
		return nil, false, err
	}

	rows, err := q.NodeListDescendants(ctx, path)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}

	tree := map[string]any{}
	prefix := path + "/"
	for _, r := range rows {
		rel := strings.Split(strings.TrimPrefix(r.Path, prefix), "/")
		setIn(tree, rel, json.RawMessage(r.Value))
	}

	data, err := json.Marshal(tree)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// findAncestor returns the closest stored document above segs and the path
// of segs relative to it.
func findAncestor(ctx context.Context, q *db.Queries, segs []string) (*db.Node, []string, error) {
	for i := len(segs) - 1; i >= 1; i-- {
		row, err := q.NodeGet(ctx, remote.Join(segs[:i]...))
		if err == nil {
			return &row, segs[i:], nil
		}
		if !IsNotFoundError(err) {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func patchAncestor(ctx context.Context, q *db.Queries, anc db.Node, rev, now int64, fn func(doc map[string]any) error) error {
	doc, err := decodeDoc(anc.Value)
	if err != nil {
		return fmt.Errorf("%w: %s is not an object", remote.ErrPathConflict, anc.Path)
	}
	if err := fn(doc); err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return q.NodeUpsert(ctx, db.NodeUpsertParams{
		Path:      anc.Path,
		Value:     string(data),
		Rev:       rev,
		UpdatedAt: now,
	})
}

func writeChildren(ctx context.Context, q *db.Queries, path string, fields map[string]any, rev, now int64) error {
	for k, v := range fields {
		child := remote.Join(path, k)
		if _, err := q.NodeDeleteTree(ctx, child); err != nil {
			return err
		}
		if v == nil {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if err := q.NodeUpsert(ctx, db.NodeUpsertParams{
			Path:      child,
			Value:     string(data),
			Rev:       rev,
			UpdatedAt: now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func decodeDoc(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("document is not an object")
	}
	return doc, nil
}

func toAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// mapIn returns the object at rel, creating intermediate objects and
// replacing non-object values on the way.
func mapIn(doc map[string]any, rel []string) map[string]any {
	cur := doc
	for _, seg := range rel {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[seg] = next
		}
		cur = next
	}
	return cur
}

func setIn(doc map[string]any, rel []string, v any) {
	if len(rel) == 0 {
		return
	}
	parent := mapIn(doc, rel[:len(rel)-1])
	parent[rel[len(rel)-1]] = v
}

func deleteIn(doc map[string]any, rel []string) {
	cur := doc
	for i, seg := range rel {
		if i == len(rel)-1 {
			delete(cur, seg)
			return
		}
		next, ok := cur[seg].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
}

func lookupIn(doc map[string]any, rel []string) (any, bool) {
	var cur any = doc
	for _, seg := range rel {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// changeFeed broadcasts "something changed" by closing and replacing a
// channel.
type changeFeed struct {
	mu sync.Mutex
	ch chan struct{}
}

func newChangeFeed() *changeFeed {
	return &changeFeed{ch: make(chan struct{})}
}

func (f *changeFeed) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ch
}

func (f *changeFeed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.ch)
	f.ch = make(chan struct{})
}
