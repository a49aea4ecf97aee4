// Package remote defines the hierarchical, subscribable document store that
// tasks, alarms, links and inboxes live in.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/colonyops/taskwatch/pkg/randid"
)

var (
	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathConflict is returned when a write would nest a document inside
	// an existing leaf document.
	ErrPathConflict = errors.New("path conflict")

	// ErrNotFound is returned by Update when no document exists at the path.
	ErrNotFound = errors.New("no document at path")
)

// Snapshot is the full value of a path at a store revision. Revisions are
// totally ordered; a larger revision always reflects later writes.
type Snapshot struct {
	Path     string          `json:"path"`
	Revision int64           `json:"revision"`
	Exists   bool            `json:"exists"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// Decode unmarshals the snapshot value into dest. Missing paths leave dest
// untouched.
func (s Snapshot) Decode(dest any) error {
	if !s.Exists {
		return nil
	}
	if err := json.Unmarshal(s.Value, dest); err != nil {
		return fmt.Errorf("decode %s: %w", s.Path, err)
	}
	return nil
}

// Children splits an object snapshot into its direct children.
func (s Snapshot) Children() (map[string]json.RawMessage, error) {
	children := map[string]json.RawMessage{}
	if !s.Exists {
		return children, nil
	}
	if err := json.Unmarshal(s.Value, &children); err != nil {
		return nil, fmt.Errorf("decode children of %s: %w", s.Path, err)
	}
	return children, nil
}

// Store is a hierarchical document store with change subscriptions.
//
// Subscribe emits the current snapshot immediately and then each time the
// value at the path changes. When the consumer falls behind, intermediate
// snapshots are dropped and only the latest is kept. The channel closes when
// ctx is cancelled.
type Store interface {
	ReadOnce(ctx context.Context, path string) (Snapshot, error)
	Subscribe(ctx context.Context, path string) (<-chan Snapshot, error)
	Write(ctx context.Context, path string, value any) error
	// WritePartial merges fields into the document at path. A nil value
	// removes the field.
	WritePartial(ctx context.Context, path string, fields map[string]any) error
	// Update is WritePartial for an existing document only. It returns
	// ErrNotFound, writing nothing, when the path holds no document.
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push stores value under a new, time-ordered child key and returns it.
	Push(ctx context.Context, path string, value any) (string, error)
	Delete(ctx context.Context, path string) error
}

// ChangeNotifier is implemented by stores whose subscriptions can be woken
// when another process writes to the backing storage.
type ChangeNotifier interface {
	NotifyChanged()
}

// Join builds a path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// Split validates path and returns its segments.
func Split(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return nil, fmt.Errorf("%w: %q has an empty segment", ErrInvalidPath, path)
		}
	}
	return segments, nil
}

// NewKey returns a child key that sorts after keys generated earlier: a
// zero padded base36 millisecond timestamp followed by a random suffix.
func NewKey(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	if len(ts) < 9 {
		ts = strings.Repeat("0", 9-len(ts)) + ts
	}
	return ts + randid.Generate(8)
}
