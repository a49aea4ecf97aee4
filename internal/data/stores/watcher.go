package stores

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeWatcher watches the database files for writes made by other
// processes and wakes the node store's subscriptions. Bursts of events are
// debounced into a single wake-up.
type ChangeWatcher struct {
	watcher     *fsnotify.Watcher
	dbPath      string
	debounceDur time.Duration
	onChange    func()
	log         zerolog.Logger
}

// NewChangeWatcher creates a watcher for the directory containing dbPath.
// Returns nil if fsnotify is unavailable; subscriptions then rely on polling.
func NewChangeWatcher(dbPath string, debounce time.Duration, onChange func(), log zerolog.Logger) *ChangeWatcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn().Err(err).Msg("store: failed to create fsnotify watcher")
		return nil
	}

	w := &ChangeWatcher{
		watcher:     watcher,
		dbPath:      dbPath,
		debounceDur: debounce,
		onChange:    onChange,
		log:         log.With().Str("component", "store-watcher").Logger(),
	}

	dir := filepath.Dir(dbPath)
	if err := watcher.Add(dir); err != nil {
		w.log.Warn().Err(err).Str("dir", dir).Msg("store: cannot watch data directory")
		_ = watcher.Close()
		return nil
	}

	return w
}

// Run blocks until ctx is cancelled, calling onChange after each debounced
// burst of writes.
func (w *ChangeWatcher) Run(ctx context.Context) error {
	defer func() { _ = w.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}

			w.log.Debug().
				Str("path", event.Name).
				Str("op", event.Op.String()).
				Msg("database file event")

			debounce := time.NewTimer(w.debounceDur)

		debounceLoop:
			for {
				select {
				case <-ctx.Done():
					debounce.Stop()
					return nil
				case e, ok := <-w.watcher.Events:
					if !ok {
						debounce.Stop()
						return nil
					}
					if !w.relevant(e) {
						continue
					}
					if !debounce.Stop() {
						<-debounce.C
					}
					debounce.Reset(w.debounceDur)
				case <-debounce.C:
					break debounceLoop
				}
			}

			w.onChange()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Error().Err(err).Msg("watcher error")
		}
	}
}

func (w *ChangeWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(event.Name)
	want := filepath.Base(w.dbPath)
	return base == want || strings.HasPrefix(base, want+"-wal")
}
