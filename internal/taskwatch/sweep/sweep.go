// Package sweep reclaims expired key-value entries in the background.
package sweep

import (
	"context"
	"time"

	"github.com/colonyops/taskwatch/internal/core/kv"
	"github.com/rs/zerolog"
)

// Run sweeps expired entries every interval until ctx is cancelled. Sweep
// failures are logged and retried on the next tick.
func Run(ctx context.Context, store kv.Sweeper, interval time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := store.SweepExpired(ctx)
			switch {
			case err != nil:
				log.Debug().Err(err).Msg("kv sweep failed")
			case n > 0:
				log.Debug().Int64("removed", n).Msg("kv sweep")
			}
		}
	}
}
