package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// LogObserver returns an Observer that logs publishes at debug level, drops
// as warnings and subscriber panics as errors.
func LogObserver(logger zerolog.Logger) Observer {
	log := logger.With().Str("component", "eventbus").Logger()
	return Observer{
		Published: func(event Event, _ any) {
			log.Debug().Str("event", string(event)).Msg("event published")
		},
		Dropped: func(event Event, _ any) {
			log.Warn().Str("event", string(event)).Msg("event dropped: buffer full")
		},
		Panicked: func(event Event, _ any, recovered any) {
			log.Error().
				Str("event", string(event)).
				Str("panic", fmt.Sprint(recovered)).
				Msg("subscriber panicked")
		},
	}
}
