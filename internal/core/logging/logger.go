package logging

import (
	"github.com/rs/zerolog"
)

// Install returns logger with ContextHook attached.
func Install(logger zerolog.Logger) zerolog.Logger {
	return logger.Hook(ContextHook{})
}
