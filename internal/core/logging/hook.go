package logging

import (
	"github.com/rs/zerolog"
)

// ContextHook writes the Fields of an event's context into the event. Attach
// it to the root logger; loggers derived with With() inherit it.
type ContextHook struct{}

func (ContextHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	f := FromContext(e.GetCtx())
	if f.empty() {
		return
	}

	if f.OwnerID != "" {
		e.Str("owner_id", f.OwnerID)
	}
	if f.TaskID != "" {
		e.Str("task_id", f.TaskID)
	}
	if f.RequestID != "" {
		e.Str("request_id", f.RequestID)
	}
}
