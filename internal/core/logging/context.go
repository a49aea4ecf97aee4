// Package logging carries correlation IDs through a context so log events
// emitted deep in the engine can be traced back to an owner, task or request.
package logging

import "context"

type fieldsKey struct{}

// Fields are the correlation IDs attached to a context. Empty values are
// omitted from log events.
type Fields struct {
	OwnerID   string
	TaskID    string
	RequestID string
}

func (f Fields) empty() bool {
	return f == Fields{}
}

// merge overlays the non-empty values of next onto f.
func (f Fields) merge(next Fields) Fields {
	if next.OwnerID != "" {
		f.OwnerID = next.OwnerID
	}
	if next.TaskID != "" {
		f.TaskID = next.TaskID
	}
	if next.RequestID != "" {
		f.RequestID = next.RequestID
	}
	return f
}

// With returns a context carrying f merged over any fields already present.
func With(ctx context.Context, f Fields) context.Context {
	return context.WithValue(ctx, fieldsKey{}, FromContext(ctx).merge(f))
}

// FromContext returns the fields attached to ctx.
func FromContext(ctx context.Context) Fields {
	if ctx == nil {
		return Fields{}
	}
	f, _ := ctx.Value(fieldsKey{}).(Fields)
	return f
}

// ForTask tags ctx with an owner and one of their tasks.
func ForTask(ctx context.Context, ownerID, taskID string) context.Context {
	return With(ctx, Fields{OwnerID: ownerID, TaskID: taskID})
}

// WithRequestID tags ctx with an API request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return With(ctx, Fields{RequestID: requestID})
}
