package queue

import "context"

// Job defines a queue job handler. Each job subscribes to one message
// type; the queue routes payloads by Type.
type Job interface {
	// Name returns the unique identifier of the job.
	Name() string

	// Type returns the type of message that the job handles.
	Type() string

	// Handle processes the job with the given payload.
	Handle(ctx context.Context, payload interface{}) error
}
