package stage

import (
	"context"

	"storyloom/internal/queue"
)

// Handler executes one claimed job and returns its result object. Result keys
// such as asset_ids, qualifying_topic_ids, needs_expansion and forwardPayload
// carry meaning for the pipeline orchestrator.
type Handler interface {
	Execute(ctx context.Context, job *queue.Job) (map[string]any, error)
}

// HealthChecker is implemented by handlers that can report readiness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) Health
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *queue.Job) (map[string]any, error)

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, job *queue.Job) (map[string]any, error) {
	return f(ctx, job)
}
