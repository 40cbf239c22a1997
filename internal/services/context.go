package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	jobTypeKey   contextKey = "job_type"
	topicIDKey   contextKey = "topic_id"
	projectIDKey contextKey = "project_id"
	workerIDKey  contextKey = "worker_id"
	requestIDKey contextKey = "request_id"
)

func withString(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func stringFrom(ctx context.Context, key contextKey) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	return withString(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobIDKey)
}

// WithJobType annotates context with the job type being executed.
func WithJobType(ctx context.Context, jobType string) context.Context {
	return withString(ctx, jobTypeKey, jobType)
}

// JobTypeFromContext returns the job type if present.
func JobTypeFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, jobTypeKey)
}

// WithTopicID annotates context with the owning topic.
func WithTopicID(ctx context.Context, id string) context.Context {
	return withString(ctx, topicIDKey, id)
}

// TopicIDFromContext returns the topic identifier if present.
func TopicIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, topicIDKey)
}

// WithProjectID annotates context with the owning project.
func WithProjectID(ctx context.Context, id string) context.Context {
	return withString(ctx, projectIDKey, id)
}

// ProjectIDFromContext returns the project identifier if present.
func ProjectIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, projectIDKey)
}

// WithWorkerID annotates context with the claiming worker.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return withString(ctx, workerIDKey, id)
}

// WorkerIDFromContext returns the worker identifier if present.
func WorkerIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, workerIDKey)
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	return withString(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	return stringFrom(ctx, requestIDKey)
}
