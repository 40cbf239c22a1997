package stage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/queue"
)

// Registry maps job types to handlers. Registration must finish before the
// registry is handed to a worker; lookups afterwards are read-only.
type Registry struct {
	handlers map[queue.JobType]Handler
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[queue.JobType]Handler)}
}

// NewRegistryFromConfig registers a CommandHandler for every entry of the
// handlers config section.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	registry := NewRegistry()
	if cfg == nil {
		return registry, nil
	}
	keys := make([]string, 0, len(cfg.Handlers))
	for key := range cfg.Handlers {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		jobType, ok := queue.ParseJobType(key)
		if !ok {
			return nil, fmt.Errorf("handlers.%s: unknown job type", key)
		}
		entry := cfg.Handlers[key]
		handler := &CommandHandler{
			JobType: jobType,
			Command: entry.Command,
			Args:    append([]string(nil), entry.Args...),
			Timeout: time.Duration(entry.TimeoutSeconds) * time.Second,
		}
		if err := registry.Register(jobType, handler); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Register binds handler to jobType. Each type may be registered once.
func (r *Registry) Register(jobType queue.JobType, handler Handler) error {
	if !jobType.Known() {
		return fmt.Errorf("register handler: unknown job type %q", jobType)
	}
	if handler == nil {
		return fmt.Errorf("register handler for %s: nil handler", jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register handler: %s already registered", jobType)
	}
	r.handlers[jobType] = handler
	return nil
}

// Lookup returns the handler for jobType.
func (r *Registry) Lookup(jobType queue.JobType) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	handler, ok := r.handlers[jobType]
	return handler, ok
}

// Types lists registered job types in pipeline order.
func (r *Registry) Types() []queue.JobType {
	if r == nil {
		return nil
	}
	types := make([]queue.JobType, 0, len(r.handlers))
	for _, jobType := range queue.AllJobTypes {
		if _, ok := r.handlers[jobType]; ok {
			types = append(types, jobType)
		}
	}
	return types
}

// Missing lists job types with no registered handler.
func (r *Registry) Missing() []queue.JobType {
	var missing []queue.JobType
	for _, jobType := range queue.AllJobTypes {
		if _, ok := r.Lookup(jobType); !ok {
			missing = append(missing, jobType)
		}
	}
	return missing
}

// Health reports readiness for every registered handler in pipeline order.
func (r *Registry) Health(ctx context.Context) []Health {
	types := r.Types()
	results := make([]Health, 0, len(types))
	for _, jobType := range types {
		handler := r.handlers[jobType]
		if checker, ok := handler.(HealthChecker); ok {
			results = append(results, checker.HealthCheck(ctx))
			continue
		}
		results = append(results, Healthy(string(jobType)))
	}
	return results
}
