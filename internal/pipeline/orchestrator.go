package pipeline

import (
	"context"
	"log/slog"
	"time"

	"storyloom/internal/artifacts"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/queue"
	"storyloom/internal/services"
)

// Outcome is what the worker observed for a finished job.
type Outcome struct {
	// Completed reports that the worker's completion was applied. A job
	// cancelled or reclaimed while running is not Completed.
	Completed bool
	Result    map[string]any
	// Failure is set when the handler failed and FailJob ran.
	Failure *queue.FailOutcome
	Err     error
}

// Orchestrator applies the flow table to finished jobs.
type Orchestrator struct {
	store    *queue.Store
	flow     Flow
	resume   map[queue.TopicStage]queue.JobType
	restart  map[queue.TopicStage]queue.JobType
	resolver artifacts.Resolver
	notifier notifications.Service
	logger   *slog.Logger
	clock    func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFlow replaces the default flow table.
func WithFlow(flow Flow) Option {
	return func(o *Orchestrator) { o.flow = flow }
}

// WithResolver sets the artifact resolver used for terminal publications.
func WithResolver(resolver artifacts.Resolver) Option {
	return func(o *Orchestrator) { o.resolver = resolver }
}

// WithNotifier sets the notification service.
func WithNotifier(notifier notifications.Service) Option {
	return func(o *Orchestrator) { o.notifier = notifier }
}

// WithClock overrides the time source used for publication scheduling.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// New constructs an orchestrator over store.
func New(store *queue.Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		flow:     DefaultFlow(),
		resolver: artifacts.Passthrough{},
		notifier: notifications.NewService(nil),
		logger:   logging.NewComponentLogger(logger, "pipeline"),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.resume = o.flow.ResumeTable()
	o.restart = o.flow.RestartTable()
	return o
}

// Flow returns the flow table in use.
func (o *Orchestrator) Flow() Flow {
	return o.flow
}

// OnJobFinished reacts to a finished job. Errors are logged and never
// propagate: a completed job stays completed even when orchestration fails,
// and the topic waits at its stage until it is resumed or restarted.
func (o *Orchestrator) OnJobFinished(ctx context.Context, job *queue.Job, outcome Outcome) {
	if job == nil {
		return
	}
	logger := logging.WithContext(ctx, o.logger)
	if outcome.Failure != nil {
		o.onFailure(ctx, logger, job, *outcome.Failure)
		return
	}
	if !outcome.Completed {
		logger.Debug("completion not applied; skipping orchestration",
			logging.String(logging.FieldEventType, "orchestration_skipped"),
		)
		return
	}
	job.Result = outcome.Result
	if err := o.HandleCompletion(ctx, job); err != nil {
		logging.ErrorWithContext(logger, "orchestration failed; topic parked at current stage", "orchestration_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "restart the topic or wait for the stranded-topic sweep"),
		)
	}
}

func (o *Orchestrator) onFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, outcome queue.FailOutcome) {
	if !outcome.Applied || !outcome.TopicMarked || job.TopicID == "" {
		return
	}
	title := job.TopicID
	if topic, err := o.store.GetTopic(ctx, job.TopicID); err == nil && topic.Title != "" {
		title = topic.Title
	}
	logger.Info("topic marked failed",
		logging.String(logging.FieldEventType, "topic_failed"),
		logging.String("failure_class", string(outcome.Failure.Class)),
		logging.Int64("cancelled_jobs", outcome.Cancelled),
	)
	o.notify(ctx, notifications.EventTopicFailed, notifications.Payload{
		"title":   title,
		"jobType": string(job.Type),
		"error":   outcome.TopicError,
	})
}

func (o *Orchestrator) enqueue(ctx context.Context, params queue.EnqueueParams) (*queue.Job, error) {
	job, err := o.store.Enqueue(ctx, params)
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, o.logger).Info("job enqueued",
		logging.String(logging.FieldEventType, "job_enqueued"),
		logging.String("next_job_id", job.ID),
		logging.String("next_job_type", string(job.Type)),
		logging.String(logging.FieldTopicID, job.TopicID),
	)
	return job, nil
}

func withJobContext(ctx context.Context, job *queue.Job) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, string(job.Type))
	ctx = services.WithProjectID(ctx, job.ProjectID)
	return services.WithTopicID(ctx, job.TopicID)
}
