package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/services"
)

// persistTimeout bounds store writes that must land even while shutting down.
const persistTimeout = 10 * time.Second

func (m *Manager) executeJob(ctx context.Context, job *queue.Job) {
	jobCtx := m.withJobContext(ctx, job, uuid.NewString())
	logger := logging.WithContext(jobCtx, m.logger)
	started := time.Now()
	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.Int("attempt", job.Attempt),
		logging.Int("max_attempts", job.MaxAttempts),
	)

	result, execErr := m.runHandler(jobCtx, job)
	if execErr != nil && ctx.Err() != nil {
		logger.Info("job interrupted by shutdown; stale sweep will requeue it",
			logging.String(logging.FieldEventType, "job_interrupted"),
		)
		return
	}

	// The handler's work is done; record it even if shutdown begins now.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(jobCtx), persistTimeout)
	defer cancel()

	var outcome pipeline.Outcome
	if execErr != nil {
		outcome = m.handleJobFailure(persistCtx, logger, job, execErr)
	} else {
		applied, err := m.store.CompleteJob(persistCtx, job.ID, m.workerID, result)
		if err != nil {
			m.setLastError(err)
			logging.ErrorWithContext(logger, "failed to persist job completion", "job_complete_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			return
		}
		outcome = pipeline.Outcome{Completed: applied, Result: result}
		if applied {
			m.recordCompletion(job)
			logger.Info("job completed",
				logging.String(logging.FieldEventType, "job_complete"),
				logging.Duration("job_duration", time.Since(started)),
			)
		} else {
			logger.Info("job completion discarded; job was cancelled or reclaimed",
				logging.String(logging.FieldEventType, "job_complete_discarded"),
			)
		}
	}

	if m.observer != nil {
		m.observer.OnJobFinished(persistCtx, job, outcome)
	}
}

// runHandler executes the registered handler, turning a missing handler or a
// panic into an ordinary job error.
func (m *Manager) runHandler(ctx context.Context, job *queue.Job) (result map[string]any, err error) {
	handler, ok := m.registry.Lookup(job.Type)
	if !ok {
		return nil, services.Wrap(services.ErrNoHandler, string(job.Type), "dispatch", "no handler registered for job type", nil)
	}
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logging.WithContext(ctx, m.logger), "job handler panicked", "job_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
			)
			result = nil
			err = services.Wrap(services.ErrHandlerPanic, string(job.Type), "execute", fmt.Sprint(r), nil)
		}
	}()
	result, err = handler.Execute(ctx, job)
	if err == nil && result == nil {
		result = map[string]any{}
	}
	return result, err
}

func (m *Manager) withJobContext(ctx context.Context, job *queue.Job, requestID string) context.Context {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithJobType(ctx, string(job.Type))
	ctx = services.WithProjectID(ctx, job.ProjectID)
	if job.TopicID != "" {
		ctx = services.WithTopicID(ctx, job.TopicID)
	}
	ctx = services.WithWorkerID(ctx, m.workerID)
	return services.WithRequestID(ctx, requestID)
}
