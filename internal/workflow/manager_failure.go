package workflow

import (
	"context"
	"errors"
	"log/slog"

	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
)

func (m *Manager) handleJobFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error) pipeline.Outcome {
	m.setLastError(jobErr)
	outcome, err := m.store.FailJob(ctx, job.ID, m.workerID, jobErr)
	if err != nil {
		logging.ErrorWithContext(logger, "failed to persist job failure", "job_fail_persist_failed",
			logging.Error(err),
			logging.String("job_error", jobErr.Error()),
			logging.String(logging.FieldErrorHint, "check queue database access"),
		)
		return pipeline.Outcome{Err: jobErr}
	}
	if !outcome.Applied {
		logger.Info("job failure discarded; job was cancelled or reclaimed",
			logging.String(logging.FieldEventType, "job_fail_discarded"),
			logging.Error(jobErr),
		)
		return pipeline.Outcome{Err: jobErr}
	}

	attrs := []logging.Attr{
		logging.Error(jobErr),
		logging.String("failure_class", string(outcome.Failure.Class)),
		logging.String("failure_category", string(outcome.Failure.Category)),
		logging.Int("attempt", job.Attempt),
	}
	if outcome.Retried {
		logger.Warn("job failed; retry scheduled", logging.Args(append(attrs,
			logging.Time("retry_at", outcome.RetryAt),
			logging.String(logging.FieldEventType, "job_retry_scheduled"),
		)...)...)
		return pipeline.Outcome{Failure: &outcome, Err: jobErr}
	}

	m.recordFailure()
	logging.ErrorWithContext(logger, "job failed permanently", "job_failed", append(attrs,
		logging.Bool("topic_marked", outcome.TopicMarked),
		logging.Int64("cancelled_jobs", outcome.Cancelled),
		logging.String(logging.FieldErrorHint, "inspect the handler output, then restart the topic"),
	)...)
	if job.TopicID == "" {
		m.notifyError(ctx, logger, job, jobErr)
	}
	return pipeline.Outcome{Failure: &outcome, Err: jobErr}
}

// notifyError alerts on terminal failures that have no topic to carry them,
// such as source extraction.
func (m *Manager) notifyError(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notifications.EventError, notifications.Payload{
		"error":   jobErr.Error(),
		"context": string(job.Type) + " job " + job.ID,
	}); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("shutting down, could not send error notification")
			return
		}
		logger.Debug("error notification failed", logging.Error(err))
	}
}
