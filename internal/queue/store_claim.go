package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"storyloom/internal/services"
)

const (
	transientBaseDelay = 30 * time.Second
	throttleBaseDelay  = 2 * time.Minute
	maxRetryDelay      = 30 * time.Minute
	maxErrorMessageLen = 2000
)

// ClaimOptions narrows which jobs a worker is willing to take.
type ClaimOptions struct {
	// ExcludeTypes skips job types the worker is cooling down on.
	ExcludeTypes []JobType
}

// precedenceCase renders the job-type precedence as a SQL CASE expression.
var precedenceCase = func() string {
	var b strings.Builder
	b.WriteString("CASE j.job_type")
	for _, jobType := range AllJobTypes {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", jobType, jobType.Precedence())
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}()

// ClaimNext atomically moves one eligible pending job to processing and
// returns it, or nil when nothing is eligible. Selection and update happen in
// a single statement so concurrent claimers can never take the same job.
func (s *Store) ClaimNext(ctx context.Context, workerID string, opts ClaimOptions) (*Job, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())

	exclude := ""
	args := []any{
		string(JobProcessing), workerID, now, now, now,
		string(JobPending), now, string(ProjectActive), string(JobCompleted),
	}
	if len(opts.ExcludeTypes) > 0 {
		exclude = " AND j.job_type NOT IN (" + makePlaceholders(len(opts.ExcludeTypes)) + ")"
		for _, t := range opts.ExcludeTypes {
			args = append(args, string(t))
		}
	}
	args = append(args, string(JobPending))

	query := `UPDATE jobs
        SET status = ?, locked_by = ?, locked_at = ?, attempt = attempt + 1,
            started_at = COALESCE(started_at, ?), updated_at = ?
        WHERE id = (
            SELECT j.id FROM jobs j
            JOIN projects p ON p.id = j.project_id
            LEFT JOIN jobs d ON d.id = j.depends_on
            WHERE j.status = ? AND j.run_after <= ?
              AND p.status = ? AND p.pipeline_paused = 0
              AND (j.depends_on IS NULL OR d.status = ?)` + exclude + `
            ORDER BY j.priority DESC, ` + precedenceCase + ` DESC, j.created_at ASC, j.rowid ASC
            LIMIT 1
        ) AND status = ?
        RETURNING ` + jobColumns

	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, query, args...)
		claimed, err := scanJob(row)
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// CompleteJob records a successful result. It only applies while the job is
// still processing under workerID, so a cancelled or reclaimed job is never
// resurrected. The returned flag reports whether the update applied.
func (s *Store) CompleteJob(ctx context.Context, id, workerID string, result map[string]any) (bool, error) {
	encoded, err := encodeObject(result)
	if err != nil {
		return false, fmt.Errorf("encode result: %w", err)
	}
	now := formatTime(s.now())
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, result = ?, completed_at = ?, locked_by = NULL, locked_at = NULL,
             error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ? AND locked_by = ?`,
		string(JobCompleted), encoded, now, now, id, string(JobProcessing), workerID,
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FailOutcome reports what FailJob decided.
type FailOutcome struct {
	// Applied is false when the job was no longer processing under the worker.
	Applied bool
	Failure services.Failure
	Retried bool
	RetryAt time.Time
	// TopicMarked reports whether the owning topic moved to the error stage.
	TopicMarked bool
	TopicError  string
	// Cancelled counts sibling jobs cancelled by a fatal cascade.
	Cancelled int64
}

// RetryDelay returns the backoff before the next attempt. Throttle failures
// grow linearly with the attempt count, transient ones exponentially.
func RetryDelay(class services.FailureClass, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var delay time.Duration
	switch class {
	case services.ClassThrottle:
		delay = throttleBaseDelay * time.Duration(attempt)
	default:
		shift := min(attempt-1, 16)
		delay = transientBaseDelay << shift
	}
	if delay <= 0 || delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// FailJob classifies handlerErr and either schedules a retry or fails the job
// terminally. A terminal failure marks the owning topic as errored; a fatal
// one also cancels the topic's other pending and processing jobs. Everything
// happens in one transaction.
func (s *Store) FailJob(ctx context.Context, id, workerID string, handlerErr error) (FailOutcome, error) {
	ctx = ensureContext(ctx)
	failure := services.Classify(handlerErr)
	detail := "unknown error"
	if handlerErr != nil {
		detail = handlerErr.Error()
	}

	var outcome FailOutcome
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		outcome = FailOutcome{Failure: failure}
		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if job.Status != JobProcessing || job.LockedBy != workerID {
			return nil
		}
		outcome.Applied = true
		now := s.now()

		retry := failure.Class == services.ClassThrottle ||
			(failure.Class == services.ClassTransient && job.Attempt < job.MaxAttempts)
		if retry {
			outcome.Retried = true
			outcome.RetryAt = now.Add(RetryDelay(failure.Class, job.Attempt))
			_, err := tx.ExecContext(ctx,
				`UPDATE jobs SET status = ?, run_after = ?, locked_by = NULL, locked_at = NULL,
                     error_message = ?, error_stack = ?, updated_at = ?
                 WHERE id = ?`,
				string(JobPending), formatTime(outcome.RetryAt), truncateText(detail), detail, formatTime(now), id,
			)
			return err
		}

		summary := services.TopicMessage(failure, string(job.Type), detail)
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, completed_at = ?, locked_by = NULL, locked_at = NULL,
                 error_message = ?, error_stack = ?, updated_at = ?
             WHERE id = ?`,
			string(JobFailed), formatTime(now), truncateText(summary), detail, formatTime(now), id,
		); err != nil {
			return err
		}

		if job.TopicID != "" {
			absorbing := stageArgs([]TopicStage{StageError, StageDiscarded, StageRejected, StagePublished})
			args := append([]any{string(StageError), summary, formatTime(now), job.TopicID}, absorbing...)
			res, err := tx.ExecContext(ctx,
				`UPDATE topics SET pipeline_stage = ?, pipeline_error = ?, updated_at = ?
                 WHERE id = ? AND pipeline_stage NOT IN (`+makePlaceholders(len(absorbing))+`)`,
				args...,
			)
			if err != nil {
				return err
			}
			if affected, _ := res.RowsAffected(); affected > 0 {
				outcome.TopicMarked = true
				outcome.TopicError = summary
			}
			if failure.Cascades() {
				cancelled, err := s.cancelWhere(ctx, tx, "topic_id = ? AND id <> ?", job.TopicID, id)
				if err != nil {
					return err
				}
				outcome.Cancelled = cancelled
			}
		}
		if job.Type == JobExtractSource && job.SourceID != "" {
			if _, err := tx.ExecContext(ctx,
				`UPDATE sources SET status = ?, updated_at = ? WHERE id = ?`,
				string(SourceFailed), formatTime(now), job.SourceID,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return FailOutcome{}, fmt.Errorf("fail job: %w", err)
	}
	return outcome, nil
}

func truncateText(value string) string {
	runes := []rune(value)
	if len(runes) <= maxErrorMessageLen {
		return value
	}
	return string(runes[:maxErrorMessageLen])
}
