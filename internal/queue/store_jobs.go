package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidJob is returned when enqueue parameters are incomplete.
var ErrInvalidJob = errors.New("invalid job")

const (
	defaultMaxAttempts = 3
)

// EnqueueParams describes a job to create.
type EnqueueParams struct {
	ProjectID   string
	TopicID     string
	SourceID    string
	Type        JobType
	Payload     map[string]any
	Priority    int
	DependsOn   string
	MaxAttempts int
	RunAfter    time.Time
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) buildJob(params EnqueueParams) (*Job, error) {
	if strings.TrimSpace(params.ProjectID) == "" {
		return nil, fmt.Errorf("%w: project id is required", ErrInvalidJob)
	}
	if !params.Type.Known() {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidJob, params.Type)
	}
	now := s.now()
	job := &Job{
		ID:          uuid.NewString(),
		ProjectID:   params.ProjectID,
		TopicID:     params.TopicID,
		SourceID:    params.SourceID,
		Type:        params.Type,
		Payload:     params.Payload,
		Status:      JobPending,
		Priority:    params.Priority,
		DependsOn:   params.DependsOn,
		MaxAttempts: params.MaxAttempts,
		RunAfter:    params.RunAfter.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if job.Payload == nil {
		job.Payload = map[string]any{}
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	if params.RunAfter.IsZero() {
		job.RunAfter = now
	}
	return job, nil
}

func insertJob(ctx context.Context, exec execer, job *Job) error {
	payload, err := encodeObject(job.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = exec.ExecContext(ctx,
		`INSERT INTO jobs (id, project_id, topic_id, source_id, job_type, payload, status, priority, depends_on, attempt, max_attempts, run_after, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID,
		job.ProjectID,
		nullableString(job.TopicID),
		nullableString(job.SourceID),
		string(job.Type),
		payload,
		string(JobPending),
		job.Priority,
		nullableString(job.DependsOn),
		job.MaxAttempts,
		formatTime(job.RunAfter),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Enqueue creates a pending job. Priority defaults to 0, max attempts to 3,
// and run_after to now.
func (s *Store) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	job, err := s.buildJob(params)
	if err != nil {
		return nil, err
	}
	ctx = ensureContext(ctx)
	if err := retryOnBusy(ctx, func() error { return insertJob(ctx, s.db, job) }); err != nil {
		return nil, err
	}
	s.notifyEnqueued(*job)
	return job, nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListFilter narrows ListJobs results. Zero values match everything.
type ListFilter struct {
	Statuses  []JobStatus
	ProjectID string
	TopicID   string
	Type      JobType
	Limit     int
	Offset    int
}

// ListJobs returns jobs newest first.
func (s *Store) ListJobs(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, string(status))
		}
	}
	if filter.ProjectID != "" {
		clauses = append(clauses, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.TopicID != "" {
		clauses = append(clauses, "topic_id = ?")
		args = append(args, filter.TopicID)
	}
	if filter.Type != "" {
		clauses = append(clauses, "job_type = ?")
		args = append(args, string(filter.Type))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// StatsFilter narrows Stats to one project.
type StatsFilter struct {
	ProjectID string
}

// Stats aggregates job counts by status and by (type, status).
type Stats struct {
	ByStatus map[JobStatus]int
	ByType   map[JobType]map[JobStatus]int
	Total    int
}

// Stats returns aggregate job counts.
func (s *Store) Stats(ctx context.Context, filter StatsFilter) (Stats, error) {
	query := `SELECT job_type, status, COUNT(1) FROM jobs`
	var args []any
	if filter.ProjectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, filter.ProjectID)
	}
	query += ` GROUP BY job_type, status`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return Stats{}, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{
		ByStatus: make(map[JobStatus]int),
		ByType:   make(map[JobType]map[JobStatus]int),
	}
	for rows.Next() {
		var (
			jobType string
			status  string
			count   int
		)
		if err := rows.Scan(&jobType, &status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByStatus[JobStatus(status)] += count
		perType, ok := stats.ByType[JobType(jobType)]
		if !ok {
			perType = make(map[JobStatus]int)
			stats.ByType[JobType(jobType)] = perType
		}
		perType[JobStatus(status)] = count
		stats.Total += count
	}
	return stats, rows.Err()
}

// CancelJob cancels a single pending or processing job. It reports whether the
// job was still cancellable.
func (s *Store) CancelJob(ctx context.Context, id string) (bool, error) {
	affected, err := s.cancelWhere(ctx, s.db, "id = ?", id)
	return affected > 0, err
}

// CancelJobsForTopic cancels every pending or processing job of a topic.
func (s *Store) CancelJobsForTopic(ctx context.Context, topicID string) (int64, error) {
	return s.cancelWhere(ctx, s.db, "topic_id = ?", topicID)
}

// CancelJobsForProject cancels every pending or processing job of a project.
func (s *Store) CancelJobsForProject(ctx context.Context, projectID string) (int64, error) {
	return s.cancelWhere(ctx, s.db, "project_id = ?", projectID)
}

func (s *Store) cancelWhere(ctx context.Context, exec execer, clause string, args ...any) (int64, error) {
	ctx = ensureContext(ctx)
	now := formatTime(s.now())
	query := `UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, completed_at = ?, updated_at = ?
         WHERE status IN (?, ?) AND ` + clause
	fullArgs := append([]any{string(JobCancelled), now, now, string(JobPending), string(JobProcessing)}, args...)

	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := exec.ExecContext(ctx, query, fullArgs...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cancel jobs: %w", err)
	}
	return affected, nil
}

// ResetStaleJobs returns processing jobs whose lock is older than staleAfter to
// pending so another worker can claim them.
func (s *Store) ResetStaleJobs(ctx context.Context, staleAfter time.Duration) (int64, error) {
	now := s.now()
	cutoff := now.Add(-staleAfter)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, locked_by = NULL, locked_at = NULL, updated_at = ?
         WHERE status = ? AND locked_at IS NOT NULL AND locked_at < ?`,
		string(JobPending),
		formatTime(now),
		string(JobProcessing),
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// LatestResult returns the result of the most recently completed job of the
// given type for a topic, or nil when none exists.
func (s *Store) LatestResult(ctx context.Context, topicID string, jobType JobType) (map[string]any, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT result FROM jobs WHERE topic_id = ? AND job_type = ? AND status = ?
         ORDER BY completed_at DESC, rowid DESC LIMIT 1`,
		topicID, string(jobType), string(JobCompleted),
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest result: %w", err)
	}
	return decodeObject(raw), nil
}

// HasActiveJobs reports whether a topic has any pending or processing job.
func (s *Store) HasActiveJobs(ctx context.Context, topicID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM jobs WHERE topic_id = ? AND status IN (?, ?)`,
		topicID, string(JobPending), string(JobProcessing),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count active jobs: %w", err)
	}
	return count > 0, nil
}
