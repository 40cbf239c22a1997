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

// NewTopic describes a topic to create.
type NewTopic struct {
	ProjectID     string
	SourceID      string
	Title         string
	RichnessScore float64
	Stage         TopicStage
}

// CreateTopic inserts a topic. Stage defaults to topics_generated.
func (s *Store) CreateTopic(ctx context.Context, params NewTopic) (*Topic, error) {
	if strings.TrimSpace(params.ProjectID) == "" {
		return nil, errors.New("create topic: project id is required")
	}
	now := s.now()
	topic := &Topic{
		ID:            uuid.NewString(),
		ProjectID:     params.ProjectID,
		SourceID:      params.SourceID,
		Title:         strings.TrimSpace(params.Title),
		RichnessScore: params.RichnessScore,
		Stage:         params.Stage,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if topic.Stage == "" {
		topic.Stage = StageTopicsGenerated
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO topics (id, project_id, source_id, title, richness_score, pipeline_stage, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		topic.ID, topic.ProjectID, nullableString(topic.SourceID), topic.Title, topic.RichnessScore,
		string(topic.Stage), formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("create topic: %w", err)
	}
	return topic, nil
}

// GetTopic fetches a topic by id.
func (s *Store) GetTopic(ctx context.Context, id string) (*Topic, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+topicColumns+` FROM topics WHERE id = ?`, id)
	topic, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("topic %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return topic, nil
}

// ListTopics returns a project's topics, optionally narrowed to stages.
func (s *Store) ListTopics(ctx context.Context, projectID string, stages ...TopicStage) ([]*Topic, error) {
	query := `SELECT ` + topicColumns + ` FROM topics WHERE project_id = ?`
	args := []any{projectID}
	if len(stages) > 0 {
		query += ` AND pipeline_stage IN (` + makePlaceholders(len(stages)) + `)`
		args = append(args, stageArgs(stages)...)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	return s.queryTopics(ctx, query, args...)
}

func (s *Store) queryTopics(ctx context.Context, query string, args ...any) ([]*Topic, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()
	var topics []*Topic
	for rows.Next() {
		topic, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, topic)
	}
	return topics, rows.Err()
}

// AdvanceTopicStage moves a topic to stage only if stage is strictly ahead of
// the current one. Absorbing stages never advance. The returned flag reports
// whether this caller performed the move, which makes it safe to use as a
// race-free barrier.
func (s *Store) AdvanceTopicStage(ctx context.Context, topicID string, stage TopicStage) (bool, error) {
	earlier := stagesBefore(stage)
	if len(earlier) == 0 {
		return false, nil
	}
	args := append([]any{string(stage), formatTime(s.now()), topicID}, stageArgs(earlier)...)
	res, err := s.execWithRetry(ctx,
		`UPDATE topics SET pipeline_stage = ?, pipeline_error = NULL, updated_at = ?
         WHERE id = ? AND pipeline_stage IN (`+makePlaceholders(len(earlier))+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("advance topic stage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ResetTopicStage rewrites a topic's stage unconditionally and clears its
// error. Only manual restarts use it.
func (s *Store) ResetTopicStage(ctx context.Context, topicID string, stage TopicStage) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE topics SET pipeline_stage = ?, pipeline_error = NULL, updated_at = ? WHERE id = ?`,
		string(stage), formatTime(s.now()), topicID,
	)
	if err != nil {
		return fmt.Errorf("reset topic stage: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("topic %s: %w", topicID, ErrNotFound)
	}
	return nil
}

// SetTopicAbsorbing moves a topic into error, discarded, or rejected.
func (s *Store) SetTopicAbsorbing(ctx context.Context, topicID string, stage TopicStage, message string) error {
	if !stage.IsAbsorbing() {
		return fmt.Errorf("stage %q is not absorbing", stage)
	}
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE topics SET pipeline_stage = ?, pipeline_error = ?, updated_at = ? WHERE id = ?`,
		string(stage), nullableString(message), formatTime(s.now()), topicID,
	); err != nil {
		return fmt.Errorf("set topic stage: %w", err)
	}
	return nil
}

// MarkTopicAdmitted stamps admitted_at when the content engine or a manual
// trigger sends a topic into story generation.
func (s *Store) MarkTopicAdmitted(ctx context.Context, topicID string) error {
	now := formatTime(s.now())
	if err := s.execWithoutResultRetry(ctx,
		`UPDATE topics SET admitted_at = COALESCE(admitted_at, ?), updated_at = ? WHERE id = ?`,
		now, now, topicID,
	); err != nil {
		return fmt.Errorf("mark topic admitted: %w", err)
	}
	return nil
}

// CountTopicsInStages counts a project's topics in any of stages.
func (s *Store) CountTopicsInStages(ctx context.Context, projectID string, stages []TopicStage) (int, error) {
	if len(stages) == 0 {
		return 0, nil
	}
	args := append([]any{projectID}, stageArgs(stages)...)
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM topics WHERE project_id = ? AND pipeline_stage IN (`+makePlaceholders(len(stages))+`)`,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count topics: %w", err)
	}
	return count, nil
}

// CountActivePipeline counts a project's topics with a pending or processing
// cost-bearing job.
func (s *Store) CountActivePipeline(ctx context.Context, projectID string) (int, error) {
	var costTypes []any
	for _, t := range AllJobTypes {
		if t.CostBearing() {
			costTypes = append(costTypes, string(t))
		}
	}
	args := append([]any{projectID, string(JobPending), string(JobProcessing)}, costTypes...)
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(DISTINCT topic_id) FROM jobs
         WHERE project_id = ? AND topic_id IS NOT NULL AND status IN (?, ?)
           AND job_type IN (`+makePlaceholders(len(costTypes))+`)`,
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active pipeline: %w", err)
	}
	return count, nil
}

// CountAdmittedBetween counts topics admitted in [start, end).
func (s *Store) CountAdmittedBetween(ctx context.Context, projectID string, start, end time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM topics WHERE project_id = ? AND admitted_at >= ? AND admitted_at < ?`,
		projectID, formatTime(start), formatTime(end),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admitted topics: %w", err)
	}
	return count, nil
}

// FindStrandedTopic returns the longest-idle topic of a project sitting in one
// of stages with no pending or processing job and no update since idleSince.
func (s *Store) FindStrandedTopic(ctx context.Context, projectID string, stages []TopicStage, idleSince time.Time) (*Topic, error) {
	if len(stages) == 0 {
		return nil, nil
	}
	args := append([]any{projectID}, stageArgs(stages)...)
	args = append(args, formatTime(idleSince), string(JobPending), string(JobProcessing))
	topics, err := s.queryTopics(ctx,
		`SELECT `+topicColumns+` FROM topics t
         WHERE t.project_id = ? AND t.pipeline_stage IN (`+makePlaceholders(len(stages))+`)
           AND t.updated_at < ?
           AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.topic_id = t.id AND j.status IN (?, ?))
         ORDER BY t.updated_at ASC, t.rowid ASC LIMIT 1`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	return topics[0], nil
}

// BestGeneratedTopic returns the richest topic waiting at topics_generated
// with a score of at least minRichness and no active job.
func (s *Store) BestGeneratedTopic(ctx context.Context, projectID string, minRichness float64) (*Topic, error) {
	topics, err := s.queryTopics(ctx,
		`SELECT `+topicColumns+` FROM topics t
         WHERE t.project_id = ? AND t.pipeline_stage = ? AND t.richness_score >= ?
           AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.topic_id = t.id AND j.status IN (?, ?))
         ORDER BY t.richness_score DESC, t.created_at ASC, t.rowid ASC LIMIT 1`,
		projectID, string(StageTopicsGenerated), minRichness, string(JobPending), string(JobProcessing),
	)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, nil
	}
	return topics[0], nil
}
