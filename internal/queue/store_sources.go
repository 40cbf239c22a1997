package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// CreateSource registers raw material for a project.
func (s *Store) CreateSource(ctx context.Context, projectID, kind, uri string) (*Source, error) {
	if projectID == "" {
		return nil, errors.New("create source: project id is required")
	}
	now := s.now()
	source := &Source{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Kind:      kind,
		URI:       uri,
		Status:    SourcePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO sources (id, project_id, kind, uri, status, consumed, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		source.ID, projectID, kind, uri, string(SourcePending), formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}
	return source, nil
}

// GetSource fetches a source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}
	return source, nil
}

// MarkSourceProcessed records a successful extraction.
func (s *Store) MarkSourceProcessed(ctx context.Context, id string) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE sources SET status = ?, updated_at = ? WHERE id = ?`,
		string(SourceProcessed), formatTime(s.now()), id,
	)
}

// MarkSourceConsumed records that topics were generated from the source.
func (s *Store) MarkSourceConsumed(ctx context.Context, id string) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE sources SET consumed = 1, updated_at = ? WHERE id = ?`,
		formatTime(s.now()), id,
	)
}

// LatestUnconsumedSource returns the most recent processed source that has
// not yet produced topics, or nil. Sources with a pending or processing
// source-level job are skipped; discover_topics will consume them.
func (s *Store) LatestUnconsumedSource(ctx context.Context, projectID string) (*Source, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+sourceColumns+` FROM sources
         WHERE project_id = ? AND status = ? AND consumed = 0
           AND NOT EXISTS (
               SELECT 1 FROM jobs j
               WHERE j.source_id = sources.id AND j.topic_id IS NULL AND j.status IN (?, ?)
           )
         ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		projectID, string(SourceProcessed), string(JobPending), string(JobProcessing),
	)
	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest unconsumed source: %w", err)
	}
	return source, nil
}
