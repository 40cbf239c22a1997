package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// CreateProject inserts a project. An empty ID is generated and empty status
// or timezone fall back to active and UTC.
func (s *Store) CreateProject(ctx context.Context, project Project) (*Project, error) {
	if strings.TrimSpace(project.Name) == "" {
		return nil, errors.New("create project: name is required")
	}
	if project.ID == "" {
		project.ID = uuid.NewString()
	}
	if project.Status == "" {
		project.Status = ProjectActive
	}
	if strings.TrimSpace(project.PublicationTimezone) == "" {
		project.PublicationTimezone = "UTC"
	}
	now := s.now()
	project.CreatedAt = now
	project.UpdatedAt = now
	if err := s.execWithoutResultRetry(ctx,
		`INSERT INTO projects (id, name, status, pipeline_paused, engine_enabled, buffer_target, max_gen_per_day,
             min_richness, auto_publish, max_publications_per_day, publication_days, publication_times,
             publication_timezone, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		project.ID, project.Name, string(project.Status), boolToInt(project.PipelinePaused),
		boolToInt(project.EngineEnabled), project.BufferTarget, project.MaxGenPerDay, project.MinRichness,
		boolToInt(project.AutoPublish), project.MaxPublicationsPerDay, encodeList(project.PublicationDays),
		encodeList(project.PublicationTimes), project.PublicationTimezone, formatTime(now), formatTime(now),
	); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return &project, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjects returns all projects; activeOnly narrows to active, unpaused ones.
func (s *Store) ListProjects(ctx context.Context, activeOnly bool) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects`
	var args []any
	if activeOnly {
		query += ` WHERE status = ? AND pipeline_paused = 0`
		args = append(args, string(ProjectActive))
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var projects []*Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// UpdateProjectSettings persists every mutable project setting.
func (s *Store) UpdateProjectSettings(ctx context.Context, project Project) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE projects SET name = ?, status = ?, pipeline_paused = ?, engine_enabled = ?, buffer_target = ?,
             max_gen_per_day = ?, min_richness = ?, auto_publish = ?, max_publications_per_day = ?,
             publication_days = ?, publication_times = ?, publication_timezone = ?, updated_at = ?
         WHERE id = ?`,
		project.Name, string(project.Status), boolToInt(project.PipelinePaused), boolToInt(project.EngineEnabled),
		project.BufferTarget, project.MaxGenPerDay, project.MinRichness, boolToInt(project.AutoPublish),
		project.MaxPublicationsPerDay, encodeList(project.PublicationDays), encodeList(project.PublicationTimes),
		project.PublicationTimezone, formatTime(s.now()), project.ID,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("project %s: %w", project.ID, ErrNotFound)
	}
	return nil
}

// SetPipelinePaused gates whether any of the project's jobs may be claimed.
func (s *Store) SetPipelinePaused(ctx context.Context, projectID string, paused bool) error {
	return s.setProjectFlag(ctx, projectID, "pipeline_paused", paused)
}

// SetEngineEnabled toggles content-engine admissions for the project.
func (s *Store) SetEngineEnabled(ctx context.Context, projectID string, enabled bool) error {
	return s.setProjectFlag(ctx, projectID, "engine_enabled", enabled)
}

func (s *Store) setProjectFlag(ctx context.Context, projectID, column string, value bool) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE projects SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		boolToInt(value), formatTime(s.now()), projectID,
	)
	if err != nil {
		return fmt.Errorf("update project %s: %w", column, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("project %s: %w", projectID, ErrNotFound)
	}
	return nil
}
