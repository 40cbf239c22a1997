package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrPublicationState is returned when a publication is not in the status an
// operation requires.
var ErrPublicationState = errors.New("publication is not in the required state")

// CreatePublication materializes a publish-queue entry. A topic owns at most
// one publication; creating it again returns the existing entry.
func (s *Store) CreatePublication(ctx context.Context, pub Publication) (*Publication, bool, error) {
	ctx = ensureContext(ctx)
	if existing, err := s.PublicationForTopic(ctx, pub.TopicID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if pub.ID == "" {
		pub.ID = uuid.NewString()
	}
	if pub.Status == "" {
		pub.Status = PublicationPendingReview
	}
	now := s.now()
	pub.CreatedAt = now
	pub.UpdatedAt = now
	res, err := s.execWithRetry(ctx,
		`INSERT INTO publications (id, project_id, topic_id, title, description, tags, video_ref, video_url,
             thumbnail_ref, status, scheduled_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(topic_id) DO NOTHING`,
		pub.ID, pub.ProjectID, pub.TopicID, pub.Title, pub.Description, encodeList(pub.Tags), pub.VideoRef,
		pub.VideoURL, pub.ThumbnailRef, string(pub.Status), nullableTime(pub.ScheduledAt),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return nil, false, fmt.Errorf("create publication: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		existing, err := s.PublicationForTopic(ctx, pub.TopicID)
		return existing, false, err
	}
	return &pub, true, nil
}

// GetPublication fetches a publication by id.
func (s *Store) GetPublication(ctx context.Context, id string) (*Publication, error) {
	return s.getPublication(ctx, `id = ?`, id)
}

// PublicationForTopic fetches the publication owned by a topic.
func (s *Store) PublicationForTopic(ctx context.Context, topicID string) (*Publication, error) {
	return s.getPublication(ctx, `topic_id = ?`, topicID)
}

func (s *Store) getPublication(ctx context.Context, clause string, arg any) (*Publication, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+publicationColumns+` FROM publications WHERE `+clause, arg)
	pub, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("publication %v: %w", arg, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get publication: %w", err)
	}
	return pub, nil
}

// ListPublications returns a project's publications, optionally by status.
func (s *Store) ListPublications(ctx context.Context, projectID string, statuses ...PublicationStatus) ([]*Publication, error) {
	query := `SELECT ` + publicationColumns + ` FROM publications WHERE project_id = ?`
	args := []any{projectID}
	if len(statuses) > 0 {
		query += ` AND status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY COALESCE(scheduled_at, created_at) ASC, rowid ASC`
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list publications: %w", err)
	}
	defer rows.Close()
	var pubs []*Publication
	for rows.Next() {
		pub, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, pub)
	}
	return pubs, rows.Err()
}

// OccupiedSlots returns the scheduled or published instants of a project at
// or after from. The publish scheduler derives per-day counts from them.
func (s *Store) OccupiedSlots(ctx context.Context, projectID string, from time.Time) ([]time.Time, error) {
	return occupiedSlots(ensureContext(ctx), s.db, projectID, from)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func occupiedSlots(ctx context.Context, q queryer, projectID string, from time.Time) ([]time.Time, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT scheduled_at FROM publications
         WHERE project_id = ? AND status IN (?, ?) AND scheduled_at IS NOT NULL AND scheduled_at >= ?
         ORDER BY scheduled_at ASC`,
		projectID, string(PublicationScheduled), string(PublicationPublished), formatTime(from),
	)
	if err != nil {
		return nil, fmt.Errorf("occupied slots: %w", err)
	}
	defer rows.Close()
	var slots []time.Time
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if t, err := parseTimeString(raw); err == nil {
			slots = append(slots, t)
		}
	}
	return slots, rows.Err()
}

// SlotPicker chooses a publication instant given the project's occupied
// slots. It reports false when nothing is free.
type SlotPicker func(occupied []time.Time) (time.Time, bool)

// ReservePublicationSlot schedules a pending_review publication at the slot
// pick chooses. The occupancy read and the update share one immediate
// transaction, so concurrent reservations for a project are serialized and
// never overfill a day. It returns false, leaving the publication untouched,
// when pick finds no slot.
func (s *Store) ReservePublicationSlot(ctx context.Context, id string, from time.Time, pick SlotPicker) (time.Time, bool, error) {
	ctx = ensureContext(ctx)
	var (
		slot  time.Time
		found bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		slot, found = time.Time{}, false
		var projectID, status string
		err := tx.QueryRowContext(ctx, `SELECT project_id, status FROM publications WHERE id = ?`, id).Scan(&projectID, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("publication %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if PublicationStatus(status) != PublicationPendingReview {
			return fmt.Errorf("schedule publication %s (%s): %w", id, status, ErrPublicationState)
		}
		occupied, err := occupiedSlots(ctx, tx, projectID, from)
		if err != nil {
			return err
		}
		at, ok := pick(occupied)
		if !ok {
			return nil
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE publications SET status = ?, scheduled_at = ?, updated_at = ? WHERE id = ? AND status = ?`,
			string(PublicationScheduled), formatTime(at), formatTime(s.now()), id, string(PublicationPendingReview),
		); err != nil {
			return err
		}
		slot, found = at, true
		return nil
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reserve publication slot: %w", err)
	}
	return slot, found, nil
}

// MarkPublished records a completed upload.
func (s *Store) MarkPublished(ctx context.Context, topicID string) error {
	now := formatTime(s.now())
	return s.execWithoutResultRetry(ctx,
		`UPDATE publications SET status = ?, published_at = ?, updated_at = ? WHERE topic_id = ?`,
		string(PublicationPublished), now, now, topicID,
	)
}

// RejectPublication moves a pending_review publication to rejected.
func (s *Store) RejectPublication(ctx context.Context, id string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE publications SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(PublicationRejected), formatTime(s.now()), id, string(PublicationPendingReview),
	)
	if err != nil {
		return fmt.Errorf("reject publication: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("reject publication %s: %w", id, ErrPublicationState)
	}
	return nil
}

// DiscardPublication deletes a topic's unpublished publication so a restarted
// topic can materialize a fresh one. Published entries are kept.
func (s *Store) DiscardPublication(ctx context.Context, topicID string) error {
	return s.execWithoutResultRetry(ctx,
		`DELETE FROM publications WHERE topic_id = ? AND status != ?`,
		topicID, string(PublicationPublished),
	)
}
