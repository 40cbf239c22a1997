package queue

import (
	"context"
	"database/sql"
	"fmt"
)

// EnqueueAssetJobs registers one visual asset per id and enqueues a job for
// each in a single transaction. The asset id is added to each job payload
// under "asset_id". Previously registered assets of the topic are superseded.
func (s *Store) EnqueueAssetJobs(ctx context.Context, base EnqueueParams, assetIDs []string) ([]*Job, error) {
	ctx = ensureContext(ctx)
	if base.TopicID == "" {
		return nil, fmt.Errorf("%w: asset jobs need a topic", ErrInvalidJob)
	}
	var jobs []*Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		jobs = jobs[:0]
		if _, err := tx.ExecContext(ctx, `DELETE FROM visual_assets WHERE topic_id = ?`, base.TopicID); err != nil {
			return err
		}
		for _, assetID := range assetIDs {
			params := base
			params.Payload = make(map[string]any, len(base.Payload)+1)
			for k, v := range base.Payload {
				params.Payload[k] = v
			}
			params.Payload["asset_id"] = assetID
			job, err := s.buildJob(params)
			if err != nil {
				return err
			}
			if err := insertJob(ctx, tx, job); err != nil {
				return err
			}
			now := formatTime(s.now())
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO visual_assets (id, topic_id, job_id, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
				assetID, base.TopicID, job.ID, string(AssetPending), now, now,
			); err != nil {
				return fmt.Errorf("register asset %s: %w", assetID, err)
			}
			jobs = append(jobs, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue asset jobs: %w", err)
	}
	for _, job := range jobs {
		s.notifyEnqueued(*job)
	}
	return jobs, nil
}

// CompleteAsset marks the asset produced by jobID as completed.
func (s *Store) CompleteAsset(ctx context.Context, topicID, jobID string) error {
	return s.execWithoutResultRetry(ctx,
		`UPDATE visual_assets SET status = ?, updated_at = ? WHERE topic_id = ? AND job_id = ?`,
		string(AssetCompleted), formatTime(s.now()), topicID, jobID,
	)
}

// AssetProgress reports how many of a topic's assets are completed.
func (s *Store) AssetProgress(ctx context.Context, topicID string) (AssetProgress, error) {
	var progress AssetProgress
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM visual_assets WHERE topic_id = ?`,
		string(AssetCompleted), topicID,
	).Scan(&progress.Total, &progress.Completed)
	if err != nil {
		return AssetProgress{}, fmt.Errorf("asset progress: %w", err)
	}
	return progress, nil
}

// SupersedeAssets drops a topic's registered assets before a restart.
func (s *Store) SupersedeAssets(ctx context.Context, topicID string) error {
	return s.execWithoutResultRetry(ctx, `DELETE FROM visual_assets WHERE topic_id = ?`, topicID)
}
