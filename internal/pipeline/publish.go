package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/queue"
	"storyloom/internal/schedule"
	"storyloom/internal/services"
)

func (o *Orchestrator) terminal(ctx context.Context, job *queue.Job, step Step, topic *queue.Topic, result map[string]any) error {
	if topic == nil {
		return services.Wrap(services.ErrValidation, string(job.Type), "terminal", "terminal job has no topic", nil)
	}
	switch step.Effect {
	case EffectPublication:
		return o.materializePublication(ctx, job, topic, result)
	case EffectPublished:
		return o.markPublished(ctx, topic)
	default:
		return nil
	}
}

// materializePublication creates the publish-queue entry for an assembled
// video and either schedules it or leaves it for review.
func (o *Orchestrator) materializePublication(ctx context.Context, job *queue.Job, topic *queue.Topic, result map[string]any) error {
	logger := logging.WithContext(ctx, o.logger)
	videoKey := text(result["video_key"])
	if videoKey == "" {
		return o.failTopic(ctx, topic, "assemble_video result has no video_key")
	}
	artifact, err := o.resolver.Resolve(ctx, videoKey)
	if errors.Is(err, services.ErrTransient) {
		return fmt.Errorf("resolve assembled video %s: %w", videoKey, err)
	}
	if err != nil {
		return o.failTopic(ctx, topic, fmt.Sprintf("assembled video %s is not available: %v", videoKey, err))
	}

	script, err := o.mergedResults(ctx, topic.ID, queue.JobGenerateScript, queue.JobExpandScript)
	if err != nil {
		return err
	}
	thumbnails, err := o.store.LatestResult(ctx, topic.ID, queue.JobGenerateThumbnails)
	if err != nil {
		return err
	}

	title := text(script["title"])
	if title == "" {
		title = topic.Title
	}
	pub, created, err := o.store.CreatePublication(ctx, queue.Publication{
		ProjectID:    topic.ProjectID,
		TopicID:      topic.ID,
		Title:        title,
		Description:  text(script["description"]),
		Tags:         stringList(script["tags"]),
		VideoRef:     artifact.Key,
		VideoURL:     artifact.URL,
		ThumbnailRef: text(thumbnails["selected_thumbnail"]),
	})
	if err != nil {
		return fmt.Errorf("create publication: %w", err)
	}
	if !created {
		logger.Info("publication already exists",
			logging.String("publication_id", pub.ID),
			logging.String("status", string(pub.Status)),
		)
		if pub.Status != queue.PublicationPendingReview {
			return nil
		}
	}

	project, err := o.store.GetProject(ctx, topic.ProjectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	now := o.clock()
	slot, ok, err := o.reserveSlot(ctx, project, pub, now, schedule.NextSlot)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := o.store.AdvanceTopicStage(ctx, topic.ID, queue.StageQueuedForPublishing); err != nil {
			return fmt.Errorf("advance topic: %w", err)
		}
		logger.Info("publication awaiting review",
			logging.String(logging.FieldEventType, "publication_pending"),
			logging.String("publication_id", pub.ID),
		)
		o.notify(ctx, notifications.EventPublicationPending, notifications.Payload{"title": pub.Title})
		return nil
	}
	return o.enqueuePublish(ctx, pub, slot, job.Priority)
}

// ApprovePublication schedules a pending_review publication at the next free
// slot, regardless of the project's auto-publish setting.
func (o *Orchestrator) ApprovePublication(ctx context.Context, publicationID string) (*queue.Publication, error) {
	pub, err := o.store.GetPublication(ctx, publicationID)
	if err != nil {
		return nil, err
	}
	if pub.Status != queue.PublicationPendingReview {
		return nil, fmt.Errorf("approve publication %s (%s): %w", pub.ID, pub.Status, queue.ErrPublicationState)
	}
	project, err := o.store.GetProject(ctx, pub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	slot, ok, err := o.reserveSlot(ctx, project, pub, o.clock(), schedule.FindSlot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrValidation, string(queue.JobPublishVideo), "approve publication",
			fmt.Sprintf("no publication slot within %d days", schedule.HorizonDays), nil)
	}
	if err := o.enqueuePublish(ctx, pub, slot, 0); err != nil {
		return nil, err
	}
	return o.store.GetPublication(ctx, pub.ID)
}

// RejectPublication rejects a pending_review publication and moves its topic
// to the rejected stage.
func (o *Orchestrator) RejectPublication(ctx context.Context, publicationID string) error {
	pub, err := o.store.GetPublication(ctx, publicationID)
	if err != nil {
		return err
	}
	if err := o.store.RejectPublication(ctx, pub.ID); err != nil {
		return err
	}
	if _, err := o.store.CancelJobsForTopic(ctx, pub.TopicID); err != nil {
		return err
	}
	return o.store.SetTopicAbsorbing(ctx, pub.TopicID, queue.StageRejected, "publication rejected")
}

// PreviewSlot reports the slot an approval would receive right now without
// reserving it.
func (o *Orchestrator) PreviewSlot(ctx context.Context, projectID string) (time.Time, bool, error) {
	project, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return time.Time{}, false, err
	}
	return o.nextSlot(ctx, project, o.clock(), schedule.FindSlot)
}

type slotFinder func(schedule.Settings, schedule.Occupancy, time.Time) (time.Time, bool)

func (o *Orchestrator) nextSlot(ctx context.Context, project *queue.Project, now time.Time, find slotFinder) (time.Time, bool, error) {
	dayStart, _ := schedule.DayBounds(now, project.PublicationTimezone)
	occupied, err := o.store.OccupiedSlots(ctx, project.ID, dayStart)
	if err != nil {
		return time.Time{}, false, err
	}
	slot, ok := find(schedule.SettingsFromProject(project), schedule.Occupancy{Times: occupied}, now)
	return slot, ok, nil
}

// reserveSlot picks and claims pub's slot against the occupancy seen inside
// the store's transaction.
func (o *Orchestrator) reserveSlot(ctx context.Context, project *queue.Project, pub *queue.Publication, now time.Time, find slotFinder) (time.Time, bool, error) {
	dayStart, _ := schedule.DayBounds(now, project.PublicationTimezone)
	settings := schedule.SettingsFromProject(project)
	return o.store.ReservePublicationSlot(ctx, pub.ID, dayStart, func(occupied []time.Time) (time.Time, bool) {
		return find(settings, schedule.Occupancy{Times: occupied}, now)
	})
}

// enqueuePublish advances the topic of a freshly scheduled publication and
// queues its upload to run at slot.
func (o *Orchestrator) enqueuePublish(ctx context.Context, pub *queue.Publication, slot time.Time, priority int) error {
	if _, err := o.store.AdvanceTopicStage(ctx, pub.TopicID, queue.StageScheduled); err != nil {
		return fmt.Errorf("advance topic: %w", err)
	}
	tags := make([]any, 0, len(pub.Tags))
	for _, tag := range pub.Tags {
		tags = append(tags, tag)
	}
	if _, err := o.enqueue(ctx, queue.EnqueueParams{
		ProjectID: pub.ProjectID,
		TopicID:   pub.TopicID,
		Type:      queue.JobPublishVideo,
		Priority:  priority,
		RunAfter:  slot,
		Payload: map[string]any{
			"publication_id": pub.ID,
			"title":          pub.Title,
			"description":    pub.Description,
			"tags":           tags,
			"video_ref":      pub.VideoRef,
			"video_url":      pub.VideoURL,
			"thumbnail_ref":  pub.ThumbnailRef,
			"scheduled_at":   slot.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return err
	}
	logging.WithContext(ctx, o.logger).Info("publication scheduled",
		logging.String(logging.FieldEventType, "publication_scheduled"),
		logging.String("publication_id", pub.ID),
		logging.Time("scheduled_at", slot),
	)
	o.notify(ctx, notifications.EventPublicationScheduled, notifications.Payload{"title": pub.Title, "scheduledAt": slot})
	return nil
}

func (o *Orchestrator) markPublished(ctx context.Context, topic *queue.Topic) error {
	if err := o.store.MarkPublished(ctx, topic.ID); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	title := topic.Title
	if pub, err := o.store.PublicationForTopic(ctx, topic.ID); err == nil && pub.Title != "" {
		title = pub.Title
	}
	o.notify(ctx, notifications.EventPublished, notifications.Payload{"title": title})
	return nil
}

func (o *Orchestrator) failTopic(ctx context.Context, topic *queue.Topic, message string) error {
	if err := o.store.SetTopicAbsorbing(ctx, topic.ID, queue.StageError, message); err != nil {
		return fmt.Errorf("mark topic error: %w", err)
	}
	o.notify(ctx, notifications.EventTopicFailed, notifications.Payload{
		"title":   topic.Title,
		"jobType": string(queue.JobAssembleVideo),
		"error":   message,
	})
	return errors.New(message)
}

// mergedResults overlays the latest results of jobTypes in order, so later
// types override fields of earlier ones.
func (o *Orchestrator) mergedResults(ctx context.Context, topicID string, jobTypes ...queue.JobType) (map[string]any, error) {
	merged := map[string]any{}
	for _, jobType := range jobTypes {
		result, err := o.store.LatestResult(ctx, topicID, jobType)
		if err != nil {
			return nil, err
		}
		for k, v := range result {
			merged[k] = v
		}
	}
	return merged, nil
}

func (o *Orchestrator) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := o.notifier.Publish(ctx, event, payload); err != nil {
		logging.WithContext(ctx, o.logger).Warn("notification failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "notification_failed"),
			logging.String(logging.FieldErrorHint, "check ntfy topic configuration"),
		)
	}
}
