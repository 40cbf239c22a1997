package pipeline

import (
	"context"
	"errors"
	"fmt"

	"storyloom/internal/logging"
	"storyloom/internal/queue"
	"storyloom/internal/services"
)

// HandleCompletion applies the flow table to a completed job whose Result is
// populated.
func (o *Orchestrator) HandleCompletion(ctx context.Context, job *queue.Job) error {
	ctx = withJobContext(ctx, job)
	logger := logging.WithContext(ctx, o.logger)

	step, ok := o.flow[job.Type]
	if !ok {
		logger.Debug("no flow entry for job type")
		return nil
	}

	var topic *queue.Topic
	if job.TopicID != "" {
		current, err := o.store.GetTopic(ctx, job.TopicID)
		if err != nil {
			return fmt.Errorf("load topic: %w", err)
		}
		if current.Stage.IsAbsorbing() {
			logger.Info("topic in absorbing stage; not advancing",
				logging.String(logging.FieldEventType, "orchestration_absorbed"),
				logging.String("stage", string(current.Stage)),
			)
			return nil
		}
		topic = current
	}
	result := job.Result
	if result == nil {
		result = map[string]any{}
	}

	switch step.Effect {
	case EffectSourceProcessed:
		if job.SourceID != "" {
			if err := o.store.MarkSourceProcessed(ctx, job.SourceID); err != nil {
				return fmt.Errorf("mark source processed: %w", err)
			}
		}
	case EffectMaterializeTopic:
		ids, err := o.materializeTopics(ctx, job, result)
		if err != nil {
			return err
		}
		result = withQualifying(result, step.FanOut, ids)
	}

	if step.Stage != "" && !step.AwaitAll && topic != nil {
		if _, err := o.store.AdvanceTopicStage(ctx, topic.ID, step.Stage); err != nil {
			return fmt.Errorf("advance topic: %w", err)
		}
	}

	if step.FanOut != nil {
		return o.fanOut(ctx, job, step, result)
	}

	if step.Conditional != nil && truthy(result[step.Conditional.Flag]) {
		logger.Info("conditional detour",
			logging.String(logging.FieldEventType, "orchestration_detour"),
			logging.String("flag", step.Conditional.Flag),
			logging.String("detour", string(step.Conditional.Detour)),
		)
		_, err := o.enqueue(ctx, o.successor(job, step.Conditional.Detour, result))
		return err
	}

	if step.AwaitAll {
		advanced, err := o.awaitAll(ctx, job, step)
		if err != nil || !advanced {
			return err
		}
	}

	if step.Terminal {
		return o.terminal(ctx, job, step, topic, result)
	}

	if step.Next == "" {
		return nil
	}
	_, err := o.enqueue(ctx, o.successor(job, step.Next, result))
	return err
}

// successor builds the params for the single next job, carrying the topic and
// source forward and merging forwardPayload into the payload.
func (o *Orchestrator) successor(job *queue.Job, next queue.JobType, result map[string]any) queue.EnqueueParams {
	return queue.EnqueueParams{
		ProjectID: job.ProjectID,
		TopicID:   job.TopicID,
		SourceID:  job.SourceID,
		Type:      next,
		Payload:   forwardPayload(result),
		Priority:  job.Priority,
	}
}

// awaitAll records the sibling as done and reports whether this caller won
// the stage advance. Only the winner continues to enqueue the next job.
func (o *Orchestrator) awaitAll(ctx context.Context, job *queue.Job, step Step) (bool, error) {
	logger := logging.WithContext(ctx, o.logger)
	if job.TopicID == "" {
		return false, services.Wrap(services.ErrValidation, string(job.Type), "await all", "sibling job has no topic", nil)
	}
	if err := o.store.CompleteAsset(ctx, job.TopicID, job.ID); err != nil {
		return false, fmt.Errorf("complete asset: %w", err)
	}
	progress, err := o.store.AssetProgress(ctx, job.TopicID)
	if err != nil {
		return false, fmt.Errorf("asset progress: %w", err)
	}
	if !progress.AllComplete() {
		logger.Debug("waiting for sibling assets",
			logging.Int("assets_completed", progress.Completed),
			logging.Int("assets_total", progress.Total),
		)
		return false, nil
	}
	advanced, err := o.store.AdvanceTopicStage(ctx, job.TopicID, step.Stage)
	if err != nil {
		return false, fmt.Errorf("advance topic: %w", err)
	}
	if advanced {
		logger.Info("all sibling assets complete",
			logging.String(logging.FieldEventType, "await_all_complete"),
			logging.Int("assets_total", progress.Total),
		)
	}
	return advanced, nil
}

func (o *Orchestrator) fanOut(ctx context.Context, job *queue.Job, step Step, result map[string]any) error {
	logger := logging.WithContext(ctx, o.logger)
	ids := dedupe(stringList(result[step.FanOut.ResultKey]))
	base := forwardPayload(result)

	if step.FanOut.ChildrenAreTopics {
		created := 0
		for _, topicID := range ids {
			ok, err := o.admitTopic(ctx, job.ProjectID, topicID, step.Next, base, job.Priority)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		logger.Info("topic fan-out",
			logging.String(logging.FieldEventType, "fan_out"),
			logging.Int("children", created),
			logging.String("next_job_type", string(step.Next)),
		)
		return nil
	}

	if len(ids) == 0 {
		message := fmt.Sprintf("%s returned no %s", job.Type, step.FanOut.ResultKey)
		if job.TopicID != "" {
			if err := o.store.SetTopicAbsorbing(ctx, job.TopicID, queue.StageError, message); err != nil {
				return fmt.Errorf("mark topic error: %w", err)
			}
		}
		return services.Wrap(services.ErrValidation, string(job.Type), "fan out", message, nil)
	}
	children, err := o.store.EnqueueAssetJobs(ctx, queue.EnqueueParams{
		ProjectID: job.ProjectID,
		TopicID:   job.TopicID,
		SourceID:  job.SourceID,
		Type:      step.Next,
		Payload:   base,
		Priority:  job.Priority,
	}, ids)
	if err != nil {
		return fmt.Errorf("fan out %s: %w", step.Next, err)
	}
	logger.Info("asset fan-out",
		logging.String(logging.FieldEventType, "fan_out"),
		logging.Int("children", len(children)),
		logging.String("next_job_type", string(step.Next)),
	)
	return nil
}

// admitTopic starts a topic on jobType if it belongs to the project, sits at
// topics_generated and has no active job.
func (o *Orchestrator) admitTopic(ctx context.Context, projectID, topicID string, jobType queue.JobType, payload map[string]any, priority int) (bool, error) {
	logger := logging.WithContext(ctx, o.logger)
	topic, err := o.store.GetTopic(ctx, topicID)
	if errors.Is(err, queue.ErrNotFound) {
		logger.Warn("fan-out topic not found; skipping", logging.String(logging.FieldTopicID, topicID))
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load fan-out topic: %w", err)
	}
	if topic.ProjectID != projectID || topic.Stage != queue.StageTopicsGenerated {
		logger.Warn("fan-out topic not eligible; skipping",
			logging.String(logging.FieldTopicID, topicID),
			logging.String("stage", string(topic.Stage)),
		)
		return false, nil
	}
	active, err := o.store.HasActiveJobs(ctx, topicID)
	if err != nil {
		return false, err
	}
	if active {
		return false, nil
	}
	if _, err := o.enqueue(ctx, queue.EnqueueParams{
		ProjectID: projectID,
		TopicID:   topicID,
		SourceID:  topic.SourceID,
		Type:      jobType,
		Payload:   copyMap(payload),
		Priority:  priority,
	}); err != nil {
		return false, err
	}
	if err := o.store.MarkTopicAdmitted(ctx, topicID); err != nil {
		return false, err
	}
	return true, nil
}

// materializeTopics creates topic rows from a discovery result's topics list
// and returns the ids whose richness reaches the project minimum.
func (o *Orchestrator) materializeTopics(ctx context.Context, job *queue.Job, result map[string]any) ([]string, error) {
	candidates, _ := result["topics"].([]any)
	if len(candidates) == 0 {
		return nil, nil
	}
	project, err := o.store.GetProject(ctx, job.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project: %w", err)
	}
	var qualifying []string
	for _, raw := range candidates {
		candidate, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		title, _ := candidate["title"].(string)
		score := number(candidate["richness_score"])
		topic, err := o.store.CreateTopic(ctx, queue.NewTopic{
			ProjectID:     job.ProjectID,
			SourceID:      job.SourceID,
			Title:         title,
			RichnessScore: score,
		})
		if err != nil {
			return nil, err
		}
		if score >= project.MinRichness {
			qualifying = append(qualifying, topic.ID)
		}
	}
	if job.SourceID != "" {
		if err := o.store.MarkSourceConsumed(ctx, job.SourceID); err != nil {
			return nil, fmt.Errorf("mark source consumed: %w", err)
		}
	}
	return qualifying, nil
}

func withQualifying(result map[string]any, fan *FanOut, ids []string) map[string]any {
	if fan == nil || len(ids) == 0 {
		return result
	}
	merged := copyMap(result)
	existing := stringList(merged[fan.ResultKey])
	list := make([]any, 0, len(existing)+len(ids))
	for _, id := range append(existing, ids...) {
		list = append(list, id)
	}
	merged[fan.ResultKey] = list
	return merged
}
