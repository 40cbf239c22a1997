package pipeline

import (
	"context"
	"fmt"
	"sort"

	"storyloom/internal/logging"
	"storyloom/internal/queue"
	"storyloom/internal/services"
)

// TriggerFromSource starts extraction for a source.
func (o *Orchestrator) TriggerFromSource(ctx context.Context, sourceID string) (*queue.Job, error) {
	source, err := o.store.GetSource(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return o.enqueue(ctx, queue.EnqueueParams{
		ProjectID: source.ProjectID,
		SourceID:  source.ID,
		Type:      queue.JobExtractSource,
		Payload: map[string]any{
			"kind": source.Kind,
			"uri":  source.URI,
		},
	})
}

// TriggerFromTopic cancels any in-flight work for a topic and enqueues the job
// that moves it forward from its current stage. Topics at topics_generated
// are admitted into story generation.
func (o *Orchestrator) TriggerFromTopic(ctx context.Context, topicID string) (*queue.Job, error) {
	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	stage := topic.Stage
	if stage == queue.StageIdea {
		stage = queue.StageTopicsGenerated
	}
	next, ok := o.resume[stage]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "trigger topic",
			fmt.Sprintf("topic is at %s; nothing to resume (use restart)", topic.Stage), nil)
	}
	if _, err := o.store.CancelJobsForTopic(ctx, topic.ID); err != nil {
		return nil, err
	}
	job, err := o.enqueue(services.WithTopicID(ctx, topic.ID), queue.EnqueueParams{
		ProjectID: topic.ProjectID,
		TopicID:   topic.ID,
		SourceID:  topic.SourceID,
		Type:      next,
		Payload:   o.upstreamPayload(ctx, topic.ID, next),
	})
	if err != nil {
		return nil, err
	}
	if next == o.resume[queue.StageTopicsGenerated] {
		if err := o.store.MarkTopicAdmitted(ctx, topic.ID); err != nil {
			return nil, err
		}
	}
	logging.WithContext(ctx, o.logger).Info("topic triggered",
		logging.String(logging.FieldEventType, "topic_triggered"),
		logging.String(logging.FieldTopicID, topic.ID),
		logging.String("stage", string(topic.Stage)),
		logging.String("next_job_type", string(next)),
	)
	return job, nil
}

// RestartableStages lists the stages RestartFromStage accepts, in order.
func (o *Orchestrator) RestartableStages() []queue.TopicStage {
	stages := make([]queue.TopicStage, 0, len(o.restart))
	for stage := range o.restart {
		stages = append(stages, stage)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Before(stages[j]) })
	return stages
}

// RestartFromStage regenerates a topic from stage onward: it cancels active
// jobs, drops superseded assets and unpublished publications, rewinds the
// topic to just before stage, and enqueues the job that produces stage. This
// is the only operation that moves a topic backwards.
func (o *Orchestrator) RestartFromStage(ctx context.Context, topicID string, stage queue.TopicStage) (*queue.Job, error) {
	jobType, ok := o.restart[stage]
	if !ok {
		return nil, services.Wrap(services.ErrValidation, "", "restart topic",
			fmt.Sprintf("stage %q is not restartable", stage), nil)
	}
	topic, err := o.store.GetTopic(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if topic.Stage == queue.StagePublished {
		return nil, services.Wrap(services.ErrValidation, "", "restart topic", "topic is already published", nil)
	}

	if _, err := o.store.CancelJobsForTopic(ctx, topic.ID); err != nil {
		return nil, err
	}
	if !queue.StageVisualsCreated.Before(stage) {
		if err := o.store.SupersedeAssets(ctx, topic.ID); err != nil {
			return nil, err
		}
	}
	if err := o.store.DiscardPublication(ctx, topic.ID); err != nil {
		return nil, err
	}

	rewind := queue.StageTopicsGenerated
	if producer := o.flow[jobType].Stage; producer.Rank() > 1 {
		rewind = queue.OrderedStages[producer.Rank()-2]
	}
	if err := o.store.ResetTopicStage(ctx, topic.ID, rewind); err != nil {
		return nil, err
	}

	job, err := o.enqueue(services.WithTopicID(ctx, topic.ID), queue.EnqueueParams{
		ProjectID: topic.ProjectID,
		TopicID:   topic.ID,
		SourceID:  topic.SourceID,
		Type:      jobType,
		Payload:   o.upstreamPayload(ctx, topic.ID, jobType),
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(ctx, o.logger).Info("topic restarted",
		logging.String(logging.FieldEventType, "topic_restarted"),
		logging.String(logging.FieldTopicID, topic.ID),
		logging.String("from_stage", string(topic.Stage)),
		logging.String("restart_stage", string(stage)),
		logging.String("rewound_to", string(rewind)),
		logging.String("next_job_type", string(jobType)),
	)
	return job, nil
}

// upstreamPayload rebuilds the payload jobType would have received from the
// forwardPayload of its most recent upstream result.
func (o *Orchestrator) upstreamPayload(ctx context.Context, topicID string, jobType queue.JobType) map[string]any {
	for _, upstream := range o.flow.Upstream(jobType) {
		result, err := o.store.LatestResult(ctx, topicID, upstream)
		if err != nil || result == nil {
			continue
		}
		return forwardPayload(result)
	}
	return map[string]any{}
}
