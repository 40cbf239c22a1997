package workflow_test

import (
	"context"
	"testing"

	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/testsupport"
	"storyloom/internal/workflow"
)

// Every handler is a shell script speaking the JSON stdin/stdout protocol.
var pipelineScripts = map[queue.JobType]string{
	queue.JobGenerateStory:         `cat >/dev/null; echo '{"story":"s","forwardPayload":{"story_id":"s-1"}}'`,
	queue.JobGenerateScript:        `cat >/dev/null; echo '{"title":"Lighthouse Keepers","description":"d","tags":["sea"],"needs_expansion":true}'`,
	queue.JobExpandScript:          `cat >/dev/null; echo '{"description":"expanded"}'`,
	queue.JobGenerateVisualPrompts: `cat >/dev/null; echo '{"asset_ids":["img-1","img-2","img-3"]}'`,
	queue.JobGenerateVisualAsset:   `input=$(cat); case "$input" in *'"asset_id":"img-'*) echo '{}' ;; *) echo "missing asset id" >&2; exit 1 ;; esac`,
	queue.JobGenerateThumbnails:    `cat >/dev/null; echo '{"selected_thumbnail":"thumbs/t.png"}'`,
	queue.JobGenerateNarration:     `cat >/dev/null; echo '{}'`,
	queue.JobAssembleVideo:         `cat >/dev/null; echo '{"video_key":"videos/lighthouse.mp4"}'`,
}

func TestPipelineRunsTopicToReview(t *testing.T) {
	opts := []testsupport.ConfigOption{testsupport.WithMaxConcurrent(3)}
	for jobType, body := range pipelineScripts {
		opts = append(opts, testsupport.WithHandlerScript(string(jobType), body))
	}
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, store)
	topic := testsupport.NewTopic(t, store, project.ID, queue.StageTopicsGenerated)

	registry, err := stage.NewRegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}
	notifier := &stubNotifier{}
	orch := pipeline.New(store, logging.NewNop(), pipeline.WithNotifier(notifier))
	if _, err := orch.TriggerFromTopic(context.Background(), topic.ID); err != nil {
		t.Fatalf("TriggerFromTopic failed: %v", err)
	}

	mgr := workflow.NewManager(cfg, store, registry, orch, logging.NewNop(), workflow.WithNotifier(notifier))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	waitFor(t, "topic to reach review", func() bool {
		current, err := store.GetTopic(context.Background(), topic.ID)
		return err == nil && current.Stage == queue.StageQueuedForPublishing
	})

	pub, err := store.PublicationForTopic(context.Background(), topic.ID)
	if err != nil {
		t.Fatalf("PublicationForTopic failed: %v", err)
	}
	if pub.Title != "Lighthouse Keepers" || pub.Description != "expanded" || pub.VideoRef != "videos/lighthouse.mp4" {
		t.Fatalf("unexpected publication: %+v", pub)
	}
	stats, err := store.Stats(context.Background(), queue.StatsFilter{ProjectID: project.ID})
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if got := stats.ByType[queue.JobGenerateVisualAsset][queue.JobCompleted]; got != 3 {
		t.Fatalf("expected 3 completed asset jobs, got %d", got)
	}
	if got := stats.ByType[queue.JobGenerateThumbnails][queue.JobCompleted]; got != 1 {
		t.Fatalf("expected thumbnails to run once, got %d", got)
	}
	if got := stats.ByStatus[queue.JobFailed]; got != 0 {
		t.Fatalf("expected no failed jobs, got %d", got)
	}
}

func TestPipelineFatalFailureCascades(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithHandlerScript(string(queue.JobGenerateStory),
			`cat >/dev/null; echo "insufficient credits on account" >&2; exit 1`),
	)
	store := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, store)
	topic := testsupport.NewTopic(t, store, project.ID, queue.StageTopicsGenerated)

	registry, err := stage.NewRegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}
	notifier := &stubNotifier{}
	orch := pipeline.New(store, logging.NewNop(), pipeline.WithNotifier(notifier))
	story, err := orch.TriggerFromTopic(context.Background(), topic.ID)
	if err != nil {
		t.Fatalf("TriggerFromTopic failed: %v", err)
	}
	sibling := testsupport.MustEnqueue(t, store, queue.EnqueueParams{
		ProjectID: project.ID,
		TopicID:   topic.ID,
		Type:      queue.JobGenerateNarration,
		DependsOn: story.ID,
	})

	mgr := workflow.NewManager(cfg, store, registry, orch, logging.NewNop(), workflow.WithNotifier(notifier))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)

	waitFor(t, "topic to fail", func() bool {
		current, err := store.GetTopic(context.Background(), topic.ID)
		return err == nil && current.Stage == queue.StageError
	})
	waitFor(t, "failure notification", func() bool { return notifier.count("topic_failed") == 1 })

	cancelled, err := store.GetJob(context.Background(), sibling.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if cancelled.Status != queue.JobCancelled {
		t.Fatalf("expected sibling cancelled by the cascade, got %s", cancelled.Status)
	}
}
