package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"storyloom/internal/artifacts"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/services"
	"storyloom/internal/testsupport"
)

// Monday, one hour before the fixture project's 09:00 slot.
var baseNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingNotifier) has(event notifications.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *queue.Store
	orch     *pipeline.Orchestrator
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	store.SetClock(func() time.Time { return baseNow })
	notifier := &recordingNotifier{}
	orch := pipeline.New(store, logging.NewNop(),
		pipeline.WithNotifier(notifier),
		pipeline.WithClock(func() time.Time { return baseNow }),
	)
	return &harness{t: t, ctx: context.Background(), store: store, orch: orch, notifier: notifier}
}

// claim takes the next pending job of jobType, ignoring every other type.
func (h *harness) claim(jobType queue.JobType) *queue.Job {
	h.t.Helper()
	var exclude []queue.JobType
	for _, candidate := range queue.AllJobTypes {
		if candidate != jobType {
			exclude = append(exclude, candidate)
		}
	}
	job, err := h.store.ClaimNext(h.ctx, "test-worker", queue.ClaimOptions{ExcludeTypes: exclude})
	if err != nil {
		h.t.Fatalf("ClaimNext failed: %v", err)
	}
	if job == nil {
		h.t.Fatalf("expected a claimable %s job", jobType)
	}
	return job
}

// finish claims and completes the next jobType job without orchestration.
func (h *harness) finish(jobType queue.JobType, result map[string]any) *queue.Job {
	h.t.Helper()
	job := h.claim(jobType)
	applied, err := h.store.CompleteJob(h.ctx, job.ID, "test-worker", result)
	if err != nil || !applied {
		h.t.Fatalf("CompleteJob failed: applied=%v err=%v", applied, err)
	}
	job.Result = result
	return job
}

// complete finishes the next jobType job and runs orchestration on it.
func (h *harness) complete(jobType queue.JobType, result map[string]any) *queue.Job {
	h.t.Helper()
	job := h.finish(jobType, result)
	if err := h.orch.HandleCompletion(h.ctx, job); err != nil {
		h.t.Fatalf("HandleCompletion(%s) failed: %v", jobType, err)
	}
	return job
}

func (h *harness) pending(topicID string, jobType queue.JobType) []*queue.Job {
	h.t.Helper()
	jobs, err := h.store.ListJobs(h.ctx, queue.ListFilter{
		Statuses: []queue.JobStatus{queue.JobPending},
		TopicID:  topicID,
		Type:     jobType,
	})
	if err != nil {
		h.t.Fatalf("ListJobs failed: %v", err)
	}
	return jobs
}

func (h *harness) stage(topicID string) queue.TopicStage {
	h.t.Helper()
	topic, err := h.store.GetTopic(h.ctx, topicID)
	if err != nil {
		h.t.Fatalf("GetTopic failed: %v", err)
	}
	return topic.Stage
}

func (h *harness) topicAt(projectID string, stage queue.TopicStage) *queue.Topic {
	h.t.Helper()
	return testsupport.NewTopic(h.t, h.store, projectID, stage)
}

func (h *harness) enqueue(project *queue.Project, topic *queue.Topic, jobType queue.JobType) *queue.Job {
	h.t.Helper()
	return testsupport.MustEnqueue(h.t, h.store, queue.EnqueueParams{
		ProjectID: project.ID,
		TopicID:   topic.ID,
		Type:      jobType,
	})
}

func TestStoryCompletionAdvancesAndForwardsPayload(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageTopicsGenerated)
	h.enqueue(project, topic, queue.JobGenerateStory)

	h.complete(queue.JobGenerateStory, map[string]any{
		"story":          "once upon a time",
		"forwardPayload": map[string]any{"story_id": "s-1"},
	})

	if got := h.stage(topic.ID); got != queue.StageStoryCreated {
		t.Fatalf("expected story_created, got %s", got)
	}
	next := h.pending(topic.ID, queue.JobGenerateScript)
	if len(next) != 1 {
		t.Fatalf("expected one generate_script job, got %d", len(next))
	}
	if next[0].Payload["story_id"] != "s-1" {
		t.Fatalf("expected forwarded payload, got %v", next[0].Payload)
	}
	if _, ok := next[0].Payload["story"]; ok {
		t.Fatal("result fields outside forwardPayload must not be forwarded")
	}
}

func TestConditionalDetour(t *testing.T) {
	tests := []struct {
		name   string
		result map[string]any
		want   queue.JobType
		absent queue.JobType
	}{
		{name: "flag set", result: map[string]any{"needs_expansion": true}, want: queue.JobExpandScript, absent: queue.JobGenerateVisualPrompts},
		{name: "flag unset", result: map[string]any{"needs_expansion": false}, want: queue.JobGenerateVisualPrompts, absent: queue.JobExpandScript},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			project := testsupport.NewProject(t, h.store)
			topic := h.topicAt(project.ID, queue.StageStoryCreated)
			h.enqueue(project, topic, queue.JobGenerateScript)

			h.complete(queue.JobGenerateScript, tt.result)

			if got := h.stage(topic.ID); got != queue.StageScriptCreated {
				t.Fatalf("expected script_created, got %s", got)
			}
			if n := len(h.pending(topic.ID, tt.want)); n != 1 {
				t.Fatalf("expected one %s job, got %d", tt.want, n)
			}
			if n := len(h.pending(topic.ID, tt.absent)); n != 0 {
				t.Fatalf("expected no %s job, got %d", tt.absent, n)
			}
		})
	}
}

func TestAssetFanOutAndAwaitAll(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageScriptCreated)
	h.enqueue(project, topic, queue.JobGenerateVisualPrompts)

	h.complete(queue.JobGenerateVisualPrompts, map[string]any{
		"asset_ids":      []any{"a1", "a2", "a1", "a3"},
		"forwardPayload": map[string]any{"style": "noir"},
	})

	if got := h.stage(topic.ID); got != queue.StageVisualsCreating {
		t.Fatalf("expected visuals_creating, got %s", got)
	}
	children := h.pending(topic.ID, queue.JobGenerateVisualAsset)
	if len(children) != 3 {
		t.Fatalf("expected 3 deduplicated asset jobs, got %d", len(children))
	}
	seen := map[any]bool{}
	for _, child := range children {
		if child.Payload["style"] != "noir" {
			t.Fatalf("expected forwarded payload on asset job, got %v", child.Payload)
		}
		seen[child.Payload["asset_id"]] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected distinct asset ids, got %v", seen)
	}

	for i := 0; i < 2; i++ {
		h.complete(queue.JobGenerateVisualAsset, map[string]any{})
		if got := h.stage(topic.ID); got != queue.StageVisualsCreating {
			t.Fatalf("stage advanced after %d of 3 assets: %s", i+1, got)
		}
		if n := len(h.pending(topic.ID, queue.JobGenerateThumbnails)); n != 0 {
			t.Fatalf("thumbnails enqueued after %d of 3 assets", i+1)
		}
	}

	last := h.complete(queue.JobGenerateVisualAsset, map[string]any{})
	if got := h.stage(topic.ID); got != queue.StageVisualsCreated {
		t.Fatalf("expected visuals_created, got %s", got)
	}
	if n := len(h.pending(topic.ID, queue.JobGenerateThumbnails)); n != 1 {
		t.Fatalf("expected one thumbnails job, got %d", n)
	}

	// A duplicate delivery of the final sibling must not enqueue again.
	if err := h.orch.HandleCompletion(h.ctx, last); err != nil {
		t.Fatalf("HandleCompletion failed: %v", err)
	}
	if n := len(h.pending(topic.ID, queue.JobGenerateThumbnails)); n != 1 {
		t.Fatalf("expected thumbnails to stay enqueued once, got %d", n)
	}
}

func TestEmptyAssetListMarksTopicError(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageScriptCreated)
	h.enqueue(project, topic, queue.JobGenerateVisualPrompts)

	job := h.finish(queue.JobGenerateVisualPrompts, map[string]any{"asset_ids": []any{}})
	err := h.orch.HandleCompletion(h.ctx, job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := h.stage(topic.ID); got != queue.StageError {
		t.Fatalf("expected error stage, got %s", got)
	}
}

func TestAbsorbingTopicIsNotAdvanced(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageStoryCreated)
	h.enqueue(project, topic, queue.JobGenerateScript)

	job := h.finish(queue.JobGenerateScript, map[string]any{})
	if err := h.store.SetTopicAbsorbing(h.ctx, topic.ID, queue.StageDiscarded, "discarded by operator"); err != nil {
		t.Fatalf("SetTopicAbsorbing failed: %v", err)
	}
	if err := h.orch.HandleCompletion(h.ctx, job); err != nil {
		t.Fatalf("HandleCompletion failed: %v", err)
	}
	if got := h.stage(topic.ID); got != queue.StageDiscarded {
		t.Fatalf("expected discarded, got %s", got)
	}
	if n := len(h.pending(topic.ID, queue.JobGenerateVisualPrompts)); n != 0 {
		t.Fatalf("expected no successor for absorbed topic, got %d", n)
	}
}

func TestExtractAndDiscoverMaterializeTopics(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store, func(p *queue.Project) { p.MinRichness = 0.6 })
	source, err := h.store.CreateSource(h.ctx, project.ID, "url", "https://example.com/article")
	if err != nil {
		t.Fatalf("CreateSource failed: %v", err)
	}

	extract, err := h.orch.TriggerFromSource(h.ctx, source.ID)
	if err != nil {
		t.Fatalf("TriggerFromSource failed: %v", err)
	}
	if extract.Type != queue.JobExtractSource || extract.Payload["uri"] != source.URI {
		t.Fatalf("unexpected extract job: %+v", extract)
	}

	h.complete(queue.JobExtractSource, map[string]any{"text": "body"})
	updated, err := h.store.GetSource(h.ctx, source.ID)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if updated.Status != queue.SourceProcessed {
		t.Fatalf("expected processed source, got %s", updated.Status)
	}

	discover := h.claim(queue.JobDiscoverTopics)
	if discover.SourceID != source.ID {
		t.Fatalf("expected discover job to carry the source, got %q", discover.SourceID)
	}
	result := map[string]any{
		"topics": []any{
			map[string]any{"title": "Rich", "richness_score": 0.9},
			map[string]any{"title": "Thin", "richness_score": 0.3},
		},
	}
	if _, err := h.store.CompleteJob(h.ctx, discover.ID, "test-worker", result); err != nil {
		t.Fatalf("CompleteJob failed: %v", err)
	}
	discover.Result = result
	if err := h.orch.HandleCompletion(h.ctx, discover); err != nil {
		t.Fatalf("HandleCompletion failed: %v", err)
	}

	topics, err := h.store.ListTopics(h.ctx, project.ID)
	if err != nil {
		t.Fatalf("ListTopics failed: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("expected 2 topics, got %d", len(topics))
	}
	for _, topic := range topics {
		stories := h.pending(topic.ID, queue.JobGenerateStory)
		switch topic.Title {
		case "Rich":
			if len(stories) != 1 || topic.AdmittedAt == nil {
				t.Fatalf("expected rich topic admitted with one story job, got %d jobs admitted=%v", len(stories), topic.AdmittedAt)
			}
		case "Thin":
			if len(stories) != 0 || topic.AdmittedAt != nil {
				t.Fatalf("expected thin topic left at topics_generated, got %d jobs", len(stories))
			}
		}
		if topic.Stage != queue.StageTopicsGenerated {
			t.Fatalf("expected topics_generated, got %s", topic.Stage)
		}
	}
	consumed, err := h.store.GetSource(h.ctx, source.ID)
	if err != nil {
		t.Fatalf("GetSource failed: %v", err)
	}
	if !consumed.Consumed {
		t.Fatal("expected source to be consumed after discovery")
	}
}

func prepareAssembly(h *harness, project *queue.Project) *queue.Topic {
	h.t.Helper()
	topic := h.topicAt(project.ID, queue.StageNarrationCreated)
	h.enqueue(project, topic, queue.JobGenerateScript)
	h.finish(queue.JobGenerateScript, map[string]any{"title": "Draft", "description": "d", "tags": []any{"a"}})
	h.enqueue(project, topic, queue.JobExpandScript)
	h.finish(queue.JobExpandScript, map[string]any{"title": "Final Title"})
	h.enqueue(project, topic, queue.JobGenerateThumbnails)
	h.finish(queue.JobGenerateThumbnails, map[string]any{"selected_thumbnail": "thumbs/1.png"})
	h.enqueue(project, topic, queue.JobAssembleVideo)
	return topic
}

func TestAssembleAwaitsReviewThenApprove(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := prepareAssembly(h, project)

	h.complete(queue.JobAssembleVideo, map[string]any{"video_key": "videos/final.mp4"})

	if got := h.stage(topic.ID); got != queue.StageQueuedForPublishing {
		t.Fatalf("expected queued_for_publishing, got %s", got)
	}
	pub, err := h.store.PublicationForTopic(h.ctx, topic.ID)
	if err != nil {
		t.Fatalf("PublicationForTopic failed: %v", err)
	}
	if pub.Status != queue.PublicationPendingReview {
		t.Fatalf("expected pending_review, got %s", pub.Status)
	}
	if pub.Title != "Final Title" || pub.Description != "d" || pub.VideoRef != "videos/final.mp4" || pub.ThumbnailRef != "thumbs/1.png" {
		t.Fatalf("unexpected publication metadata: %+v", pub)
	}
	if !h.notifier.has(notifications.EventPublicationPending) {
		t.Fatal("expected a review notification")
	}

	wantSlot := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	preview, ok, err := h.orch.PreviewSlot(h.ctx, project.ID)
	if err != nil || !ok || !preview.Equal(wantSlot) {
		t.Fatalf("PreviewSlot = %s, %v, %v; want %s", preview, ok, err, wantSlot)
	}

	approved, err := h.orch.ApprovePublication(h.ctx, pub.ID)
	if err != nil {
		t.Fatalf("ApprovePublication failed: %v", err)
	}
	if approved.Status != queue.PublicationScheduled || approved.ScheduledAt == nil || !approved.ScheduledAt.Equal(wantSlot) {
		t.Fatalf("expected scheduled at %s, got %+v", wantSlot, approved)
	}
	if got := h.stage(topic.ID); got != queue.StageScheduled {
		t.Fatalf("expected scheduled, got %s", got)
	}
	publish := h.pending(topic.ID, queue.JobPublishVideo)
	if len(publish) != 1 {
		t.Fatalf("expected one publish job, got %d", len(publish))
	}
	if !publish[0].RunAfter.Equal(wantSlot) || publish[0].Payload["publication_id"] != pub.ID {
		t.Fatalf("unexpected publish job: run_after=%s payload=%v", publish[0].RunAfter, publish[0].Payload)
	}

	if _, err := h.orch.ApprovePublication(h.ctx, pub.ID); !errors.Is(err, queue.ErrPublicationState) {
		t.Fatalf("expected second approval to fail with state error, got %v", err)
	}
	preview, ok, err = h.orch.PreviewSlot(h.ctx, project.ID)
	if err != nil || !ok || !preview.After(wantSlot) {
		t.Fatalf("expected preview past the taken slot, got %s, %v, %v", preview, ok, err)
	}
	if _, _, err := h.orch.PreviewSlot(h.ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
}

func TestConcurrentApprovalsRespectDailyCap(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	var pubs []*queue.Publication
	for i := 0; i < 3; i++ {
		topic := h.topicAt(project.ID, queue.StageQueuedForPublishing)
		pub, _, err := h.store.CreatePublication(h.ctx, queue.Publication{ProjectID: project.ID, TopicID: topic.ID, Title: "Episode"})
		if err != nil {
			t.Fatalf("CreatePublication failed: %v", err)
		}
		pubs = append(pubs, pub)
	}

	approved := make([]*queue.Publication, len(pubs))
	errs := make([]error, len(pubs))
	var wg sync.WaitGroup
	for i, pub := range pubs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			approved[i], errs[i] = h.orch.ApprovePublication(h.ctx, id)
		}(i, pub.ID)
	}
	wg.Wait()

	days := map[string]bool{}
	for i, pub := range approved {
		if errs[i] != nil {
			t.Fatalf("ApprovePublication %d failed: %v", i, errs[i])
		}
		if pub.ScheduledAt == nil {
			t.Fatalf("expected a scheduled slot, got %+v", pub)
		}
		day := pub.ScheduledAt.UTC().Format(time.DateOnly)
		if days[day] {
			t.Fatalf("day %s received more than one publication", day)
		}
		days[day] = true
	}
}

func TestAutoPublishSchedulesAndPublishes(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store, func(p *queue.Project) { p.AutoPublish = true })
	topic := prepareAssembly(h, project)

	h.complete(queue.JobAssembleVideo, map[string]any{"video_key": "videos/final.mp4"})

	if got := h.stage(topic.ID); got != queue.StageScheduled {
		t.Fatalf("expected scheduled, got %s", got)
	}
	if !h.notifier.has(notifications.EventPublicationScheduled) {
		t.Fatal("expected a scheduled notification")
	}
	job, err := h.store.ClaimNext(h.ctx, "test-worker", queue.ClaimOptions{})
	if err != nil {
		t.Fatalf("ClaimNext failed: %v", err)
	}
	if job != nil {
		t.Fatalf("publish job must wait for its slot, claimed %s", job.Type)
	}

	h.store.SetClock(func() time.Time { return baseNow.Add(2 * time.Hour) })
	h.complete(queue.JobPublishVideo, map[string]any{"platform_id": "yt-1"})

	if got := h.stage(topic.ID); got != queue.StagePublished {
		t.Fatalf("expected published, got %s", got)
	}
	pub, err := h.store.PublicationForTopic(h.ctx, topic.ID)
	if err != nil {
		t.Fatalf("PublicationForTopic failed: %v", err)
	}
	if pub.Status != queue.PublicationPublished {
		t.Fatalf("expected published publication, got %s", pub.Status)
	}
	if !h.notifier.has(notifications.EventPublished) {
		t.Fatal("expected a published notification")
	}
}

func TestAssembleWithoutVideoKeyFailsTopic(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := prepareAssembly(h, project)

	job := h.finish(queue.JobAssembleVideo, map[string]any{})
	if err := h.orch.HandleCompletion(h.ctx, job); err == nil {
		t.Fatal("expected an error for a missing video key")
	}
	if got := h.stage(topic.ID); got != queue.StageError {
		t.Fatalf("expected error stage, got %s", got)
	}
	if _, err := h.store.PublicationForTopic(h.ctx, topic.ID); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected no publication, got %v", err)
	}
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string) (artifacts.Artifact, error) {
	return artifacts.Artifact{}, r.err
}

func (r failingResolver) Check(context.Context) error { return nil }

func TestUnresolvedVideo(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		stage queue.TopicStage
	}{
		{"storage unreachable stalls", services.Wrap(services.ErrTransient, "", "stat artifact", "videos/final.mp4", errors.New("connection refused")), queue.StageVideoAssembled},
		{"missing object fails topic", services.Wrap(services.ErrNotFound, "", "stat artifact", "videos/final.mp4", nil), queue.StageError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.orch = pipeline.New(h.store, logging.NewNop(),
				pipeline.WithNotifier(h.notifier),
				pipeline.WithClock(func() time.Time { return baseNow }),
				pipeline.WithResolver(failingResolver{err: tt.err}),
			)
			project := testsupport.NewProject(t, h.store)
			topic := prepareAssembly(h, project)

			job := h.finish(queue.JobAssembleVideo, map[string]any{"video_key": "videos/final.mp4"})
			if err := h.orch.HandleCompletion(h.ctx, job); err == nil {
				t.Fatal("expected an error for an unresolved video")
			}
			if got := h.stage(topic.ID); got != tt.stage {
				t.Fatalf("expected stage %s, got %s", tt.stage, got)
			}
			if _, err := h.store.PublicationForTopic(h.ctx, topic.ID); !errors.Is(err, queue.ErrNotFound) {
				t.Fatalf("expected no publication, got %v", err)
			}
		})
	}
}

func TestRejectPublication(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := prepareAssembly(h, project)
	h.complete(queue.JobAssembleVideo, map[string]any{"video_key": "videos/final.mp4"})

	pub, err := h.store.PublicationForTopic(h.ctx, topic.ID)
	if err != nil {
		t.Fatalf("PublicationForTopic failed: %v", err)
	}
	if err := h.orch.RejectPublication(h.ctx, pub.ID); err != nil {
		t.Fatalf("RejectPublication failed: %v", err)
	}
	if got := h.stage(topic.ID); got != queue.StageRejected {
		t.Fatalf("expected rejected, got %s", got)
	}
	if err := h.orch.RejectPublication(h.ctx, pub.ID); !errors.Is(err, queue.ErrPublicationState) {
		t.Fatalf("expected state error on second reject, got %v", err)
	}
}

func TestRestartFromStage(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageStoryCreated)
	h.enqueue(project, topic, queue.JobGenerateStory)
	h.finish(queue.JobGenerateStory, map[string]any{"forwardPayload": map[string]any{"story_id": "s-9"}})
	if _, err := h.store.AdvanceTopicStage(h.ctx, topic.ID, queue.StageThumbnailsCreated); err != nil {
		t.Fatalf("AdvanceTopicStage failed: %v", err)
	}
	stale := h.enqueue(project, topic, queue.JobGenerateNarration)

	if _, err := h.orch.RestartFromStage(h.ctx, topic.ID, queue.StageVisualsCreating); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for non-restartable stage, got %v", err)
	}

	job, err := h.orch.RestartFromStage(h.ctx, topic.ID, queue.StageScriptCreated)
	if err != nil {
		t.Fatalf("RestartFromStage failed: %v", err)
	}
	if job.Type != queue.JobGenerateScript || job.Payload["story_id"] != "s-9" {
		t.Fatalf("unexpected restart job: type=%s payload=%v", job.Type, job.Payload)
	}
	if got := h.stage(topic.ID); got != queue.StageStoryCreated {
		t.Fatalf("expected topic rewound to story_created, got %s", got)
	}
	cancelled, err := h.store.GetJob(h.ctx, stale.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if cancelled.Status != queue.JobCancelled {
		t.Fatalf("expected in-flight job cancelled, got %s", cancelled.Status)
	}
}

func TestRestartRefusesPublishedTopic(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StagePublished)

	if _, err := h.orch.RestartFromStage(h.ctx, topic.ID, queue.StageStoryCreated); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTriggerFromTopic(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)

	fresh := h.topicAt(project.ID, queue.StageTopicsGenerated)
	job, err := h.orch.TriggerFromTopic(h.ctx, fresh.ID)
	if err != nil {
		t.Fatalf("TriggerFromTopic failed: %v", err)
	}
	if job.Type != queue.JobGenerateStory {
		t.Fatalf("expected generate_story, got %s", job.Type)
	}
	admitted, err := h.store.GetTopic(h.ctx, fresh.ID)
	if err != nil {
		t.Fatalf("GetTopic failed: %v", err)
	}
	if admitted.AdmittedAt == nil {
		t.Fatal("expected topic to be admitted")
	}

	// Triggering again replaces the pending job rather than duplicating it.
	if _, err := h.orch.TriggerFromTopic(h.ctx, fresh.ID); err != nil {
		t.Fatalf("TriggerFromTopic failed: %v", err)
	}
	if n := len(h.pending(fresh.ID, queue.JobGenerateStory)); n != 1 {
		t.Fatalf("expected one pending story job, got %d", n)
	}

	parked := h.topicAt(project.ID, queue.StageVideoAssembled)
	if _, err := h.orch.TriggerFromTopic(h.ctx, parked.ID); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for buffer stage, got %v", err)
	}
}

func TestOnJobFinished(t *testing.T) {
	h := newHarness(t)
	project := testsupport.NewProject(t, h.store)
	topic := h.topicAt(project.ID, queue.StageTopicsGenerated)
	h.enqueue(project, topic, queue.JobGenerateStory)
	job := h.claim(queue.JobGenerateStory)

	h.orch.OnJobFinished(h.ctx, job, pipeline.Outcome{Completed: false, Result: map[string]any{}})
	if got := h.stage(topic.ID); got != queue.StageTopicsGenerated {
		t.Fatalf("unapplied completion must not advance, got %s", got)
	}

	h.orch.OnJobFinished(h.ctx, job, pipeline.Outcome{
		Failure: &queue.FailOutcome{
			Applied:     true,
			Failure:     services.Failure{Class: services.ClassFatal, Category: services.CategoryBilling},
			TopicMarked: true,
			TopicError:  "billing failure",
		},
	})
	if !h.notifier.has(notifications.EventTopicFailed) {
		t.Fatal("expected a topic failure notification")
	}

	h.orch.OnJobFinished(h.ctx, job, pipeline.Outcome{Completed: true, Result: map[string]any{}})
	if got := h.stage(topic.ID); got != queue.StageStoryCreated {
		t.Fatalf("expected story_created, got %s", got)
	}
}
