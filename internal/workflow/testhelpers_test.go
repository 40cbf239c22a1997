package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/notifications"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/testsupport"
	"storyloom/internal/workflow"
)

type stubNotifier struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (s *stubNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubNotifier) count(event notifications.Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e == event {
			n++
		}
	}
	return n
}

type finished struct {
	job     queue.Job
	outcome pipeline.Outcome
}

type recordingObserver struct {
	mu   sync.Mutex
	seen []finished
}

func (r *recordingObserver) OnJobFinished(_ context.Context, job *queue.Job, outcome pipeline.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, finished{job: *job, outcome: outcome})
}

func (r *recordingObserver) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}

func (r *recordingObserver) all() []finished {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]finished(nil), r.seen...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	registry *stage.Registry
	observer *recordingObserver
	notifier *stubNotifier
	project  *queue.Project
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	return &fixture{
		cfg:      cfg,
		store:    store,
		registry: stage.NewRegistry(),
		observer: &recordingObserver{},
		notifier: &stubNotifier{},
		project:  testsupport.NewProject(t, store),
	}
}

func (f *fixture) register(t *testing.T, jobType queue.JobType, fn stage.HandlerFunc) {
	t.Helper()
	if err := f.registry.Register(jobType, fn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
}

func (f *fixture) enqueue(t *testing.T, jobType queue.JobType, maxAttempts int) *queue.Job {
	t.Helper()
	return testsupport.MustEnqueue(t, f.store, queue.EnqueueParams{
		ProjectID:   f.project.ID,
		Type:        jobType,
		MaxAttempts: maxAttempts,
	})
}

func (f *fixture) start(t *testing.T, opts ...workflow.ManagerOption) *workflow.Manager {
	t.Helper()
	opts = append([]workflow.ManagerOption{workflow.WithNotifier(f.notifier)}, opts...)
	mgr := workflow.NewManager(f.cfg, f.store, f.registry, f.observer, logging.NewNop(), opts...)
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func (f *fixture) job(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := f.store.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	return job
}
