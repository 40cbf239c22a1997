package testsupport

import (
	"context"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// ProjectOption customizes a fixture project.
type ProjectOption func(*queue.Project)

// NewProject creates an active project with engine enabled, a buffer target
// of 3, and one generation per day.
func NewProject(t testing.TB, store *queue.Store, opts ...ProjectOption) *queue.Project {
	t.Helper()

	project := queue.Project{
		Name:                  "Test Project",
		EngineEnabled:         true,
		BufferTarget:          3,
		MaxGenPerDay:          1,
		MaxPublicationsPerDay: 1,
		PublicationDays:       []int{0, 1, 2, 3, 4, 5, 6},
		PublicationTimes:      []string{"09:00"},
		PublicationTimezone:   "UTC",
	}
	for _, opt := range opts {
		opt(&project)
	}
	created, err := store.CreateProject(context.Background(), project)
	if err != nil {
		t.Fatalf("store.CreateProject: %v", err)
	}
	return created
}

// NewTopic creates a topic at the given stage.
func NewTopic(t testing.TB, store *queue.Store, projectID string, stage queue.TopicStage) *queue.Topic {
	t.Helper()

	topic, err := store.CreateTopic(context.Background(), queue.NewTopic{
		ProjectID:     projectID,
		Title:         "Topic",
		RichnessScore: 0.5,
		Stage:         stage,
	})
	if err != nil {
		t.Fatalf("store.CreateTopic: %v", err)
	}
	return topic
}

// MustEnqueue enqueues a job and fails the test on error.
func MustEnqueue(t testing.TB, store *queue.Store, params queue.EnqueueParams) *queue.Job {
	t.Helper()

	job, err := store.Enqueue(context.Background(), params)
	if err != nil {
		t.Fatalf("store.Enqueue: %v", err)
	}
	return job
}

// MustClaim claims the next job for workerID and fails the test when none is eligible.
func MustClaim(t testing.TB, store *queue.Store, workerID string) *queue.Job {
	t.Helper()

	job, err := store.ClaimNext(context.Background(), workerID, queue.ClaimOptions{})
	if err != nil {
		t.Fatalf("store.ClaimNext: %v", err)
	}
	if job == nil {
		t.Fatal("expected a claimable job")
	}
	return job
}
