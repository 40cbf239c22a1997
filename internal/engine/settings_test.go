package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"storyloom/internal/queue"
	"storyloom/internal/testsupport"
)

func TestSettingsCacheServesStaleUntilExpiry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, store)
	ctx := context.Background()

	now := time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC)
	cache := NewSettingsCache(store, time.Minute)
	cache.clock = func() time.Time { return now }

	first, err := cache.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if first.BufferTarget != 3 {
		t.Fatalf("expected buffer target 3, got %d", first.BufferTarget)
	}

	updated := *project
	updated.BufferTarget = 9
	if err := store.UpdateProjectSettings(ctx, updated); err != nil {
		t.Fatalf("UpdateProjectSettings failed: %v", err)
	}
	stale, err := cache.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if stale.BufferTarget != 3 {
		t.Fatalf("expected cached value within ttl, got %d", stale.BufferTarget)
	}

	now = now.Add(2 * time.Minute)
	fresh, err := cache.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if fresh.BufferTarget != 9 {
		t.Fatalf("expected reload after ttl, got %d", fresh.BufferTarget)
	}
}

func TestSettingsCacheInvalidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	project := testsupport.NewProject(t, store)
	ctx := context.Background()
	cache := NewSettingsCache(store, time.Hour)

	if _, err := cache.Get(ctx, project.ID); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if err := store.SetEngineEnabled(ctx, project.ID, false); err != nil {
		t.Fatalf("SetEngineEnabled failed: %v", err)
	}
	cache.Invalidate(project.ID)
	got, err := cache.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.EngineEnabled {
		t.Fatal("expected invalidated entry to reload")
	}

	got.BufferTarget = 99
	again, err := cache.Get(ctx, project.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if again.BufferTarget == 99 {
		t.Fatal("expected callers to receive copies")
	}

	cache.InvalidateAll()
	if _, err := cache.Get(ctx, "missing"); !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
