package engine

import (
	"context"
	"sync"
	"time"

	"storyloom/internal/queue"
)

type settingsEntry struct {
	project queue.Project
	expires time.Time
}

// SettingsCache serves project settings for up to ttl before reloading them
// from the store. A zero ttl disables caching.
type SettingsCache struct {
	store *queue.Store
	ttl   time.Duration
	clock func() time.Time

	mu      sync.RWMutex
	entries map[string]settingsEntry
}

// NewSettingsCache constructs an empty cache over store.
func NewSettingsCache(store *queue.Store, ttl time.Duration) *SettingsCache {
	return &SettingsCache{
		store:   store,
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]settingsEntry),
	}
}

// Get returns a copy of the project's settings, possibly stale by up to ttl.
func (c *SettingsCache) Get(ctx context.Context, projectID string) (*queue.Project, error) {
	now := c.clock()
	c.mu.RLock()
	entry, ok := c.entries[projectID]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		project := entry.project
		return &project, nil
	}

	project, err := c.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.mu.Lock()
		c.entries[projectID] = settingsEntry{project: *project, expires: now.Add(c.ttl)}
		c.mu.Unlock()
	}
	return project, nil
}

// Invalidate drops the cached settings for projectID.
func (c *SettingsCache) Invalidate(projectID string) {
	c.mu.Lock()
	delete(c.entries, projectID)
	c.mu.Unlock()
}

// InvalidateAll empties the cache.
func (c *SettingsCache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]settingsEntry)
	c.mu.Unlock()
}
