package workflow

import (
	"sync"
	"time"

	"storyloom/internal/queue"
)

// rateGate keeps rate-limited job types to one in flight per worker and
// enforces a cooldown after each finishes.
type rateGate struct {
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	limited  map[queue.JobType]struct{}
	busy     map[queue.JobType]bool
	coolTill map[queue.JobType]time.Time
}

func newRateGate(types []queue.JobType, cooldown time.Duration) *rateGate {
	g := &rateGate{
		cooldown: cooldown,
		now:      time.Now,
		limited:  make(map[queue.JobType]struct{}, len(types)),
		busy:     make(map[queue.JobType]bool),
		coolTill: make(map[queue.JobType]time.Time),
	}
	for _, t := range types {
		g.limited[t] = struct{}{}
	}
	return g
}

// blocked lists the limited types that may not be claimed right now.
func (g *rateGate) blocked() []queue.JobType {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var out []queue.JobType
	for _, t := range queue.AllJobTypes {
		if _, ok := g.limited[t]; !ok {
			continue
		}
		if g.busy[t] || now.Before(g.coolTill[t]) {
			out = append(out, t)
		}
	}
	return out
}

func (g *rateGate) acquire(t queue.JobType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.limited[t]; ok {
		g.busy[t] = true
	}
}

func (g *rateGate) release(t queue.JobType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.limited[t]; !ok {
		return
	}
	g.busy[t] = false
	g.coolTill[t] = g.now().Add(g.cooldown)
}

// nextOpen returns when the earliest cooling type becomes claimable again, or
// the zero time when none is cooling.
func (g *rateGate) nextOpen() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var next time.Time
	for t, until := range g.coolTill {
		if g.busy[t] || !until.After(now) {
			continue
		}
		if next.IsZero() || until.Before(next) {
			next = until
		}
	}
	return next
}
