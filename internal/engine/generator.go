package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyloom/internal/config"
	"storyloom/internal/queue"
	"storyloom/internal/services"
	"storyloom/internal/stage"
)

// Candidate is one topic idea proposed for a source.
type Candidate struct {
	Title         string  `json:"title"`
	RichnessScore float64 `json:"richness_score"`
}

// TopicGenerator proposes topic candidates from a processed source.
type TopicGenerator interface {
	Generate(ctx context.Context, project *queue.Project, source *queue.Source) ([]Candidate, error)
}

// HandlerGenerator runs a discover_topics handler in-process against a
// synthetic job and reads the topics list from its result.
type HandlerGenerator struct {
	Handler stage.Handler
}

// Generate invokes the handler and returns candidates ordered by richness,
// richest first.
func (g HandlerGenerator) Generate(ctx context.Context, project *queue.Project, source *queue.Source) ([]Candidate, error) {
	if g.Handler == nil {
		return nil, services.Wrap(services.ErrFatalConfig, string(queue.JobDiscoverTopics), "generate topics", "no topic generator configured", nil)
	}
	job := &queue.Job{
		ID:          "engine-" + uuid.NewString(),
		ProjectID:   project.ID,
		SourceID:    source.ID,
		Type:        queue.JobDiscoverTopics,
		Attempt:     1,
		MaxAttempts: 1,
		Payload: map[string]any{
			"kind":         source.Kind,
			"uri":          source.URI,
			"min_richness": project.MinRichness,
		},
	}
	result, err := g.Handler.Execute(ctx, job)
	if err != nil {
		return nil, err
	}
	return parseCandidates(result)
}

// NewGenerator builds the engine's topic generator. A configured
// topic_generator_command wins; otherwise the registered discover_topics
// handler is reused. It returns nil when neither exists.
func NewGenerator(cfg *config.Config, registry *stage.Registry) TopicGenerator {
	if cfg != nil && cfg.Engine.TopicGeneratorCommand != "" {
		return HandlerGenerator{Handler: &stage.CommandHandler{
			JobType: queue.JobDiscoverTopics,
			Command: cfg.Engine.TopicGeneratorCommand,
			Timeout: time.Duration(cfg.Engine.TopicGeneratorTimeoutSec) * time.Second,
		}}
	}
	if handler, ok := registry.Lookup(queue.JobDiscoverTopics); ok {
		return HandlerGenerator{Handler: handler}
	}
	return nil
}

func parseCandidates(result map[string]any) ([]Candidate, error) {
	raw, ok := result["topics"]
	if !ok || raw == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode topics: %w", err)
	}
	var candidates []Candidate
	if err := json.Unmarshal(encoded, &candidates); err != nil {
		return nil, services.Wrap(services.ErrHandlerOutput, string(queue.JobDiscoverTopics), "parse topics",
			"topics must be a list of {title, richness_score}", err)
	}
	kept := candidates[:0]
	for _, candidate := range candidates {
		candidate.Title = strings.TrimSpace(candidate.Title)
		if candidate.Title == "" {
			continue
		}
		kept = append(kept, candidate)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].RichnessScore > kept[j].RichnessScore })
	return kept, nil
}
