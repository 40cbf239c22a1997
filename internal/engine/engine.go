package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"storyloom/internal/config"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/recurring"
	"storyloom/internal/schedule"
	"storyloom/internal/services"
	"storyloom/internal/textutil"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonProjectInactive Reason = "project_inactive"
	ReasonPipelinePaused  Reason = "pipeline_paused"
	ReasonEngineDisabled  Reason = "engine_disabled"
	ReasonActivePipeline  Reason = "active_pipeline"
	ReasonBufferFull      Reason = "buffer_full"
	ReasonResumedStranded Reason = "resumed_stranded"
	ReasonDailyCap        Reason = "daily_cap"
	ReasonAdmittedWaiting Reason = "admitted_waiting_topic"
	ReasonAdmittedNew     Reason = "admitted_new_topic"
	ReasonNoSource        Reason = "no_source"
	ReasonNoGenerator     Reason = "no_generator"
	ReasonNoCandidates    Reason = "no_qualifying_candidates"
	ReasonError           Reason = "error"
)

const admissionLockRetry = 50 * time.Millisecond

// Decision records what a cycle did for one project.
type Decision struct {
	ProjectID string `json:"project_id"`
	Triggered bool   `json:"triggered"`
	Reason    Reason `json:"reason"`
	TopicID   string `json:"topic_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	Buffer    int    `json:"buffer"`
	Target    int    `json:"buffer_target"`
	Admitted  int    `json:"admitted_today"`
}

// Engine decides which topic, if any, each project admits next.
type Engine struct {
	store     *queue.Store
	orch      *pipeline.Orchestrator
	generator TopicGenerator
	settings  *SettingsCache
	logger    *slog.Logger
	clock     func() time.Time
	grace     time.Duration
	interval  time.Duration
	stranded  []queue.TopicStage
	dupLimit  float64
	admitLock *flock.Flock

	cycleMu sync.Mutex
	taskMu  sync.Mutex
	task    *recurring.Task
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerator sets the topic generator used when no topic is waiting.
func WithGenerator(generator TopicGenerator) Option {
	return func(e *Engine) { e.generator = generator }
}

// WithClock overrides the time source for stranded grace and day bounds.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
		e.settings.clock = clock
	}
}

// New constructs an engine. The orchestrator supplies the trigger entry
// points and the flow table that defines which stages can strand.
func New(cfg *config.Config, store *queue.Store, orch *pipeline.Orchestrator, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		orch:      orch,
		settings:  NewSettingsCache(store, cfg.SettingsCacheTTL()),
		logger:    logging.NewComponentLogger(logger, "engine"),
		clock:     time.Now,
		grace:     cfg.StrandedGrace(),
		interval:  cfg.EngineInterval(),
		stranded:  orch.Flow().StrandedStages(),
		dupLimit:  cfg.Engine.DuplicateTitleThreshold,
		admitLock: flock.New(cfg.AdmissionLockPath()),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Settings exposes the engine's settings cache.
func (e *Engine) Settings() *SettingsCache {
	return e.settings
}

// Start runs RunCycle every configured interval until Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.taskMu.Lock()
	defer e.taskMu.Unlock()
	if e.task != nil {
		return errors.New("engine already running")
	}
	task := recurring.New("content-engine", e.interval, func(ctx context.Context) {
		if _, err := e.RunCycle(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(e.logger, "engine cycle incomplete", "engine_cycle_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "inspect project settings and queue health"),
			)
		}
	}, e.logger)
	if err := task.Start(ctx); err != nil {
		return err
	}
	e.task = task
	return nil
}

// Stop halts the timer and waits for a running cycle to return.
func (e *Engine) Stop() {
	e.taskMu.Lock()
	task := e.task
	e.task = nil
	e.taskMu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// RunCycle evaluates every active, unpaused project once. Per-project errors
// do not stop the cycle; they are joined into the returned error.
func (e *Engine) RunCycle(ctx context.Context) ([]Decision, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	projects, err := e.store.ListProjects(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	decisions := make([]Decision, 0, len(projects))
	var errs []error
	for _, listed := range projects {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		decision, err := e.evaluateExclusive(ctx, listed.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", listed.ID, err))
		}
		decisions = append(decisions, decision)
	}
	return decisions, errors.Join(errs...)
}

// TriggerProject runs one admission decision for a project immediately,
// bypassing the timer but not the admission rules.
func (e *Engine) TriggerProject(ctx context.Context, projectID string) (Decision, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()
	e.settings.Invalidate(projectID)
	return e.evaluateExclusive(ctx, projectID)
}

// PauseProject stops the engine from admitting topics for the project.
// In-flight topics keep running.
func (e *Engine) PauseProject(ctx context.Context, projectID string) error {
	return e.setEnabled(ctx, projectID, false)
}

// ResumeProject re-enables admissions for the project.
func (e *Engine) ResumeProject(ctx context.Context, projectID string) error {
	return e.setEnabled(ctx, projectID, true)
}

func (e *Engine) setEnabled(ctx context.Context, projectID string, enabled bool) error {
	if err := e.store.SetEngineEnabled(ctx, projectID, enabled); err != nil {
		return err
	}
	e.settings.Invalidate(projectID)
	e.logger.Info("engine state changed",
		logging.String(logging.FieldEventType, "engine_state_changed"),
		logging.String(logging.FieldProjectID, projectID),
		logging.Bool("enabled", enabled),
	)
	return nil
}

// SetPipelinePaused gates job claiming for the project and refreshes the
// cached settings.
func (e *Engine) SetPipelinePaused(ctx context.Context, projectID string, paused bool) error {
	if err := e.store.SetPipelinePaused(ctx, projectID, paused); err != nil {
		return err
	}
	e.settings.Invalidate(projectID)
	return nil
}

// UpdateSettings persists project settings and drops the cached copy.
func (e *Engine) UpdateSettings(ctx context.Context, project queue.Project) error {
	if err := e.store.UpdateProjectSettings(ctx, project); err != nil {
		return err
	}
	e.settings.Invalidate(project.ID)
	return nil
}

// evaluateExclusive runs evaluate while holding the admission lock file, so
// engines in other processes sharing the data directory see this decision's
// admission before making their own.
func (e *Engine) evaluateExclusive(ctx context.Context, projectID string) (Decision, error) {
	if err := os.MkdirAll(filepath.Dir(e.admitLock.Path()), 0o755); err != nil {
		return e.fail(Decision{ProjectID: projectID}, fmt.Errorf("ensure admission lock directory: %w", err))
	}
	locked, err := e.admitLock.TryLockContext(ctx, admissionLockRetry)
	if err != nil {
		return e.fail(Decision{ProjectID: projectID}, fmt.Errorf("acquire admission lock: %w", err))
	}
	if !locked {
		return e.fail(Decision{ProjectID: projectID}, errors.New("acquire admission lock: not acquired"))
	}
	defer func() {
		if err := e.admitLock.Unlock(); err != nil {
			logging.WarnWithContext(e.logger, "admission lock release failed", "engine_lock_error",
				logging.Error(err),
				logging.String("lock", e.admitLock.Path()),
			)
		}
	}()
	return e.evaluate(ctx, projectID)
}

// evaluate applies the admission rules in priority order and performs at
// most one admission.
func (e *Engine) evaluate(ctx context.Context, projectID string) (Decision, error) {
	ctx = services.WithProjectID(ctx, projectID)
	decision := Decision{ProjectID: projectID}

	project, err := e.settings.Get(ctx, projectID)
	if err != nil {
		decision.Reason = ReasonError
		return decision, err
	}
	decision.Target = project.BufferTarget

	switch {
	case project.Status != queue.ProjectActive:
		return e.decide(ctx, decision, ReasonProjectInactive), nil
	case project.PipelinePaused:
		return e.decide(ctx, decision, ReasonPipelinePaused), nil
	case !project.EngineEnabled:
		return e.decide(ctx, decision, ReasonEngineDisabled), nil
	}

	active, err := e.store.CountActivePipeline(ctx, project.ID)
	if err != nil {
		return e.fail(decision, err)
	}
	if active > 0 {
		return e.decide(ctx, decision, ReasonActivePipeline), nil
	}
	buffer, err := e.store.CountTopicsInStages(ctx, project.ID, queue.BufferStages)
	if err != nil {
		return e.fail(decision, err)
	}
	decision.Buffer = buffer
	if buffer >= project.BufferTarget {
		return e.decide(ctx, decision, ReasonBufferFull), nil
	}

	now := e.clock()
	stranded, err := e.store.FindStrandedTopic(ctx, project.ID, e.stranded, now.Add(-e.grace))
	if err != nil {
		return e.fail(decision, err)
	}
	if stranded != nil {
		return e.admit(ctx, decision, stranded.ID, ReasonResumedStranded)
	}

	start, end := schedule.DayBounds(now, project.PublicationTimezone)
	admitted, err := e.store.CountAdmittedBetween(ctx, project.ID, start, end)
	if err != nil {
		return e.fail(decision, err)
	}
	decision.Admitted = admitted
	if admitted >= project.MaxGenPerDay {
		return e.decide(ctx, decision, ReasonDailyCap), nil
	}

	waiting, err := e.store.BestGeneratedTopic(ctx, project.ID, project.MinRichness)
	if err != nil {
		return e.fail(decision, err)
	}
	if waiting != nil {
		return e.admit(ctx, decision, waiting.ID, ReasonAdmittedWaiting)
	}
	return e.generate(ctx, decision, project)
}

// generate mints topics from the newest unconsumed source and admits the
// richest one that meets the project's minimum. The rest stay at
// topics_generated for later cycles.
func (e *Engine) generate(ctx context.Context, decision Decision, project *queue.Project) (Decision, error) {
	source, err := e.store.LatestUnconsumedSource(ctx, project.ID)
	if err != nil {
		return e.fail(decision, err)
	}
	if source == nil {
		return e.decide(ctx, decision, ReasonNoSource), nil
	}
	if e.generator == nil {
		return e.decide(ctx, decision, ReasonNoGenerator), nil
	}
	candidates, err := e.generator.Generate(ctx, project, source)
	if err != nil {
		return e.fail(decision, fmt.Errorf("generate topics from source %s: %w", source.ID, err))
	}

	titles, err := e.knownTitles(ctx, project.ID)
	if err != nil {
		return e.fail(decision, err)
	}

	var (
		best       *queue.Topic
		duplicates int
	)
	for _, candidate := range candidates {
		if titles != nil {
			if match, score := titles.Closest(candidate.Title); score >= e.dupLimit {
				duplicates++
				e.logger.Debug("generated topic duplicates an existing title",
					logging.String(logging.FieldEventType, "engine_topic_duplicate"),
					logging.String(logging.FieldProjectID, project.ID),
					logging.String("title", candidate.Title),
					logging.String("existing_title", match),
					logging.Float64("similarity", score),
				)
				continue
			}
			titles.Add(candidate.Title)
		}
		topic, err := e.store.CreateTopic(ctx, queue.NewTopic{
			ProjectID:     project.ID,
			SourceID:      source.ID,
			Title:         candidate.Title,
			RichnessScore: candidate.RichnessScore,
		})
		if err != nil {
			return e.fail(decision, err)
		}
		if best == nil && candidate.RichnessScore >= project.MinRichness {
			best = topic
		}
	}
	if err := e.store.MarkSourceConsumed(ctx, source.ID); err != nil {
		return e.fail(decision, err)
	}
	e.logger.Info("topics generated from source",
		logging.String(logging.FieldEventType, "engine_topics_generated"),
		logging.String(logging.FieldProjectID, project.ID),
		logging.String("source_id", source.ID),
		logging.Int("candidates", len(candidates)),
		logging.Int("duplicates", duplicates),
	)
	if best == nil {
		return e.decide(ctx, decision, ReasonNoCandidates), nil
	}
	return e.admit(ctx, decision, best.ID, ReasonAdmittedNew)
}

// knownTitles indexes every topic title the project has ever had, so
// regenerated ideas are not produced twice. It returns nil when duplicate
// detection is off.
func (e *Engine) knownTitles(ctx context.Context, projectID string) (*textutil.TitleIndex, error) {
	if e.dupLimit <= 0 {
		return nil, nil
	}
	topics, err := e.store.ListTopics(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	titles := textutil.NewTitleIndex()
	for _, topic := range topics {
		titles.Add(topic.Title)
	}
	return titles, nil
}

func (e *Engine) admit(ctx context.Context, decision Decision, topicID string, reason Reason) (Decision, error) {
	job, err := e.orch.TriggerFromTopic(ctx, topicID)
	if err != nil {
		decision.TopicID = topicID
		return e.fail(decision, err)
	}
	decision.Triggered = true
	decision.TopicID = topicID
	decision.JobID = job.ID
	return e.decide(ctx, decision, reason), nil
}

func (e *Engine) decide(ctx context.Context, decision Decision, reason Reason) Decision {
	decision.Reason = reason
	result := "skipped"
	if decision.Triggered {
		result = "admitted"
	}
	attrs := append(logging.DecisionAttrs("engine_admission", result, string(reason)),
		logging.Int("buffer", decision.Buffer),
		logging.Int("buffer_target", decision.Target),
	)
	if decision.TopicID != "" {
		attrs = append(attrs, logging.String(logging.FieldTopicID, decision.TopicID))
	}
	logger := logging.WithContext(ctx, e.logger)
	if decision.Triggered {
		logger.Info("engine admitted topic", logging.Args(attrs...)...)
	} else {
		logger.Debug("engine skipped project", logging.Args(attrs...)...)
	}
	return decision
}

func (e *Engine) fail(decision Decision, err error) (Decision, error) {
	decision.Reason = ReasonError
	return decision, err
}
