package pipeline

import (
	"sort"

	"storyloom/internal/queue"
)

// Effect is a side effect applied when a job of a given type completes.
type Effect string

const (
	EffectNone             Effect = ""
	EffectSourceProcessed  Effect = "source_processed"
	EffectMaterializeTopic Effect = "materialize_topics"
	EffectPublication      Effect = "publication"
	EffectPublished        Effect = "published"
)

// FanOut turns one result list into one child job per identifier.
type FanOut struct {
	// ResultKey names the result list holding child identifiers.
	ResultKey string
	// PayloadField names the child payload key that receives the identifier.
	PayloadField string
	// ChildrenAreTopics makes each identifier the child job's topic.
	ChildrenAreTopics bool
}

// Conditional routes to Detour instead of Next when the result flag is set.
type Conditional struct {
	Flag   string
	Detour queue.JobType
}

// Step is one row of the flow table.
type Step struct {
	Next        queue.JobType
	Stage       queue.TopicStage
	FanOut      *FanOut
	Conditional *Conditional
	AwaitAll    bool
	Terminal    bool
	Effect      Effect
}

// Flow maps a job type to what happens after it completes.
type Flow map[queue.JobType]Step

// DefaultFlow returns the production pipeline.
func DefaultFlow() Flow {
	return Flow{
		queue.JobExtractSource: {
			Next:   queue.JobDiscoverTopics,
			Effect: EffectSourceProcessed,
		},
		queue.JobDiscoverTopics: {
			Next:   queue.JobGenerateStory,
			FanOut: &FanOut{ResultKey: "qualifying_topic_ids", ChildrenAreTopics: true},
			Effect: EffectMaterializeTopic,
		},
		queue.JobGenerateStory: {
			Next:  queue.JobGenerateScript,
			Stage: queue.StageStoryCreated,
		},
		queue.JobGenerateScript: {
			Next:        queue.JobGenerateVisualPrompts,
			Stage:       queue.StageScriptCreated,
			Conditional: &Conditional{Flag: "needs_expansion", Detour: queue.JobExpandScript},
		},
		queue.JobExpandScript: {
			Next:  queue.JobGenerateVisualPrompts,
			Stage: queue.StageScriptCreated,
		},
		queue.JobGenerateVisualPrompts: {
			Next:   queue.JobGenerateVisualAsset,
			Stage:  queue.StageVisualsCreating,
			FanOut: &FanOut{ResultKey: "asset_ids", PayloadField: "asset_id"},
		},
		queue.JobGenerateVisualAsset: {
			Next:     queue.JobGenerateThumbnails,
			Stage:    queue.StageVisualsCreated,
			AwaitAll: true,
		},
		queue.JobGenerateThumbnails: {
			Next:  queue.JobGenerateNarration,
			Stage: queue.StageThumbnailsCreated,
		},
		queue.JobGenerateNarration: {
			Next:  queue.JobAssembleVideo,
			Stage: queue.StageNarrationCreated,
		},
		queue.JobAssembleVideo: {
			Stage:    queue.StageVideoAssembled,
			Terminal: true,
			Effect:   EffectPublication,
		},
		queue.JobPublishVideo: {
			Stage:    queue.StagePublished,
			Terminal: true,
			Effect:   EffectPublished,
		},
	}
}

// ResumeTable derives, for every stage a topic can be parked in, the job
// that moves it forward again. Fan-outs over assets resume by re-running the
// fan-out job; everything else resumes with the successor of the job that
// produced the stage. Topic fan-outs seed topics_generated. Terminal steps
// have no successor and are absent.
func (f Flow) ResumeTable() map[queue.TopicStage]queue.JobType {
	table := make(map[queue.TopicStage]queue.JobType)
	for _, jobType := range queue.AllJobTypes {
		step, ok := f[jobType]
		if !ok || step.Terminal {
			continue
		}
		if step.FanOut != nil && step.FanOut.ChildrenAreTopics {
			setOnce(table, queue.StageTopicsGenerated, step.Next)
		}
		if step.Stage == "" {
			continue
		}
		if step.FanOut != nil && !step.FanOut.ChildrenAreTopics {
			setOnce(table, step.Stage, jobType)
			continue
		}
		setOnce(table, step.Stage, step.Next)
	}
	return table
}

// StrandedStages lists the intermediate stages the content engine scans for
// lost work, in pipeline order: every resumable stage after topics_generated.
func (f Flow) StrandedStages() []queue.TopicStage {
	table := f.ResumeTable()
	stages := make([]queue.TopicStage, 0, len(table))
	for stage := range table {
		if queue.StageTopicsGenerated.Before(stage) {
			stages = append(stages, stage)
		}
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Before(stages[j]) })
	return stages
}

// RestartTable maps each restartable stage to the job that regenerates it.
// Await-all stages restart at the fan-out that feeds them, since a single
// sibling cannot be rerun on its own.
func (f Flow) RestartTable() map[queue.TopicStage]queue.JobType {
	table := make(map[queue.TopicStage]queue.JobType)
	for _, jobType := range queue.AllJobTypes {
		step, ok := f[jobType]
		if !ok || step.Stage == "" || jobType == queue.JobPublishVideo {
			continue
		}
		producer := jobType
		if step.AwaitAll {
			if parent, ok := f.parentOf(jobType); ok {
				producer = parent
			}
		}
		if step.FanOut != nil && !step.FanOut.ChildrenAreTopics {
			// Reached through the await-all stage that follows it.
			continue
		}
		setOnce(table, step.Stage, producer)
	}
	return table
}

// Upstream lists the job types whose results feed jobType, latest pipeline
// position first.
func (f Flow) Upstream(jobType queue.JobType) []queue.JobType {
	var upstream []queue.JobType
	for idx := len(queue.AllJobTypes) - 1; idx >= 0; idx-- {
		candidate := queue.AllJobTypes[idx]
		step, ok := f[candidate]
		if !ok {
			continue
		}
		if step.Next == jobType || (step.Conditional != nil && step.Conditional.Detour == jobType) {
			upstream = append(upstream, candidate)
		}
	}
	return upstream
}

func (f Flow) parentOf(jobType queue.JobType) (queue.JobType, bool) {
	for _, candidate := range queue.AllJobTypes {
		step, ok := f[candidate]
		if ok && step.FanOut != nil && step.Next == jobType {
			return candidate, true
		}
	}
	return "", false
}

func setOnce(table map[queue.TopicStage]queue.JobType, stage queue.TopicStage, jobType queue.JobType) {
	if _, exists := table[stage]; !exists {
		table[stage] = jobType
	}
}
