package queue

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// AllJobStatuses lists statuses in lifecycle order.
var AllJobStatuses = []JobStatus{JobPending, JobProcessing, JobCompleted, JobFailed, JobCancelled}

// ParseJobStatus normalizes a user-supplied status string.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range AllJobStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// JobType names one unit of pipeline work. The set is closed.
type JobType string

const (
	JobExtractSource         JobType = "extract_source"
	JobDiscoverTopics        JobType = "discover_topics"
	JobGenerateStory         JobType = "generate_story"
	JobGenerateScript        JobType = "generate_script"
	JobExpandScript          JobType = "expand_script"
	JobGenerateVisualPrompts JobType = "generate_visual_prompts"
	JobGenerateVisualAsset   JobType = "generate_visual_asset"
	JobGenerateThumbnails    JobType = "generate_thumbnails"
	JobGenerateNarration     JobType = "generate_narration"
	JobAssembleVideo         JobType = "assemble_video"
	JobPublishVideo          JobType = "publish_video"
)

// AllJobTypes lists job types from the start of the pipeline to the end.
var AllJobTypes = []JobType{
	JobExtractSource,
	JobDiscoverTopics,
	JobGenerateStory,
	JobGenerateScript,
	JobExpandScript,
	JobGenerateVisualPrompts,
	JobGenerateVisualAsset,
	JobGenerateThumbnails,
	JobGenerateNarration,
	JobAssembleVideo,
	JobPublishVideo,
}

// Precedence orders claims within a priority tier: jobs closer to the end of
// the pipeline win so topics in flight finish before new ones start.
func (t JobType) Precedence() int {
	for idx, candidate := range AllJobTypes {
		if candidate == t {
			return idx + 1
		}
	}
	return 0
}

// Known reports whether t belongs to the closed job type set.
func (t JobType) Known() bool {
	return t.Precedence() > 0
}

// CostBearing reports whether the job calls paid generation services for a
// topic. These are the jobs the content engine refuses to overlap.
func (t JobType) CostBearing() bool {
	switch t {
	case JobGenerateStory, JobGenerateScript, JobExpandScript, JobGenerateVisualPrompts,
		JobGenerateVisualAsset, JobGenerateThumbnails, JobGenerateNarration, JobAssembleVideo:
		return true
	default:
		return false
	}
}

// ParseJobType normalizes a user-supplied job type.
func ParseJobType(value string) (JobType, bool) {
	t := JobType(strings.ToLower(strings.TrimSpace(value)))
	return t, t.Known()
}

// TopicStage is a topic's position in the pipeline lifecycle.
type TopicStage string

const (
	StageIdea                TopicStage = "idea"
	StageTopicsGenerated     TopicStage = "topics_generated"
	StageStoryCreated        TopicStage = "story_created"
	StageScriptCreated       TopicStage = "script_created"
	StageVisualsCreating     TopicStage = "visuals_creating"
	StageVisualsCreated      TopicStage = "visuals_created"
	StageThumbnailsCreated   TopicStage = "thumbnails_created"
	StageNarrationCreated    TopicStage = "narration_created"
	StageVideoAssembled      TopicStage = "video_assembled"
	StageQueuedForPublishing TopicStage = "queued_for_publishing"
	StageScheduled           TopicStage = "scheduled"
	StagePublished           TopicStage = "published"

	StageError     TopicStage = "error"
	StageDiscarded TopicStage = "discarded"
	StageRejected  TopicStage = "rejected"
)

// OrderedStages lists the forward stages in order.
var OrderedStages = []TopicStage{
	StageIdea,
	StageTopicsGenerated,
	StageStoryCreated,
	StageScriptCreated,
	StageVisualsCreating,
	StageVisualsCreated,
	StageThumbnailsCreated,
	StageNarrationCreated,
	StageVideoAssembled,
	StageQueuedForPublishing,
	StageScheduled,
	StagePublished,
}

// BufferStages are the stages counted as ready-to-publish inventory.
var BufferStages = []TopicStage{StageVideoAssembled, StageQueuedForPublishing, StageScheduled}

// Rank returns the 1-based position of s in the forward ordering, or 0 for
// absorbing and unknown stages.
func (s TopicStage) Rank() int {
	for idx, stage := range OrderedStages {
		if stage == s {
			return idx + 1
		}
	}
	return 0
}

// IsAbsorbing reports whether s is a dead end that forward advances ignore.
func (s TopicStage) IsAbsorbing() bool {
	switch s {
	case StageError, StageDiscarded, StageRejected:
		return true
	default:
		return false
	}
}

// Before reports whether s is strictly earlier than other in the forward ordering.
func (s TopicStage) Before(other TopicStage) bool {
	return s.Rank() > 0 && other.Rank() > 0 && s.Rank() < other.Rank()
}

// stagesBefore returns every forward stage strictly earlier than s.
func stagesBefore(s TopicStage) []TopicStage {
	rank := s.Rank()
	if rank <= 1 {
		return nil
	}
	return append([]TopicStage(nil), OrderedStages[:rank-1]...)
}

// ParseTopicStage normalizes a user-supplied stage name.
func ParseTopicStage(value string) (TopicStage, bool) {
	s := TopicStage(strings.ToLower(strings.TrimSpace(value)))
	if s.Rank() > 0 || s.IsAbsorbing() {
		return s, true
	}
	return "", false
}

// Job is one retryable unit of pipeline work.
type Job struct {
	ID           string
	ProjectID    string
	TopicID      string
	SourceID     string
	Type         JobType
	Payload      map[string]any
	Result       map[string]any
	Status       JobStatus
	Priority     int
	DependsOn    string
	Attempt      int
	MaxAttempts  int
	RunAfter     time.Time
	ErrorMessage string
	ErrorStack   string
	LockedBy     string
	LockedAt     *time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsTerminal reports whether the job reached a final status.
func (j *Job) IsTerminal() bool {
	if j == nil {
		return false
	}
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// ProjectStatus gates whether any of a project's jobs may be claimed.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is a tenant with buffer, quota, and publishing settings.
type Project struct {
	ID                    string
	Name                  string
	Status                ProjectStatus
	PipelinePaused        bool
	EngineEnabled         bool
	BufferTarget          int
	MaxGenPerDay          int
	MinRichness           float64
	AutoPublish           bool
	MaxPublicationsPerDay int
	PublicationDays       []int
	PublicationTimes      []string
	PublicationTimezone   string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Topic is the unit of pipeline progress; one topic becomes one video.
type Topic struct {
	ID            string
	ProjectID     string
	SourceID      string
	Title         string
	RichnessScore float64
	Stage         TopicStage
	PipelineError string
	AdmittedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SourceStatus tracks extraction of an ingested source.
type SourceStatus string

const (
	SourcePending   SourceStatus = "pending"
	SourceProcessed SourceStatus = "processed"
	SourceFailed    SourceStatus = "failed"
)

// Source is raw material that topics are discovered from.
type Source struct {
	ID        string
	ProjectID string
	Kind      string
	URI       string
	Status    SourceStatus
	Consumed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssetStatus tracks a single visual asset in an await-all group.
type AssetStatus string

const (
	AssetPending   AssetStatus = "pending"
	AssetCompleted AssetStatus = "completed"
	AssetFailed    AssetStatus = "failed"
)

// VisualAsset is one sibling of the visual generation fan-out.
type VisualAsset struct {
	ID        string
	TopicID   string
	JobID     string
	Status    AssetStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssetProgress summarizes a topic's visual assets.
type AssetProgress struct {
	Total     int
	Completed int
}

// AllComplete reports whether every asset completed. Zero assets never counts.
func (p AssetProgress) AllComplete() bool {
	return p.Total > 0 && p.Completed == p.Total
}

// PublicationStatus tracks a publish-queue entry.
type PublicationStatus string

const (
	PublicationPendingReview PublicationStatus = "pending_review"
	PublicationScheduled     PublicationStatus = "scheduled"
	PublicationPublished     PublicationStatus = "published"
	PublicationRejected      PublicationStatus = "rejected"
)

// Publication is a finished video waiting for, or past, publication.
type Publication struct {
	ID           string
	ProjectID    string
	TopicID      string
	Title        string
	Description  string
	Tags         []string
	VideoRef     string
	VideoURL     string
	ThumbnailRef string
	Status       PublicationStatus
	ScheduledAt  *time.Time
	PublishedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HealthSummary aggregates job counts for diagnostics.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// DatabaseHealth describes the queue database diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	MissingTables    []string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
