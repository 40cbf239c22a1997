package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Job describes a queued job in a transport-friendly format.
type Job struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"projectId"`
	TopicID      string         `json:"topicId,omitempty"`
	SourceID     string         `json:"sourceId,omitempty"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	Priority     int            `json:"priority"`
	DependsOn    string         `json:"dependsOn,omitempty"`
	Attempt      int            `json:"attempt"`
	MaxAttempts  int            `json:"maxAttempts"`
	RunAfter     string         `json:"runAfter,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	LockedBy     string         `json:"lockedBy,omitempty"`
	LockedAt     string         `json:"lockedAt,omitempty"`
	StartedAt    string         `json:"startedAt,omitempty"`
	CompletedAt  string         `json:"completedAt,omitempty"`
	CreatedAt    string         `json:"createdAt,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
}

// Stats aggregates job counts.
type Stats struct {
	Total    int                       `json:"total"`
	ByStatus map[string]int            `json:"byStatus"`
	ByType   map[string]map[string]int `json:"byType"`
}

// Topic describes pipeline progress for one topic.
type Topic struct {
	ID            string  `json:"id"`
	ProjectID     string  `json:"projectId"`
	SourceID      string  `json:"sourceId,omitempty"`
	Title         string  `json:"title"`
	RichnessScore float64 `json:"richnessScore"`
	Stage         string  `json:"stage"`
	StageLabel    string  `json:"stageLabel"`
	PipelineError string  `json:"pipelineError,omitempty"`
	AdmittedAt    string  `json:"admittedAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
}

// Project describes a project's engine and publishing settings.
type Project struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Status                string   `json:"status"`
	PipelinePaused        bool     `json:"pipelinePaused"`
	EngineEnabled         bool     `json:"engineEnabled"`
	BufferTarget          int      `json:"bufferTarget"`
	MaxGenPerDay          int      `json:"maxGenPerDay"`
	MinRichness           float64  `json:"minRichness"`
	AutoPublish           bool     `json:"autoPublish"`
	MaxPublicationsPerDay int      `json:"maxPublicationsPerDay"`
	PublicationDays       []int    `json:"publicationDays"`
	PublicationTimes      []string `json:"publicationTimes"`
	PublicationTimezone   string   `json:"publicationTimezone"`
}

// Publication describes a publish-queue entry.
type Publication struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"projectId"`
	TopicID      string   `json:"topicId"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	VideoRef     string   `json:"videoRef"`
	VideoURL     string   `json:"videoUrl,omitempty"`
	ThumbnailRef string   `json:"thumbnailRef,omitempty"`
	Status       string   `json:"status"`
	ScheduledAt  string   `json:"scheduledAt,omitempty"`
	PublishedAt  string   `json:"publishedAt,omitempty"`
}

// HandlerHealth mirrors readiness reporting for job handlers.
type HandlerHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// WorkflowStatus summarizes worker execution state.
type WorkflowStatus struct {
	Running       bool            `json:"running"`
	WorkerID      string          `json:"workerId"`
	MaxConcurrent int             `json:"maxConcurrent"`
	InFlight      []Job           `json:"inFlight"`
	Completed     int64           `json:"completed"`
	Failed        int64           `json:"failed"`
	LastError     string          `json:"lastError,omitempty"`
	LastJob       *Job            `json:"lastJob,omitempty"`
	CoolingTypes  []string        `json:"coolingTypes,omitempty"`
	QueueStats    Stats           `json:"queueStats"`
	Handlers      []HandlerHealth `json:"handlers"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueDBPath  string         `json:"queueDbPath"`
	LockFilePath string         `json:"lockFilePath"`
	EngineLeader bool           `json:"engineLeader"`
	Workflow     WorkflowStatus `json:"workflow"`
}

// EngineDecision reports the outcome of a content engine admission attempt.
type EngineDecision struct {
	ProjectID     string `json:"projectId"`
	Triggered     bool   `json:"triggered"`
	Reason        string `json:"reason"`
	TopicID       string `json:"topicId,omitempty"`
	JobID         string `json:"jobId,omitempty"`
	Buffer        int    `json:"buffer"`
	BufferTarget  int    `json:"bufferTarget"`
	AdmittedToday int    `json:"admittedToday"`
}

// EnqueueRequest is the body of POST /api/jobs.
type EnqueueRequest struct {
	ProjectID   string         `json:"projectId"`
	TopicID     string         `json:"topicId,omitempty"`
	SourceID    string         `json:"sourceId,omitempty"`
	Type        string         `json:"type"`
	Payload     map[string]any `json:"payload,omitempty"`
	Priority    int            `json:"priority,omitempty"`
	DependsOn   string         `json:"dependsOn,omitempty"`
	MaxAttempts int            `json:"maxAttempts,omitempty"`
	RunAfter    string         `json:"runAfter,omitempty"`
}

// RestartRequest is the body of POST /api/topics/{id}/restart.
type RestartRequest struct {
	Stage string `json:"stage"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job Job `json:"job"`
}

// JobListResponse wraps a collection of jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// CancelResponse reports whether a cancel request changed the job.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// MessageResponse carries a short human-readable acknowledgement.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is returned for every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}
