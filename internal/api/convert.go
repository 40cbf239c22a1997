package api

import (
	"fmt"
	"strings"
	"time"

	"storyloom/internal/engine"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/workflow"
)

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

// FromJob converts a queue job to its API representation.
func FromJob(job *queue.Job) Job {
	if job == nil {
		return Job{}
	}
	return Job{
		ID:           job.ID,
		ProjectID:    job.ProjectID,
		TopicID:      job.TopicID,
		SourceID:     job.SourceID,
		Type:         string(job.Type),
		Status:       string(job.Status),
		Priority:     job.Priority,
		DependsOn:    job.DependsOn,
		Attempt:      job.Attempt,
		MaxAttempts:  job.MaxAttempts,
		RunAfter:     formatTime(job.RunAfter),
		ErrorMessage: job.ErrorMessage,
		LockedBy:     job.LockedBy,
		LockedAt:     formatTimePtr(job.LockedAt),
		StartedAt:    formatTimePtr(job.StartedAt),
		CompletedAt:  formatTimePtr(job.CompletedAt),
		CreatedAt:    formatTime(job.CreatedAt),
		UpdatedAt:    formatTime(job.UpdatedAt),
		Payload:      job.Payload,
		Result:       job.Result,
	}
}

// FromJobs converts a slice of jobs, preserving order.
func FromJobs(jobs []*queue.Job) []Job {
	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		out = append(out, FromJob(job))
	}
	return out
}

// FromStats converts aggregate counts. Every known status is present in
// ByStatus, zero or not, so consumers can render fixed columns.
func FromStats(stats queue.Stats) Stats {
	out := Stats{
		Total:    stats.Total,
		ByStatus: make(map[string]int, len(queue.AllJobStatuses)),
		ByType:   make(map[string]map[string]int, len(stats.ByType)),
	}
	for _, status := range queue.AllJobStatuses {
		out.ByStatus[string(status)] = stats.ByStatus[status]
	}
	for jobType, counts := range stats.ByType {
		inner := make(map[string]int, len(counts))
		for status, count := range counts {
			inner[string(status)] = count
		}
		out.ByType[string(jobType)] = inner
	}
	return out
}

// FromTopic converts a topic.
func FromTopic(topic *queue.Topic) Topic {
	if topic == nil {
		return Topic{}
	}
	return Topic{
		ID:            topic.ID,
		ProjectID:     topic.ProjectID,
		SourceID:      topic.SourceID,
		Title:         topic.Title,
		RichnessScore: topic.RichnessScore,
		Stage:         string(topic.Stage),
		StageLabel:    topic.Stage.Label(),
		PipelineError: topic.PipelineError,
		AdmittedAt:    formatTimePtr(topic.AdmittedAt),
		UpdatedAt:     formatTime(topic.UpdatedAt),
	}
}

// FromProject converts a project.
func FromProject(project *queue.Project) Project {
	if project == nil {
		return Project{}
	}
	return Project{
		ID:                    project.ID,
		Name:                  project.Name,
		Status:                string(project.Status),
		PipelinePaused:        project.PipelinePaused,
		EngineEnabled:         project.EngineEnabled,
		BufferTarget:          project.BufferTarget,
		MaxGenPerDay:          project.MaxGenPerDay,
		MinRichness:           project.MinRichness,
		AutoPublish:           project.AutoPublish,
		MaxPublicationsPerDay: project.MaxPublicationsPerDay,
		PublicationDays:       append([]int(nil), project.PublicationDays...),
		PublicationTimes:      append([]string(nil), project.PublicationTimes...),
		PublicationTimezone:   project.PublicationTimezone,
	}
}

// FromPublication converts a publish-queue entry.
func FromPublication(pub *queue.Publication) Publication {
	if pub == nil {
		return Publication{}
	}
	return Publication{
		ID:           pub.ID,
		ProjectID:    pub.ProjectID,
		TopicID:      pub.TopicID,
		Title:        pub.Title,
		Description:  pub.Description,
		Tags:         append([]string(nil), pub.Tags...),
		VideoRef:     pub.VideoRef,
		VideoURL:     pub.VideoURL,
		ThumbnailRef: pub.ThumbnailRef,
		Status:       string(pub.Status),
		ScheduledAt:  formatTimePtr(pub.ScheduledAt),
		PublishedAt:  formatTimePtr(pub.PublishedAt),
	}
}

// FromHandlerHealth converts handler readiness records.
func FromHandlerHealth(health []stage.Health) []HandlerHealth {
	out := make([]HandlerHealth, 0, len(health))
	for _, h := range health {
		out = append(out, HandlerHealth{Name: h.Name, Ready: h.Ready, Detail: h.Detail})
	}
	return out
}

// FromStatusSummary converts the worker status.
func FromStatusSummary(summary workflow.StatusSummary) WorkflowStatus {
	status := WorkflowStatus{
		Running:       summary.Running,
		WorkerID:      summary.WorkerID,
		MaxConcurrent: summary.MaxConcurrent,
		InFlight:      make([]Job, 0, len(summary.InFlight)),
		Completed:     summary.Completed,
		Failed:        summary.Failed,
		LastError:     summary.LastError,
		QueueStats:    FromStats(summary.QueueStats),
		Handlers:      FromHandlerHealth(summary.HandlerHealth),
	}
	for i := range summary.InFlight {
		status.InFlight = append(status.InFlight, FromJob(&summary.InFlight[i]))
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		status.LastJob = &last
	}
	for _, jobType := range summary.CoolingTypes {
		status.CoolingTypes = append(status.CoolingTypes, string(jobType))
	}
	return status
}

// FromDecision converts an engine admission decision.
func FromDecision(decision engine.Decision) EngineDecision {
	return EngineDecision{
		ProjectID:     decision.ProjectID,
		Triggered:     decision.Triggered,
		Reason:        string(decision.Reason),
		TopicID:       decision.TopicID,
		JobID:         decision.JobID,
		Buffer:        decision.Buffer,
		BufferTarget:  decision.Target,
		AdmittedToday: decision.Admitted,
	}
}

// Params validates the request and converts it to enqueue parameters.
func (r EnqueueRequest) Params() (queue.EnqueueParams, error) {
	jobType, ok := queue.ParseJobType(r.Type)
	if !ok {
		return queue.EnqueueParams{}, fmt.Errorf("unknown job type %q", r.Type)
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return queue.EnqueueParams{}, fmt.Errorf("projectId is required")
	}
	params := queue.EnqueueParams{
		ProjectID:   strings.TrimSpace(r.ProjectID),
		TopicID:     strings.TrimSpace(r.TopicID),
		SourceID:    strings.TrimSpace(r.SourceID),
		Type:        jobType,
		Payload:     r.Payload,
		Priority:    r.Priority,
		DependsOn:   strings.TrimSpace(r.DependsOn),
		MaxAttempts: r.MaxAttempts,
	}
	if value := strings.TrimSpace(r.RunAfter); value != "" {
		runAfter, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return queue.EnqueueParams{}, fmt.Errorf("runAfter must be RFC3339: %w", err)
		}
		params.RunAfter = runAfter
	}
	return params, nil
}
