package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return formatTime(*t)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(timeLayout, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func encodeObject(value map[string]any) (string, error) {
	if value == nil {
		return "{}", nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeObject(raw sql.NullString) map[string]any {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw.String), &out); err != nil {
		return nil
	}
	return out
}

func encodeList[T any](values []T) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func decodeList[T any](raw string) []T {
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}

func stageArgs(stages []TopicStage) []any {
	args := make([]any, 0, len(stages))
	for _, stage := range stages {
		args = append(args, string(stage))
	}
	return args
}

const jobColumns = "id, project_id, topic_id, source_id, job_type, payload, result, status, priority, depends_on, attempt, max_attempts, run_after, error_message, error_stack, locked_by, locked_at, started_at, completed_at, created_at, updated_at"

func scanJob(scanner rowScanner) (*Job, error) {
	var (
		job          Job
		topicID      sql.NullString
		sourceID     sql.NullString
		jobType      string
		payload      sql.NullString
		result       sql.NullString
		status       string
		dependsOn    sql.NullString
		runAfter     string
		errorMessage sql.NullString
		errorStack   sql.NullString
		lockedBy     sql.NullString
		lockedAt     sql.NullString
		startedAt    sql.NullString
		completedAt  sql.NullString
		createdAt    string
		updatedAt    string
	)
	if err := scanner.Scan(
		&job.ID,
		&job.ProjectID,
		&topicID,
		&sourceID,
		&jobType,
		&payload,
		&result,
		&status,
		&job.Priority,
		&dependsOn,
		&job.Attempt,
		&job.MaxAttempts,
		&runAfter,
		&errorMessage,
		&errorStack,
		&lockedBy,
		&lockedAt,
		&startedAt,
		&completedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	job.TopicID = topicID.String
	job.SourceID = sourceID.String
	job.Type = JobType(jobType)
	job.Payload = decodeObject(payload)
	job.Result = decodeObject(result)
	job.Status = JobStatus(status)
	job.DependsOn = dependsOn.String
	job.ErrorMessage = errorMessage.String
	job.ErrorStack = errorStack.String
	job.LockedBy = lockedBy.String
	job.LockedAt = parseNullTime(lockedAt)
	job.StartedAt = parseNullTime(startedAt)
	job.CompletedAt = parseNullTime(completedAt)
	if t, err := parseTimeString(runAfter); err == nil {
		job.RunAfter = t
	}
	if t, err := parseTimeString(createdAt); err == nil {
		job.CreatedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		job.UpdatedAt = t
	}
	return &job, nil
}

const topicColumns = "id, project_id, source_id, title, richness_score, pipeline_stage, pipeline_error, admitted_at, created_at, updated_at"

func scanTopic(scanner rowScanner) (*Topic, error) {
	var (
		topic         Topic
		sourceID      sql.NullString
		stage         string
		pipelineError sql.NullString
		admittedAt    sql.NullString
		createdAt     string
		updatedAt     string
	)
	if err := scanner.Scan(
		&topic.ID,
		&topic.ProjectID,
		&sourceID,
		&topic.Title,
		&topic.RichnessScore,
		&stage,
		&pipelineError,
		&admittedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	topic.SourceID = sourceID.String
	topic.Stage = TopicStage(stage)
	topic.PipelineError = pipelineError.String
	topic.AdmittedAt = parseNullTime(admittedAt)
	if t, err := parseTimeString(createdAt); err == nil {
		topic.CreatedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		topic.UpdatedAt = t
	}
	return &topic, nil
}

const projectColumns = "id, name, status, pipeline_paused, engine_enabled, buffer_target, max_gen_per_day, min_richness, auto_publish, max_publications_per_day, publication_days, publication_times, publication_timezone, created_at, updated_at"

func scanProject(scanner rowScanner) (*Project, error) {
	var (
		project   Project
		status    string
		paused    int
		engine    int
		auto      int
		days      string
		times     string
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(
		&project.ID,
		&project.Name,
		&status,
		&paused,
		&engine,
		&project.BufferTarget,
		&project.MaxGenPerDay,
		&project.MinRichness,
		&auto,
		&project.MaxPublicationsPerDay,
		&days,
		&times,
		&project.PublicationTimezone,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	project.Status = ProjectStatus(status)
	project.PipelinePaused = paused != 0
	project.EngineEnabled = engine != 0
	project.AutoPublish = auto != 0
	project.PublicationDays = decodeList[int](days)
	project.PublicationTimes = decodeList[string](times)
	if t, err := parseTimeString(createdAt); err == nil {
		project.CreatedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		project.UpdatedAt = t
	}
	return &project, nil
}

const sourceColumns = "id, project_id, kind, uri, status, consumed, created_at, updated_at"

func scanSource(scanner rowScanner) (*Source, error) {
	var (
		source    Source
		status    string
		consumed  int
		createdAt string
		updatedAt string
	)
	if err := scanner.Scan(&source.ID, &source.ProjectID, &source.Kind, &source.URI, &status, &consumed, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	source.Status = SourceStatus(status)
	source.Consumed = consumed != 0
	if t, err := parseTimeString(createdAt); err == nil {
		source.CreatedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		source.UpdatedAt = t
	}
	return &source, nil
}

const publicationColumns = "id, project_id, topic_id, title, description, tags, video_ref, video_url, thumbnail_ref, status, scheduled_at, published_at, created_at, updated_at"

func scanPublication(scanner rowScanner) (*Publication, error) {
	var (
		pub         Publication
		tags        string
		status      string
		scheduledAt sql.NullString
		publishedAt sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(
		&pub.ID,
		&pub.ProjectID,
		&pub.TopicID,
		&pub.Title,
		&pub.Description,
		&tags,
		&pub.VideoRef,
		&pub.VideoURL,
		&pub.ThumbnailRef,
		&status,
		&scheduledAt,
		&publishedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	pub.Tags = decodeList[string](tags)
	pub.Status = PublicationStatus(status)
	pub.ScheduledAt = parseNullTime(scheduledAt)
	pub.PublishedAt = parseNullTime(publishedAt)
	if t, err := parseTimeString(createdAt); err == nil {
		pub.CreatedAt = t
	}
	if t, err := parseTimeString(updatedAt); err == nil {
		pub.UpdatedAt = t
	}
	return &pub, nil
}
