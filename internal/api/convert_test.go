package api

import (
	"strings"
	"testing"
	"time"

	"storyloom/internal/engine"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/workflow"
)

func TestFromJobFormatsTimestamps(t *testing.T) {
	started := time.Date(2026, time.March, 2, 9, 30, 0, 0, time.FixedZone("EST", -5*3600))
	job := &queue.Job{
		ID:        "j1",
		ProjectID: "p1",
		Type:      queue.JobGenerateStory,
		Status:    queue.JobProcessing,
		Attempt:   1,
		StartedAt: &started,
		Payload:   map[string]any{"story_id": "s1"},
	}

	dto := FromJob(job)
	if dto.Type != "generate_story" || dto.Status != "processing" {
		t.Fatalf("unexpected enums: %+v", dto)
	}
	if dto.StartedAt != "2026-03-02T14:30:00.000Z" {
		t.Fatalf("expected UTC timestamp, got %q", dto.StartedAt)
	}
	if dto.CompletedAt != "" || dto.CreatedAt != "" {
		t.Fatalf("expected zero times to be omitted, got %+v", dto)
	}
	if dto.Payload["story_id"] != "s1" {
		t.Fatalf("expected payload passthrough, got %v", dto.Payload)
	}
	if got := FromJobs([]*queue.Job{nil, job}); len(got) != 1 {
		t.Fatalf("expected nil jobs to be skipped, got %d", len(got))
	}
}

func TestFromStatsFillsEveryStatus(t *testing.T) {
	stats := queue.Stats{
		Total:    2,
		ByStatus: map[queue.JobStatus]int{queue.JobPending: 2},
		ByType: map[queue.JobType]map[queue.JobStatus]int{
			queue.JobGenerateScript: {queue.JobPending: 2},
		},
	}
	dto := FromStats(stats)
	if len(dto.ByStatus) != len(queue.AllJobStatuses) {
		t.Fatalf("expected %d statuses, got %d", len(queue.AllJobStatuses), len(dto.ByStatus))
	}
	if dto.ByStatus["pending"] != 2 || dto.ByStatus["failed"] != 0 {
		t.Fatalf("unexpected counts %v", dto.ByStatus)
	}
	if dto.ByType["generate_script"]["pending"] != 2 {
		t.Fatalf("unexpected type counts %v", dto.ByType)
	}
}

func TestEnqueueRequestParams(t *testing.T) {
	tests := []struct {
		name    string
		req     EnqueueRequest
		wantErr string
		check   func(t *testing.T, params queue.EnqueueParams)
	}{
		{
			name: "valid",
			req: EnqueueRequest{
				ProjectID: " p1 ",
				Type:      "Generate_Story",
				RunAfter:  "2026-03-02T09:00:00Z",
			},
			check: func(t *testing.T, params queue.EnqueueParams) {
				if params.Type != queue.JobGenerateStory || params.ProjectID != "p1" {
					t.Fatalf("unexpected params %+v", params)
				}
				if !params.RunAfter.Equal(time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)) {
					t.Fatalf("unexpected run_after %v", params.RunAfter)
				}
			},
		},
		{name: "unknown type", req: EnqueueRequest{ProjectID: "p1", Type: "render"}, wantErr: "unknown job type"},
		{name: "missing project", req: EnqueueRequest{Type: "generate_story"}, wantErr: "projectId is required"},
		{name: "bad time", req: EnqueueRequest{ProjectID: "p1", Type: "generate_story", RunAfter: "tomorrow"}, wantErr: "RFC3339"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, err := tt.req.Params()
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Params failed: %v", err)
			}
			tt.check(t, params)
		})
	}
}

func TestFromStatusSummary(t *testing.T) {
	last := &queue.Job{ID: "last", Type: queue.JobAssembleVideo}
	summary := workflow.StatusSummary{
		Running:       true,
		WorkerID:      "host-abc",
		MaxConcurrent: 2,
		InFlight:      []queue.Job{{ID: "a", Type: queue.JobGenerateNarration}},
		LastJob:       last,
		CoolingTypes:  []queue.JobType{queue.JobGenerateNarration},
		HandlerHealth: []stage.Health{stage.Healthy("generate_story"), stage.Unhealthy("assemble_video", "binary missing")},
	}
	status := FromStatusSummary(summary)
	if !status.Running || status.WorkerID != "host-abc" || len(status.InFlight) != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.LastJob == nil || status.LastJob.ID != "last" {
		t.Fatalf("expected last job, got %+v", status.LastJob)
	}
	if len(status.CoolingTypes) != 1 || status.CoolingTypes[0] != "generate_narration" {
		t.Fatalf("unexpected cooling types %v", status.CoolingTypes)
	}
	if len(status.Handlers) != 2 || status.Handlers[1].Ready {
		t.Fatalf("unexpected handlers %+v", status.Handlers)
	}
}

func TestFromDecision(t *testing.T) {
	dto := FromDecision(engine.Decision{ProjectID: "p1", Reason: engine.ReasonBufferFull, Buffer: 7, Target: 7})
	if dto.Triggered || dto.Reason != "buffer_full" || dto.Buffer != 7 || dto.BufferTarget != 7 {
		t.Fatalf("unexpected decision %+v", dto)
	}
}
