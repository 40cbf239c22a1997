package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"storyloom/internal/queue"
	"storyloom/internal/services"
)

const maxStderrBytes = 4096

// CommandHandler runs an external program for each job. The job is written to
// stdin as JSON; the program prints a JSON object on stdout and exits zero on
// success. A non-zero exit fails the job with the program's stderr so the
// failure classifier can inspect it.
type CommandHandler struct {
	JobType queue.JobType
	Command string
	Args    []string
	Timeout time.Duration
	Env     []string
}

type commandRequest struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	TopicID     string         `json:"topic_id,omitempty"`
	SourceID    string         `json:"source_id,omitempty"`
	JobType     string         `json:"job_type"`
	Payload     map[string]any `json:"payload"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
}

// Execute runs the configured command for job.
func (h *CommandHandler) Execute(ctx context.Context, job *queue.Job) (map[string]any, error) {
	if job == nil {
		return nil, services.Wrap(services.ErrValidation, string(h.JobType), "run handler", "job is nil", nil)
	}
	input, err := json.Marshal(commandRequest{
		ID:          job.ID,
		ProjectID:   job.ProjectID,
		TopicID:     job.TopicID,
		SourceID:    job.SourceID,
		JobType:     string(job.Type),
		Payload:     job.Payload,
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, string(job.Type), "encode job", "payload is not serializable", err)
	}

	runCtx := ctx
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, h.Command, h.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Env = append(cmd.Env,
		"STORYLOOM_JOB_ID="+job.ID,
		"STORYLOOM_JOB_TYPE="+string(job.Type),
		"STORYLOOM_PROJECT_ID="+job.ProjectID,
		"STORYLOOM_TOPIC_ID="+job.TopicID,
	)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTransient, string(job.Type), "run handler",
				fmt.Sprintf("timed out after %s", h.Timeout), err)
		}
		detail := tail(strings.TrimSpace(stderr.String()), maxStderrBytes)
		if detail == "" {
			return nil, fmt.Errorf("%s handler: %w", job.Type, err)
		}
		return nil, fmt.Errorf("%s handler: %w: %s", job.Type, err, detail)
	}
	return decodeResult(string(job.Type), stdout.Bytes())
}

// HealthCheck reports whether the command resolves to an executable.
func (h *CommandHandler) HealthCheck(context.Context) Health {
	name := string(h.JobType)
	command := strings.TrimSpace(h.Command)
	if command == "" {
		return Unhealthy(name, "command not configured")
	}
	if _, err := exec.LookPath(command); err != nil {
		return Unhealthy(name, fmt.Sprintf("binary %q not found", command))
	}
	return Healthy(name)
}

func decodeResult(jobType string, raw []byte) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return map[string]any{}, nil
	}
	var result map[string]any
	if err := json.Unmarshal(trimmed, &result); err != nil {
		return nil, services.Wrap(services.ErrHandlerOutput, jobType, "decode result",
			"stdout must be a single JSON object", err)
	}
	if result == nil {
		result = map[string]any{}
	}
	return result, nil
}

// tail keeps at most limit trailing bytes of value, starting on a rune
// boundary.
func tail(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	start := len(value) - limit
	for start < len(value) && !utf8.RuneStart(value[start]) {
		start++
	}
	return value[start:]
}
