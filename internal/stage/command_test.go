package stage_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"storyloom/internal/queue"
	"storyloom/internal/services"
	"storyloom/internal/stage"
	"storyloom/internal/testsupport"
)

func commandHandler(t *testing.T, body string) *stage.CommandHandler {
	t.Helper()
	path := testsupport.WriteScript(t, filepath.Join(t.TempDir(), "handler"), body)
	return &stage.CommandHandler{JobType: queue.JobGenerateStory, Command: path, Timeout: 10 * time.Second}
}

func storyJob() *queue.Job {
	return &queue.Job{
		ID:        "job-1",
		ProjectID: "project-1",
		TopicID:   "topic-1",
		Type:      queue.JobGenerateStory,
		Payload:   map[string]any{"tone": "wry"},
		Attempt:   1,
	}
}

func TestCommandHandlerPassesJobOnStdin(t *testing.T) {
	handler := commandHandler(t, `input=$(cat)
case "$input" in
  *'"job_type":"generate_story"'*'"tone":"wry"'*) echo '{"story_id":"s1"}' ;;
  *) echo "unexpected input: $input" >&2; exit 1 ;;
esac`)

	result, err := handler.Execute(context.Background(), storyJob())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result["story_id"] != "s1" {
		t.Fatalf("unexpected result: %v", result)
	}
}

func TestCommandHandlerExportsJobEnvironment(t *testing.T) {
	handler := commandHandler(t, `cat >/dev/null
printf '{"topic":"%s"}' "$STORYLOOM_TOPIC_ID"`)

	result, err := handler.Execute(context.Background(), storyJob())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result["topic"] != "topic-1" {
		t.Fatalf("expected topic id from environment, got %v", result)
	}
}

func TestCommandHandlerEmptyOutputIsEmptyResult(t *testing.T) {
	handler := commandHandler(t, `cat >/dev/null`)
	result, err := handler.Execute(context.Background(), storyJob())
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result == nil || len(result) != 0 {
		t.Fatalf("expected empty result, got %v", result)
	}
}

func TestCommandHandlerFailures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		timeout   time.Duration
		wantClass services.FailureClass
		wantCat   services.FailureCategory
		marker    error
	}{
		{
			name:      "stderr billing signature",
			body:      `cat >/dev/null; echo "provider says: insufficient credit" >&2; exit 2`,
			wantClass: services.ClassFatal,
			wantCat:   services.CategoryBilling,
		},
		{
			name:      "stderr throttle signature",
			body:      `cat >/dev/null; echo "429 Too Many Requests" >&2; exit 1`,
			wantClass: services.ClassThrottle,
		},
		{
			name:      "plain failure",
			body:      `cat >/dev/null; exit 3`,
			wantClass: services.ClassTransient,
		},
		{
			name:      "invalid output",
			body:      `cat >/dev/null; echo 'not json'`,
			wantClass: services.ClassTransient,
			marker:    services.ErrHandlerOutput,
		},
		{
			name:      "timeout",
			body:      `exec sleep 5`,
			timeout:   100 * time.Millisecond,
			wantClass: services.ClassTransient,
			marker:    services.ErrTransient,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := commandHandler(t, tt.body)
			if tt.timeout > 0 {
				handler.Timeout = tt.timeout
			}
			_, err := handler.Execute(context.Background(), storyJob())
			if err == nil {
				t.Fatal("expected error")
			}
			failure := services.Classify(err)
			if failure.Class != tt.wantClass || failure.Category != tt.wantCat {
				t.Fatalf("classification = %+v, want %s/%s (err: %v)", failure, tt.wantClass, tt.wantCat, err)
			}
			if tt.marker != nil && !errors.Is(err, tt.marker) {
				t.Fatalf("expected %v marker, got %v", tt.marker, err)
			}
		})
	}
}

func TestCommandHandlerTrimsStderrOnRuneBoundary(t *testing.T) {
	handler := commandHandler(t, `cat >/dev/null
i=0
while [ $i -lt 3000 ]; do printf 'é' >&2; i=$((i+1)); done
printf 'a' >&2
exit 1`)
	_, err := handler.Execute(context.Background(), storyJob())
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !utf8.ValidString(msg) {
		t.Fatalf("error message is not valid UTF-8: %q", msg[:64])
	}
	if !strings.HasSuffix(msg, "éa") {
		t.Fatalf("expected stderr tail in message, got suffix %q", msg[len(msg)-16:])
	}
	if strings.Count(msg, "é") >= 3000 {
		t.Fatal("expected stderr to be truncated")
	}
}

func TestCommandHandlerHonoursCancellation(t *testing.T) {
	handler := commandHandler(t, `exec sleep 5`)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := handler.Execute(ctx, storyJob())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
