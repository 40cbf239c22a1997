package stage_test

import (
	"context"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/testsupport"
)

func noop(context.Context, *queue.Job) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	registry := stage.NewRegistry()
	if err := registry.Register(queue.JobGenerateScript, stage.HandlerFunc(noop)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(queue.JobExtractSource, stage.HandlerFunc(noop)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, ok := registry.Lookup(queue.JobGenerateScript); !ok {
		t.Fatal("expected generate_script handler")
	}
	if _, ok := registry.Lookup(queue.JobPublishVideo); ok {
		t.Fatal("did not expect publish_video handler")
	}

	types := registry.Types()
	if len(types) != 2 || types[0] != queue.JobExtractSource || types[1] != queue.JobGenerateScript {
		t.Fatalf("expected pipeline order, got %v", types)
	}
	if missing := registry.Missing(); len(missing) != len(queue.AllJobTypes)-2 {
		t.Fatalf("unexpected missing list: %v", missing)
	}
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	tests := []struct {
		name    string
		jobType queue.JobType
		handler stage.Handler
	}{
		{"unknown type", "render_hologram", stage.HandlerFunc(noop)},
		{"nil handler", queue.JobGenerateStory, nil},
		{"duplicate", queue.JobGenerateNarration, stage.HandlerFunc(noop)},
	}
	registry := stage.NewRegistry()
	if err := registry.Register(queue.JobGenerateNarration, stage.HandlerFunc(noop)); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := registry.Register(tt.jobType, tt.handler); err == nil {
				t.Fatal("expected registration error")
			}
		})
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t,
		testsupport.WithHandlerScript("generate_story", `echo '{}'`),
		testsupport.WithHandlerScript("assemble_video", `echo '{}'`),
	)
	registry, err := stage.NewRegistryFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewRegistryFromConfig failed: %v", err)
	}
	if got := registry.Types(); len(got) != 2 {
		t.Fatalf("expected two handlers, got %v", got)
	}
	for _, health := range registry.Health(context.Background()) {
		if !health.Ready {
			t.Fatalf("expected ready handler, got %+v", health)
		}
	}

	cfg.Handlers["render_hologram"] = config.Handler{Command: "/bin/true"}
	if _, err := stage.NewRegistryFromConfig(cfg); err == nil {
		t.Fatal("expected error for unknown job type key")
	}
}

func TestRegistryHealthReportsMissingBinary(t *testing.T) {
	registry := stage.NewRegistry()
	registry.Register(queue.JobGenerateThumbnails, &stage.CommandHandler{
		JobType: queue.JobGenerateThumbnails,
		Command: "clearly-not-present-binary",
	})
	health := registry.Health(context.Background())
	if len(health) != 1 || health[0].Ready {
		t.Fatalf("expected unhealthy handler, got %+v", health)
	}
}
