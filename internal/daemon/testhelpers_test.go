package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/engine"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/queue"
	"storyloom/internal/stage"
	"storyloom/internal/testsupport"
	"storyloom/internal/workflow"
)

type fixture struct {
	t      *testing.T
	cfg    *config.Config
	store  *queue.Store
	daemon *Daemon
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	return newFixtureWithConfig(t, cfg, testsupport.MustOpenStore(t, cfg))
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config, store *queue.Store) *fixture {
	t.Helper()
	logger := logging.NewNop()
	orch := pipeline.New(store, logger)
	mgr := workflow.NewManager(cfg, store, stage.NewRegistry(), orch, logger)
	eng := engine.New(cfg, store, orch, logger)
	d, err := New(cfg, store, logger, mgr, orch, eng)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return &fixture{t: t, cfg: cfg, store: store, daemon: d}
}

// do sends a request straight to the router and decodes the JSON reply into
// out when it is non-nil.
func (f *fixture) do(method, path string, body any, out any) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader).WithContext(context.Background())
	if f.cfg.API.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.API.Token)
	}
	rec := httptest.NewRecorder()
	f.daemon.api.router.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			f.t.Fatalf("decode %s %s response: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec
}

func (f *fixture) expectStatus(rec *httptest.ResponseRecorder, want int) {
	f.t.Helper()
	if rec.Code != want {
		f.t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
