package artifacts_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"storyloom/internal/artifacts"
	"storyloom/internal/config"
	"storyloom/internal/services"
)

func TestPassthroughResolver(t *testing.T) {
	resolver, err := artifacts.NewResolver(config.Storage{})
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}
	artifact, err := resolver.Resolve(context.Background(), " videos/a.mp4 ")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if artifact.Key != "videos/a.mp4" || artifact.URL != "videos/a.mp4" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if _, err := resolver.Resolve(context.Background(), ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func fakeS3(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead && r.URL.Path == "/media/videos/ok.mp4" {
			w.Header().Set("Content-Length", "1024")
			w.Header().Set("Content-Type", "video/mp4")
			w.Header().Set("ETag", `"abc123"`)
			w.Header().Set("Last-Modified", "Mon, 02 Jan 2006 15:04:05 GMT")
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
}

func TestBucketResolve(t *testing.T) {
	server := fakeS3(t)
	defer server.Close()

	bucket, err := artifacts.NewBucket(config.Storage{
		Endpoint:  server.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "media",
		Region:    "us-east-1",
	})
	if err != nil {
		t.Fatalf("NewBucket failed: %v", err)
	}

	artifact, err := bucket.Resolve(context.Background(), "videos/ok.mp4")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if artifact.Size != 1024 || artifact.ContentType != "video/mp4" {
		t.Fatalf("unexpected stat info: %+v", artifact)
	}
	if !strings.Contains(artifact.URL, "/media/videos/ok.mp4") || !strings.Contains(artifact.URL, "X-Amz-Signature") {
		t.Fatalf("expected presigned url, got %s", artifact.URL)
	}

	if _, err := bucket.Resolve(context.Background(), "videos/missing.mp4"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing object, got %v", err)
	}
}
