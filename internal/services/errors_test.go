package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"storyloom/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrFatalUpload, "assemble_video", "upload", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrFatalUpload) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"assemble_video", "upload", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err.Error())
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		class    services.FailureClass
		category services.FailureCategory
		cascades bool
	}{
		{"billing text", errors.New("OpenAI: Insufficient credit on account"), services.ClassFatal, services.CategoryBilling, true},
		{"quota text", errors.New("You exceeded your current quota"), services.ClassFatal, services.CategoryBilling, true},
		{"config text", errors.New("401: invalid API key provided"), services.ClassFatal, services.CategoryConfig, true},
		{"upload text", errors.New("AccessDenied: bucket policy"), services.ClassFatal, services.CategoryUpload, true},
		{"tts text", errors.New("voice not found: narrator"), services.ClassFatal, services.CategoryTTS, true},
		{"billing marker", services.Wrap(services.ErrFatalBilling, "generate_story", "call", "", nil), services.ClassFatal, services.CategoryBilling, true},
		{"missing handler", fmt.Errorf("lookup: %w", services.ErrNoHandler), services.ClassFatal, services.CategoryHandler, false},
		{"throttle text", errors.New("HTTP 429 Too Many Requests"), services.ClassThrottle, services.CategoryNone, false},
		{"throttle status code", errors.New("upload: status code 429"), services.ClassThrottle, services.CategoryNone, false},
		{"digits inside a number", errors.New("ffmpeg: corrupt frame 14290 in segment"), services.ClassTransient, services.CategoryNone, false},
		{"throttle marker", services.Wrap(services.ErrThrottle, "", "", "", nil), services.ClassThrottle, services.CategoryNone, false},
		{"overloaded", errors.New("model overloaded, try later"), services.ClassThrottle, services.CategoryNone, false},
		{"transient", errors.New("connection reset by peer"), services.ClassTransient, services.CategoryNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := services.Classify(tt.err)
			if got.Class != tt.class || got.Category != tt.category {
				t.Fatalf("Classify(%q) = %+v, want class=%s category=%s", tt.err, got, tt.class, tt.category)
			}
			if got.Cascades() != tt.cascades {
				t.Fatalf("Cascades() = %v, want %v", got.Cascades(), tt.cascades)
			}
		})
	}
}

func TestTopicMessageCategories(t *testing.T) {
	billing := services.TopicMessage(services.Failure{Class: services.ClassFatal, Category: services.CategoryBilling}, "generate_story", "insufficient credit")
	if !strings.HasPrefix(billing, "Billing error") {
		t.Fatalf("unexpected billing message: %q", billing)
	}
	if !strings.Contains(billing, "insufficient credit") {
		t.Fatalf("expected detail in message: %q", billing)
	}

	exhausted := services.TopicMessage(services.Failure{Class: services.ClassTransient}, "generate_script", "")
	if exhausted != "Failed at generate_script after all retries" {
		t.Fatalf("unexpected exhausted message: %q", exhausted)
	}

	long := services.TopicMessage(services.Failure{Class: services.ClassTransient}, "x", strings.Repeat("a", 500))
	if len([]rune(long)) > 400 {
		t.Fatalf("expected detail to be truncated, got %d runes", len([]rune(long)))
	}
}
