package services

import (
	"errors"
	"regexp"
	"strings"
)

// FailureClass decides whether a failed job is retried.
type FailureClass string

const (
	ClassFatal     FailureClass = "fatal"
	ClassThrottle  FailureClass = "throttle"
	ClassTransient FailureClass = "transient"
)

// FailureCategory narrows a fatal failure for the topic-facing message.
type FailureCategory string

const (
	CategoryNone    FailureCategory = ""
	CategoryBilling FailureCategory = "billing"
	CategoryConfig  FailureCategory = "config"
	CategoryUpload  FailureCategory = "upload"
	CategoryTTS     FailureCategory = "tts"
	CategoryHandler FailureCategory = "handler"
)

// Failure is the classification of a handler error.
type Failure struct {
	Class    FailureClass
	Category FailureCategory
}

// Fatal reports whether the failure must never be retried.
func (f Failure) Fatal() bool {
	return f.Class == ClassFatal
}

// Cascades reports whether sibling work for the topic must be cancelled.
// Missing handlers are fatal for the job but leave siblings alone.
func (f Failure) Cascades() bool {
	return f.Class == ClassFatal && f.Category != CategoryHandler
}

type signature struct {
	category  FailureCategory
	fragments []string
}

var fatalSignatures = []signature{
	{CategoryBilling, []string{
		"insufficient credit",
		"insufficient_quota",
		"insufficient funds",
		"payment required",
		"credit balance",
		"exceeded your current quota",
		"billing",
	}},
	{CategoryConfig, []string{
		"invalid api key",
		"invalid_api_key",
		"incorrect api key",
		"api key not valid",
		"unauthorized",
		"authentication failed",
		"permission denied for model",
	}},
	{CategoryUpload, []string{
		"access denied",
		"accessdenied",
		"storage permission",
		"bucket does not exist",
		"nosuchbucket",
	}},
	{CategoryTTS, []string{
		"voice not found",
		"voice_not_found",
		"quota_exceeded",
		"character limit",
	}},
}

var throttleSignatures = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"resource_exhausted",
	"overloaded",
}

// throttleStatus matches a bare HTTP 429, not digits inside a larger number.
var throttleStatus = regexp.MustCompile(`\b429\b`)

// Classify maps an error onto the failure taxonomy. Explicit markers win over
// text signatures; anything unrecognized is transient.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Class: ClassTransient}
	}
	switch {
	case errors.Is(err, ErrNoHandler):
		return Failure{Class: ClassFatal, Category: CategoryHandler}
	case errors.Is(err, ErrFatalBilling):
		return Failure{Class: ClassFatal, Category: CategoryBilling}
	case errors.Is(err, ErrFatalConfig):
		return Failure{Class: ClassFatal, Category: CategoryConfig}
	case errors.Is(err, ErrFatalUpload):
		return Failure{Class: ClassFatal, Category: CategoryUpload}
	case errors.Is(err, ErrFatalTTS):
		return Failure{Class: ClassFatal, Category: CategoryTTS}
	case errors.Is(err, ErrThrottle):
		return Failure{Class: ClassThrottle}
	}

	text := strings.ToLower(err.Error())
	for _, sig := range fatalSignatures {
		for _, fragment := range sig.fragments {
			if strings.Contains(text, fragment) {
				return Failure{Class: ClassFatal, Category: sig.category}
			}
		}
	}
	for _, fragment := range throttleSignatures {
		if strings.Contains(text, fragment) {
			return Failure{Class: ClassThrottle}
		}
	}
	if throttleStatus.MatchString(text) {
		return Failure{Class: ClassThrottle}
	}
	return Failure{Class: ClassTransient}
}

// TopicMessage renders the human-readable pipeline error stored on a topic.
func TopicMessage(f Failure, jobType, detail string) string {
	detail = strings.TrimSpace(detail)
	var prefix string
	switch f.Category {
	case CategoryBilling:
		prefix = "Billing error: the provider account is out of credit or quota"
	case CategoryConfig:
		prefix = "Configuration error: check provider API keys"
	case CategoryUpload:
		prefix = "Upload error: storage rejected the write"
	case CategoryTTS:
		prefix = "Narration error: text-to-speech provider rejected the request"
	case CategoryHandler:
		prefix = "Configuration error: no handler for " + jobType
	default:
		prefix = "Failed at " + jobType + " after all retries"
	}
	if detail == "" {
		return prefix
	}
	return prefix + " (" + truncate(detail, 300) + ")"
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit]) + "…"
}
