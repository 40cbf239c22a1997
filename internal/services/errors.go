package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrNoHandler     = errors.New("no handler registered")
	ErrFatalBilling  = errors.New("billing failure")
	ErrFatalConfig   = errors.New("configuration failure")
	ErrFatalUpload   = errors.New("upload failure")
	ErrFatalTTS      = errors.New("text-to-speech failure")
	ErrThrottle      = errors.New("rate limited")
	ErrTransient     = errors.New("transient failure")
	ErrHandlerPanic  = errors.New("handler panic")
	ErrHandlerOutput = errors.New("invalid handler output")
)

// Wrap builds an error message that includes job context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, jobType, operation, message string, err error) error {
	detail := buildDetail(jobType, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(jobType, operation, message string) string {
	parts := make([]string, 0, 3)
	if jobType = strings.TrimSpace(jobType); jobType != "" {
		parts = append(parts, jobType)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
