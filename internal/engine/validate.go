package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation failure reasons. Match them with errors.Is.
var (
	ErrEmptyContent   = errors.New("message is empty")
	ErrContentTooLong = errors.New("message is too long")
	ErrUnsafeContent  = errors.New("message contains disallowed markup")
)

// ErrDestroyed is returned by operations on an engine after Destroy.
var ErrDestroyed = errors.New("engine: destroyed")

// ValidationError is returned by Send when content is rejected before any
// network call. No state is mutated.
type ValidationError struct {
	Reason error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "engine: " + e.Reason.Error()
	}
	return fmt.Sprintf("engine: %s: %s", e.Reason, e.Detail)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// unsafePatterns is a small denylist of script and markup injection vectors.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)<\s*/\s*script`),
	regexp.MustCompile(`(?i)<\s*iframe`),
	regexp.MustCompile(`(?i)<\s*(object|embed)\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)<[^>]*\bon[a-z]+\s*=`),
}

// validateContent checks content against the empty, length and denylist
// rules, in that order.
func validateContent(content string, maxLen int) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: ErrEmptyContent}
	}
	if n := utf8.RuneCountInString(content); n > maxLen {
		return &ValidationError{Reason: ErrContentTooLong, Detail: fmt.Sprintf("%d > %d characters", n, maxLen)}
	}
	for _, re := range unsafePatterns {
		if re.MatchString(content) {
			return &ValidationError{Reason: ErrUnsafeContent}
		}
	}
	return nil
}
