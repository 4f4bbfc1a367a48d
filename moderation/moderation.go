/*
Logic:       Rules-based content safety check: disallowed-keyword scan
             plus PII regexes, no external classifier call on the
             request path. Grounded on original_source's
             moderation_service.py (ModerationService.moderate_input/
             moderate_output) — same keyword list and PII pattern set,
             collapsed into the single ModerationFunc shape the runner
             and voiceover sub-runner already call.
*/

// Package moderation implements the content safety check the job
// runner invokes in the background on generated output after it is
// persisted (and the voiceover sub-runner invokes on raw narration
// input).
package moderation

import (
	"context"
	"regexp"
	"strings"
)

var defaultDisallowedKeywords = []string{
	"kill", "murder", "violence", "weapon", "gun", "bomb",
	"hate", "discrimination", "racism", "sexism",
	"drug", "illegal", "fraud", "scam",
	"explicit", "porn", "adult",
}

var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),
}

// Checker runs rules-based moderation over generated text.
type Checker struct {
	keywords []string
	enabled  bool
}

// New builds a Checker. When enabled is false, Check always passes —
// the content moderation feature flag (ENABLE_CONTENT_MODERATION) is
// a hard off switch, not a softened threshold.
func New(enabled bool, extraKeywords []string) *Checker {
	keywords := make([]string, len(defaultDisallowedKeywords))
	copy(keywords, defaultDisallowedKeywords)
	for _, kw := range extraKeywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return &Checker{keywords: keywords, enabled: enabled}
}

// Reason codes reported in Result.Reason by Check. AsFunc does not pass
// them on, so the runners' events do not carry them.
const (
	ReasonDisallowedContent = "disallowed_content"
	ReasonPIIDetected       = "pii_detected"
)

// Result is the outcome of one moderation check.
type Result struct {
	Passed bool
	Reason string
	Detail string
}

// Check inspects text for disallowed keywords and PII patterns.
func (c *Checker) Check(_ context.Context, text string) Result {
	if !c.enabled || strings.TrimSpace(text) == "" {
		return Result{Passed: true}
	}

	lower := strings.ToLower(text)
	for _, kw := range c.keywords {
		if strings.Contains(lower, kw) {
			return Result{Passed: false, Reason: ReasonDisallowedContent, Detail: kw}
		}
	}

	for _, pattern := range piiPatterns {
		if pattern.MatchString(text) {
			return Result{Passed: false, Reason: ReasonPIIDetected, Detail: pattern.String()}
		}
	}

	return Result{Passed: true}
}

// AsFunc adapts Checker to the runner package's ModerationFunc shape:
// func(ctx, text) (passed bool, err error). The reason code is
// dropped here; only a direct call to Checker.Check returns it.
func (c *Checker) AsFunc() func(ctx context.Context, text string) (bool, error) {
	return func(ctx context.Context, text string) (bool, error) {
		return c.Check(ctx, text).Passed, nil
	}
}
