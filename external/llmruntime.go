/*
Logic:       Contract for the agent/LLM runtime that turns a topic
             into format-specific content. Modeled on provider.Provider's
             Name/HealthCheck/method-set shape; the default
             implementation wraps anthropics/anthropic-sdk-go directly
             instead of routing through a multi-provider registry,
             since this core has exactly one LLM collaborator.
*/

// Package external holds the contract-only collaborators this core
// depends on but does not own: LLM/agent runtime, TTS, video
// rendering, blob storage, email, billing, and auth. Each interface
// ships one default implementation good enough to run end-to-end in
// tests and a minimal deployment.
package external

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// GenerationRequest is one format's generation input.
type GenerationRequest struct {
	Topic   string
	Format  string
	Model   string
	Context map[string]string
}

// GenerationResult is the raw model output for one format, before
// format-specific extraction/validation.
type GenerationResult struct {
	Text       string
	ModelUsed  string
	TokensUsed int
}

// ErrorClass is the taxonomy the runner maps provider errors into
// (spec §4.E.6): timeout, rate_limit, configuration_error, or generic.
type ErrorClass string

const (
	ErrTimeout            ErrorClass = "timeout"
	ErrRateLimit          ErrorClass = "rate_limit"
	ErrConfigurationError ErrorClass = "configuration_error"
	ErrGeneric            ErrorClass = "generic"
)

// LLMRuntime is the agent execution contract.
type LLMRuntime interface {
	Name() string
	HealthCheck(ctx context.Context) error
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
	ClassifyError(err error) ErrorClass
}

// AnthropicRuntime is the default LLMRuntime, backed by the official
// Anthropic SDK client.
type AnthropicRuntime struct {
	client anthropic.Client
}

func NewAnthropicRuntime(apiKey string) *AnthropicRuntime {
	return &AnthropicRuntime{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (r *AnthropicRuntime) Name() string { return "anthropic" }

func (r *AnthropicRuntime) HealthCheck(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (r *AnthropicRuntime) Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error) {
	msg, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(promptFor(req))),
		},
	})
	if err != nil {
		return nil, err
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &GenerationResult{
		Text:       text,
		ModelUsed:  req.Model,
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func promptFor(req GenerationRequest) string {
	return "Write " + req.Format + " content about: " + req.Topic
}

// ClassifyError inspects the provider error's message the way the
// teacher's provider.HealthStatus.Error inspection does, since the SDK
// surfaces transport and API errors as plain strings/status codes.
func (r *AnthropicRuntime) ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrGeneric
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return ErrRateLimit
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") || strings.Contains(msg, "authentication"):
		return ErrConfigurationError
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return ErrTimeout
	default:
		return ErrGeneric
	}
}

var _ LLMRuntime = (*AnthropicRuntime)(nil)
