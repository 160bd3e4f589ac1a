// Package llm is the single chokepoint for all model calls. Every pipeline
// stage routes through Client so retry, backoff, and content-filter policy is
// defined exactly once.
package llm

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/policypulse/policy-pulse/internal/config"
)

const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one entry of an ordered chat-completion conversation.
type Message struct {
	Role    string
	Content string
}

// Request is a single chat-completion call. A zero MaxTokens falls back to
// the configured default; a zero Temperature uses the provider default.
type Request struct {
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// Result is the outcome of a completed call. Filtered marks the terminal
// non-error outcome where the provider declined to answer for policy reasons;
// callers skip the row without counting it as a failure.
type Result struct {
	Content  string
	Filtered bool
}

// Client performs one chat-completion call with bounded retry. Errors are
// row-local: a returned error means this call is abandoned, never that the
// batch should abort.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// New returns the Azure-backed client, or a mock when no API key is
// configured so local development works without credentials.
func New(cfg *config.Config, logger *zerolog.Logger) Client {
	if cfg.AzureOpenAIAPIKey == "" || cfg.AzureOpenAIAPIKey == "mock" {
		return &mockClient{}
	}

	return NewAzure(cfg, logger)
}

// StripFence removes a markdown code-fence wrapper from model output. Models
// frequently wrap JSON in ```json fences despite instructions not to.
func StripFence(content string) string {
	trimmed := strings.TrimSpace(content)

	switch {
	case strings.HasPrefix(trimmed, "```json"):
		trimmed = strings.Replace(trimmed, "```json", "", 1)
		trimmed = strings.Replace(trimmed, "```", "", 1)
	case strings.HasPrefix(trimmed, "```"):
		trimmed = strings.Replace(trimmed, "```", "", 1)
		trimmed = strings.Replace(trimmed, "```", "", 1)
	}

	return strings.TrimSpace(trimmed)
}

// IsNull reports whether content is the model's way of saying "nothing
// relevant here": empty, a bare null, or a fenced null.
func IsNull(content string) bool {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" || trimmed == "null" {
		return true
	}

	return StripFence(trimmed) == "null"
}

type mockClient struct{}

// Complete returns canned payloads shaped for whichever stage is calling,
// keyed off the user prompt. Good enough to exercise the pipeline end to end
// without credentials.
func (c *mockClient) Complete(_ context.Context, req Request) (Result, error) {
	user := ""
	if len(req.Messages) > 0 {
		user = req.Messages[len(req.Messages)-1].Content
	}

	switch {
	case strings.Contains(user, "summaries to analyze"):
		return Result{Content: `{"codes":[{"name":"Mock Theme","description":"A mock theme.","percentage":"100%"}]}`}, nil
	case strings.Contains(user, "categorize each of these quotes"):
		return Result{Content: `{"categorized_quotes":[{"quote":"mock quote","source_id":"mock","codes":[{"code_name":"Mock Theme"}]}]}`}, nil
	default:
		return Result{Content: `{"entries":[{"quote":"This is a mock quote.","summary":"A mock summary."}]}`}, nil
	}
}
