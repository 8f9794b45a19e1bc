package runtime

import (
	"context"
	"strings"

	"github.com/relaylabs/relay/pkg/models"
)

// CompletionRequest is a single streaming completion call to an LLM.
type CompletionRequest struct {
	// Model is the provider model name.
	Model string

	// System is the assembled system prompt.
	System string

	// Messages is the conversation so far. Tool results are rendered into
	// the provider's native shape by each provider.
	Messages []models.Message

	// MaxTokens caps the completion length. Zero selects the provider
	// default.
	MaxTokens int

	// Temperature controls sampling. Zero selects the provider default.
	Temperature float64
}

// Chunk is one piece of a streaming completion. Text chunks arrive in order;
// the final chunk carries token usage and the stop reason.
type Chunk struct {
	// Text is a fragment of completion text.
	Text string

	// Reasoning is a fragment of the model's thinking stream, when the
	// provider exposes one.
	Reasoning string

	// Err terminates the stream when set.
	Err error

	// Final marks the last chunk of a successful stream.
	Final bool

	// InputTokens and OutputTokens are set on the final chunk.
	InputTokens  int
	OutputTokens int

	// StopReason is set on the final chunk ("end_turn", "max_tokens", ...).
	StopReason string
}

// LLMProvider streams completions from one upstream model API.
type LLMProvider interface {
	// Name identifies the provider for logging and metrics.
	Name() string

	// StreamCompletion starts a completion and returns a channel of chunks.
	// The channel closes after the final or error chunk. Cancelling ctx
	// stops the stream.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)
}

// ProviderSet routes models to providers by name prefix.
type ProviderSet struct {
	providers map[string]LLMProvider
	fallback  string
}

// NewProviderSet builds a router. The fallback provider handles models whose
// prefix matches nothing.
func NewProviderSet(fallback string, providers ...LLMProvider) *ProviderSet {
	set := &ProviderSet{providers: map[string]LLMProvider{}, fallback: fallback}
	for _, p := range providers {
		set.providers[p.Name()] = p
	}
	return set
}

// ForModel returns the provider responsible for a model name.
func (s *ProviderSet) ForModel(model string) (LLMProvider, error) {
	name := s.fallback
	switch {
	case strings.HasPrefix(model, "claude"):
		name = "anthropic"
	case strings.HasPrefix(model, "gpt") || strings.HasPrefix(model, "o1") || strings.HasPrefix(model, "o3"):
		name = "openai"
	}
	if p, ok := s.providers[name]; ok {
		return p, nil
	}
	return nil, ErrNoProvider
}
