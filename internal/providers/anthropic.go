// Package providers implements runtime.LLMProvider adapters for upstream
// model APIs. Each adapter converts the shared completion request into the
// provider's wire format, streams the response, and reports token usage on
// the final chunk. Retry policy lives in the runtime; adapters surface
// errors and let the caller decide.
package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaylabs/relay/internal/runtime"
)

// maxEmptyStreamEvents bounds consecutive events that carry no usable
// payload. A healthy stream interleaves deltas; hundreds of empty events in
// a row means the connection is wedged.
const maxEmptyStreamEvents = 300

// defaultAnthropicMaxTokens applies when the request does not cap output.
const defaultAnthropicMaxTokens = 8192

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and tests.
	BaseURL string
}

// AnthropicProvider streams completions from Anthropic's Messages API.
// Safe for concurrent use; each StreamCompletion call owns its stream.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider builds an adapter from config.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// StreamCompletion starts a streaming Messages call. Text deltas map to
// Chunk.Text, thinking deltas to Chunk.Reasoning. Input tokens arrive on
// message_start and output tokens on message_delta, so both are held until
// the final chunk.
func (p *AnthropicProvider) StreamCompletion(ctx context.Context, req runtime.CompletionRequest) (<-chan runtime.Chunk, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  convertAnthropicMessages(runtime.FlattenMessages(req.Messages)),
		MaxTokens: int64(maxTokensOr(req.MaxTokens, defaultAnthropicMaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)

	chunks := make(chan runtime.Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var (
			inputTokens  int
			outputTokens int
			stopReason   string
			emptyEvents  int
		)

		for stream.Next() {
			event := stream.Current()
			handled := true

			switch event.Type {
			case "message_start":
				start := event.AsMessageStart()
				if start.Message.Usage.InputTokens > 0 {
					inputTokens = int(start.Message.Usage.InputTokens)
				}

			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if !send(ctx, chunks, runtime.Chunk{Text: delta.Text}) {
						return
					}
				case "thinking_delta":
					if !send(ctx, chunks, runtime.Chunk{Reasoning: delta.Thinking}) {
						return
					}
				default:
					handled = false
				}

			case "message_delta":
				md := event.AsMessageDelta()
				if md.Usage.OutputTokens > 0 {
					outputTokens = int(md.Usage.OutputTokens)
				}
				if md.Delta.StopReason != "" {
					stopReason = string(md.Delta.StopReason)
				}

			case "message_stop":
				send(ctx, chunks, runtime.Chunk{
					Final:        true,
					InputTokens:  inputTokens,
					OutputTokens: outputTokens,
					StopReason:   stopReason,
				})
				return

			case "error":
				send(ctx, chunks, runtime.Chunk{Err: errors.New("anthropic: stream error event")})
				return

			case "content_block_start", "content_block_stop", "ping":
				// No payload we consume, but the stream is alive.

			default:
				handled = false
			}

			if handled {
				emptyEvents = 0
			} else {
				emptyEvents++
				if emptyEvents >= maxEmptyStreamEvents {
					send(ctx, chunks, runtime.Chunk{
						Err: fmt.Errorf("anthropic: %d consecutive unrecognized stream events", emptyEvents),
					})
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, chunks, runtime.Chunk{Err: fmt.Errorf("anthropic: stream: %w", err)})
			return
		}

		// Stream closed without message_stop. Report what usage we saw so
		// the step can still be billed.
		send(ctx, chunks, runtime.Chunk{
			Final:        true,
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			StopReason:   stopReason,
		})
	}()

	return chunks, nil
}

// convertAnthropicMessages renders history into Messages API turns. Tool
// results ride as user text and system entries are dropped because the
// system prompt travels in params.System.
func convertAnthropicMessages(messages []runtime.FlatMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Text)))
		case "user":
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Text)))
		}
	}
	return out
}

func maxTokensOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// send delivers a chunk unless the consumer is gone.
func send(ctx context.Context, ch chan<- runtime.Chunk, c runtime.Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
