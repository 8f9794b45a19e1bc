package providers

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaylabs/relay/internal/runtime"
)

// OpenAIConfig configures the OpenAI-compatible adapter. BaseURL makes it
// serve any chat-completions-compatible endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

// OpenAIProvider streams completions from the chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(clientConfig)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) StreamCompletion(ctx context.Context, req runtime.CompletionRequest) (<-chan runtime.Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertOpenAIMessages(req.System, runtime.FlattenMessages(req.Messages)),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		chatReq.Temperature = float32(req.Temperature)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai: create stream: %w", err)
	}

	chunks := make(chan runtime.Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var (
			inputTokens  int
			outputTokens int
			stopReason   string
		)

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(ctx, chunks, runtime.Chunk{
						Final:        true,
						InputTokens:  inputTokens,
						OutputTokens: outputTokens,
						StopReason:   stopReason,
					})
					return
				}
				send(ctx, chunks, runtime.Chunk{Err: fmt.Errorf("openai: stream: %w", err)})
				return
			}

			// The usage frame arrives with an empty choice list at the end
			// of the stream when IncludeUsage is set.
			if response.Usage != nil {
				inputTokens = response.Usage.PromptTokens
				outputTokens = response.Usage.CompletionTokens
			}
			if len(response.Choices) == 0 {
				continue
			}

			choice := response.Choices[0]
			if choice.FinishReason != "" {
				stopReason = string(choice.FinishReason)
			}
			if choice.Delta.Content != "" {
				if !send(ctx, chunks, runtime.Chunk{Text: choice.Delta.Content}) {
					return
				}
			}
		}
	}()

	return chunks, nil
}

// convertOpenAIMessages prepends the system prompt as its own message, which
// is where the chat completions API expects it.
func convertOpenAIMessages(system string, messages []runtime.FlatMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		role := openai.ChatMessageRoleUser
		if msg.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Text})
	}
	return out
}
