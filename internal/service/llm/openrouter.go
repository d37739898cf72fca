package llm

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouterProvider implements LLMProvider against any OpenAI-compatible gateway, OpenRouter by default
type OpenRouterProvider struct {
	client openai.Client
	model  string
}

// NewOpenRouterProvider creates a new OpenRouter provider with config
func NewOpenRouterProvider(cfg config.OpenRouterConfig) (*OpenRouterProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY not configured: %w", ErrNotConfigured)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(cfg.APIKey),
		option.WithHeader("HTTP-Referer", "https://liff.line.me"),
		option.WithHeader("X-Title", "Loyalty Assistant"),
		option.WithMaxRetries(0),
	)

	return &OpenRouterProvider{client: client, model: cfg.Model}, nil
}

func (p *OpenRouterProvider) Name() string { return config.ProviderOpenRouter }

// GetDefaultModel returns the default model for OpenRouter provider
func (p *OpenRouterProvider) GetDefaultModel() string {
	return p.model
}

func (p *OpenRouterProvider) buildParams(req ChatRequest) openai.ChatCompletionNewParams {
	messages := withSystemPrompt(req.Messages, req.SystemPrompt)
	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			converted = append(converted, openai.SystemMessage(m.Content))
		case "assistant":
			converted = append(converted, openai.AssistantMessage(m.Content))
		default:
			converted = append(converted, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(p.model),
		Messages: converted,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// ChatWithHistory sends a chat request with conversation history and returns the full response
func (p *OpenRouterProvider) ChatWithHistory(ctx context.Context, req ChatRequest) (string, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling OpenRouter API")

	completion, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), StatusCode: 502, Err: errors.New("no choices in response")}
	}

	content := completion.Choices[0].Message.Content
	logger.Log.WithField("content_length", len(content)).Debug("Extracted content from response")
	return content, nil
}

// ChatWithHistoryStream sends a chat request with conversation history and streams the response.
// Upstream failures, including non-2xx answers, arrive as the final chunk's Err.
func (p *OpenRouterProvider) ChatWithHistoryStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling OpenRouter API (streaming)")

	params := p.buildParams(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage *ResponseUsage
		for stream.Next() {
			chunk := stream.Current()

			// usage arrives on the last event with empty choices
			if chunk.Usage.TotalTokens > 0 {
				usage = &ResponseUsage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				if !send(ctx, chunks, StreamChunk{Content: chunk.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			logger.Log.WithError(err).Error("OpenRouter stream error")
			send(ctx, chunks, StreamChunk{Err: p.wrapError(err)})
			return
		}

		if usage != nil {
			logger.Log.WithFields(logrus.Fields{
				"prompt_tokens":     usage.PromptTokens,
				"completion_tokens": usage.CompletionTokens,
				"total_tokens":      usage.TotalTokens,
			}).Debug("Captured usage data")
		}
		send(ctx, chunks, StreamChunk{Usage: usage, IsDone: true})
	}()

	return chunks, nil
}

func (p *OpenRouterProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
