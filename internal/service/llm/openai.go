package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// OpenAIProvider implements LLMProvider on the OpenAI chat completions API
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not configured: %w", ErrNotConfigured)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (p *OpenAIProvider) Name() string { return config.ProviderOpenAI }

// GetDefaultModel returns the configured model
func (p *OpenAIProvider) GetDefaultModel() string {
	return p.model
}

func (p *OpenAIProvider) buildRequest(req ChatRequest, stream bool) openai.ChatCompletionRequest {
	messages := withSystemPrompt(req.Messages, req.SystemPrompt)
	converted := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "system":
			role = openai.ChatMessageRoleSystem
		}
		converted = append(converted, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	r := openai.ChatCompletionRequest{
		Model:     p.model,
		Messages:  converted,
		Stream:    stream,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature != nil {
		r.Temperature = float32(*req.Temperature)
	}
	if stream {
		r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return r
}

// ChatWithHistory sends a chat request with conversation history and returns the full response
func (p *OpenAIProvider) ChatWithHistory(ctx context.Context, req ChatRequest) (string, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling OpenAI API")

	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return "", p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: p.Name(), StatusCode: 502, Err: errors.New("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}

// ChatWithHistoryStream sends a chat request with conversation history and streams the response
func (p *OpenAIProvider) ChatWithHistoryStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling OpenAI API (streaming)")

	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, p.wrapError(err)
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		var usage *ResponseUsage
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				logger.Log.WithError(err).Error("OpenAI stream error")
				send(ctx, chunks, StreamChunk{Err: p.wrapError(err)})
				return
			}

			if resp.Usage != nil {
				usage = &ResponseUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				if !send(ctx, chunks, StreamChunk{Content: resp.Choices[0].Delta.Content}) {
					return
				}
			}
		}

		send(ctx, chunks, StreamChunk{Usage: usage, IsDone: true})
	}()

	return chunks, nil
}

func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}

// send delivers a chunk unless the consumer has gone away
func send(ctx context.Context, chunks chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case chunks <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}
