package llm

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai"
	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"
)

const (
	geminiPluginName = "gemini"
	defaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
)

// GeminiProvider implements LLMProvider using Firebase Genkit against Gemini's OpenAI-compatible endpoint
type GeminiProvider struct {
	genkit *genkit.Genkit
	model  string
}

// NewGeminiProvider creates a new Genkit instance configured for Gemini
func NewGeminiProvider(ctx context.Context, cfg config.GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY not configured: %w", ErrNotConfigured)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultGeminiURL
	}

	model := qualifiedModel(cfg.Model)
	g := genkit.Init(ctx,
		genkit.WithPlugins(&compat_oai.OpenAICompatible{
			Provider: geminiPluginName,
			APIKey:   cfg.APIKey,
			BaseURL:  baseURL,
		}),
		genkit.WithDefaultModel(model),
	)

	logger.Log.WithField("default_model", model).Info("Initialized Genkit with Gemini provider")

	return &GeminiProvider{genkit: g, model: model}, nil
}

func qualifiedModel(model string) string {
	if strings.HasPrefix(model, geminiPluginName+"/") {
		return model
	}
	return geminiPluginName + "/" + model
}

func (p *GeminiProvider) Name() string { return config.ProviderGemini }

// GetDefaultModel returns the model without the plugin prefix
func (p *GeminiProvider) GetDefaultModel() string {
	return strings.TrimPrefix(p.model, geminiPluginName+"/")
}

func toGenkitMessages(messages []Message) []*ai.Message {
	converted := make([]*ai.Message, 0, len(messages))
	for _, msg := range messages {
		role := ai.RoleUser
		switch msg.Role {
		case "system":
			role = ai.RoleSystem
		case "assistant":
			role = ai.RoleModel
		}
		converted = append(converted, &ai.Message{
			Role:    role,
			Content: []*ai.Part{ai.NewTextPart(msg.Content)},
		})
	}
	return converted
}

func (p *GeminiProvider) generationConfig(req ChatRequest) *openai.ChatCompletionNewParams {
	cfg := &openai.ChatCompletionNewParams{}
	if req.Temperature != nil {
		cfg.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens > 0 {
		cfg.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return cfg
}

// ChatWithHistory sends a chat request with conversation history and returns the full response
func (p *GeminiProvider) ChatWithHistory(ctx context.Context, req ChatRequest) (string, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling Genkit")

	resp, err := genkit.Generate(ctx, p.genkit,
		ai.WithMessages(toGenkitMessages(withSystemPrompt(req.Messages, req.SystemPrompt))...),
		ai.WithModelName(p.model),
		ai.WithConfig(p.generationConfig(req)),
	)
	if err != nil {
		return "", p.wrapError(err)
	}
	return resp.Text(), nil
}

// ChatWithHistoryStream sends a chat request with conversation history and streams the response
func (p *GeminiProvider) ChatWithHistoryStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	logger.Log.WithFields(logrus.Fields{
		"model":         p.model,
		"message_count": len(req.Messages),
	}).Info("Calling Genkit (streaming)")

	messages := toGenkitMessages(withSystemPrompt(req.Messages, req.SystemPrompt))
	genConfig := p.generationConfig(req)

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)

		resp, err := genkit.Generate(ctx, p.genkit,
			ai.WithMessages(messages...),
			ai.WithModelName(p.model),
			ai.WithConfig(genConfig),
			ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				for _, part := range chunk.Content {
					if !part.IsText() || part.Text == "" {
						continue
					}
					if !send(ctx, chunks, StreamChunk{Content: part.Text}) {
						return ctx.Err()
					}
				}
				return nil
			}),
		)
		if err != nil {
			logger.Log.WithError(err).Error("Stream error")
			send(ctx, chunks, StreamChunk{Err: p.wrapError(err)})
			return
		}

		var usage *ResponseUsage
		if resp.Usage != nil {
			usage = &ResponseUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.TotalTokens),
			}
		}
		send(ctx, chunks, StreamChunk{Usage: usage, IsDone: true})
	}()

	return chunks, nil
}

func (p *GeminiProvider) wrapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
