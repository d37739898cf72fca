package llm

import (
	"context"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"strings"

	"github.com/sirupsen/logrus"
)

// NewLLMProvider creates the provider with the given name
func NewLLMProvider(ctx context.Context, name string, cfg *config.AppConfig) (LLMProvider, error) {
	switch strings.ToLower(name) {
	case config.ProviderOpenAI, "":
		logger.Log.Info("Creating OpenAI provider")
		return NewOpenAIProvider(cfg.OpenAI)
	case config.ProviderOpenRouter:
		logger.Log.Info("Creating OpenRouter provider")
		return NewOpenRouterProvider(cfg.OpenRouter)
	case config.ProviderGemini:
		logger.Log.Info("Creating Gemini provider")
		return NewGeminiProvider(ctx, cfg.Gemini)
	case config.ProviderDialogflow:
		logger.Log.Info("Creating Dialogflow provider")
		return NewDialogflowProvider(ctx, cfg.Dialogflow)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", name)
	}
}

// GetProviderFromConfig creates the configured provider.
// Falls back to OpenAI if the configured one cannot be created.
func GetProviderFromConfig(ctx context.Context, cfg *config.AppConfig) (LLMProvider, error) {
	provider, err := NewLLMProvider(ctx, cfg.AI.Provider, cfg)
	if err == nil {
		return provider, nil
	}
	if strings.ToLower(cfg.AI.Provider) == config.ProviderOpenAI {
		return nil, err
	}

	logger.Log.WithError(err).WithFields(logrus.Fields{
		"provider": cfg.AI.Provider,
		"fallback": config.ProviderOpenAI,
	}).Warn("Error creating provider, falling back to OpenAI")

	provider, fallbackErr := NewOpenAIProvider(cfg.OpenAI)
	if fallbackErr != nil {
		return nil, fmt.Errorf("error creating %s provider (%v) and OpenAI fallback: %w", cfg.AI.Provider, err, fallbackErr)
	}
	return provider, nil
}
