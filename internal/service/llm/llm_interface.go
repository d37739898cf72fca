package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one turn of the conversation sent to a provider
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries everything a provider needs for one completion
type ChatRequest struct {
	Messages     []Message
	SystemPrompt string
	Temperature  *float64
	MaxTokens    int
	// SessionID keys stateful providers such as Dialogflow
	SessionID string
}

type ResponseUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk is one element of a provider stream. A chunk with Err set is always the last one.
type StreamChunk struct {
	Content string
	Usage   *ResponseUsage
	Err     error
	IsDone  bool
}

// LLMProvider defines the interface for chat providers (OpenAI, OpenRouter, Gemini, Dialogflow)
type LLMProvider interface {
	// Name identifies the provider in logs and metrics
	Name() string

	// ChatWithHistory sends a chat request with conversation history and returns the full response
	ChatWithHistory(ctx context.Context, req ChatRequest) (string, error)

	// ChatWithHistoryStream sends a chat request with conversation history and streams the response
	ChatWithHistoryStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error)

	// GetDefaultModel returns the default model for this provider
	GetDefaultModel() string
}

// ErrNotConfigured is returned when a provider is missing credentials
var ErrNotConfigured = errors.New("provider not configured")

// ProviderError is an upstream failure with the HTTP status the provider answered with.
// StatusCode is 0 when the request never got a response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s returned status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StatusOf returns the upstream status carried by err, or 0
func StatusOf(err error) int {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func withSystemPrompt(messages []Message, systemPrompt string) []Message {
	if systemPrompt == "" {
		return messages
	}
	return append([]Message{{Role: "system", Content: systemPrompt}}, messages...)
}

// lastUserMessage returns the newest user turn, used by providers that take a single query
func lastUserMessage(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
