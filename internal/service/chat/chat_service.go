package chat

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/metrics"
	"loyalty-app/internal/service/knowledge"
	"loyalty-app/internal/service/llm"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// KnowledgeSearcher finds reference documents for a user question
type KnowledgeSearcher interface {
	Search(ctx context.Context, query string) ([]knowledge.Result, error)
}

// SendMessageRequest contains all the parameters needed to send a message
type SendMessageRequest struct {
	// Messages is the client-held history ending with the new user message
	Messages []llm.Message
	UserID   string // Extracted from auth context, empty for anonymous chat
}

// SendMessageResponse contains the response from sending a message
type SendMessageResponse struct {
	Response string
	Model    string
	Usage    *llm.ResponseUsage
}

// StreamMessageChunk represents a chunk of streaming response.
// A chunk with Err set ends the stream.
type StreamMessageChunk struct {
	Content string
	Usage   *llm.ResponseUsage
	Err     error
}

// ChatService handles the business logic for chat operations
type ChatService struct {
	llmProvider llm.LLMProvider
	knowledge   KnowledgeSearcher
	config      config.AIConfig
}

// NewChatService creates a new ChatService. knowledge may be nil.
func NewChatService(provider llm.LLMProvider, knowledge KnowledgeSearcher, cfg config.AIConfig) *ChatService {
	return &ChatService{
		llmProvider: provider,
		knowledge:   knowledge,
		config:      cfg,
	}
}

// Model returns the model replies are generated with
func (s *ChatService) Model() string {
	return s.llmProvider.GetDefaultModel()
}

// SendMessage processes a chat message and returns the LLM response
func (s *ChatService) SendMessage(ctx context.Context, req SendMessageRequest) (*SendMessageResponse, error) {
	chatReq, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	response, err := s.llmProvider.ChatWithHistory(ctx, chatReq)
	if err != nil {
		metrics.ObserveChat(s.llmProvider.Name(), "error")
		return nil, fmt.Errorf("LLM error: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		metrics.ObserveChat(s.llmProvider.Name(), "empty")
		return nil, ErrEmptyResponse
	}

	metrics.ObserveChat(s.llmProvider.Name(), "success")
	return &SendMessageResponse{
		Response: response,
		Model:    s.llmProvider.GetDefaultModel(),
	}, nil
}

// ErrEmptyResponse is reported when the provider finished without producing any text
var ErrEmptyResponse = errors.New("provider returned an empty response")

// SendMessageStream processes a chat message and streams the LLM response
func (s *ChatService) SendMessageStream(ctx context.Context, req SendMessageRequest) (<-chan StreamMessageChunk, error) {
	chatReq, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	provider := s.llmProvider.Name()
	start := time.Now()

	llmChunks, err := s.llmProvider.ChatWithHistoryStream(ctx, chatReq)
	if err != nil {
		metrics.ObserveChat(provider, "error")
		return nil, fmt.Errorf("LLM streaming error: %w", err)
	}

	outputChan := make(chan StreamMessageChunk)

	go func() {
		defer close(outputChan)

		var responseChars int
		firstChunk := true

		for chunk := range llmChunks {
			switch {
			case chunk.Err != nil:
				metrics.ObserveChat(provider, "error")
				logger.Log.WithError(chunk.Err).WithField("provider", provider).Error("Provider stream failed")
				forward(ctx, outputChan, StreamMessageChunk{Err: chunk.Err})
				return
			case chunk.IsDone:
				if chunk.Usage != nil {
					metrics.ObserveTokens(provider, chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
				}
				if responseChars == 0 {
					metrics.ObserveChat(provider, "empty")
					forward(ctx, outputChan, StreamMessageChunk{Err: ErrEmptyResponse})
					return
				}
				forward(ctx, outputChan, StreamMessageChunk{Usage: chunk.Usage})
			case chunk.Content != "":
				if firstChunk {
					metrics.ObserveFirstToken(provider, time.Since(start))
					firstChunk = false
				}
				responseChars += len(chunk.Content)
				if !forward(ctx, outputChan, StreamMessageChunk{Content: chunk.Content}) {
					metrics.ObserveChat(provider, "cancelled")
					return
				}
			}
		}

		if responseChars == 0 {
			// provider closed without a done chunk
			metrics.ObserveChat(provider, "empty")
			forward(ctx, outputChan, StreamMessageChunk{Err: ErrEmptyResponse})
			return
		}

		metrics.ObserveChat(provider, "success")
		logger.Log.WithFields(logrus.Fields{
			"provider":       provider,
			"response_chars": responseChars,
			"elapsed_ms":     time.Since(start).Milliseconds(),
		}).Debug("Completed streaming response")
	}()

	return outputChan, nil
}

func forward(ctx context.Context, out chan<- StreamMessageChunk, chunk StreamMessageChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepare trims the history and grounds the system prompt with matching knowledge
func (s *ChatService) prepare(ctx context.Context, req SendMessageRequest) (llm.ChatRequest, error) {
	if len(req.Messages) == 0 {
		return llm.ChatRequest{}, errors.New("no messages to send")
	}

	history := trimHistory(req.Messages, s.config.HistoryLimit)
	question := history[len(history)-1].Content

	systemPrompt := s.buildSystemPrompt(ctx, question)

	sessionID := req.UserID
	if sessionID == "" {
		sessionID = "anonymous"
	}

	logger.Log.WithFields(logrus.Fields{
		"provider":      s.llmProvider.Name(),
		"message_count": len(history),
		"trimmed":       len(req.Messages) - len(history),
		"prompt_length": len(systemPrompt),
	}).Debug("Prepared for LLM call")

	temperature := s.config.Temperature
	return llm.ChatRequest{
		Messages:     history,
		SystemPrompt: systemPrompt,
		Temperature:  &temperature,
		MaxTokens:    s.config.MaxTokens,
		SessionID:    sessionID,
	}, nil
}

// buildSystemPrompt appends reference documents matching the question to the configured prompt
func (s *ChatService) buildSystemPrompt(ctx context.Context, question string) string {
	prompt := s.config.SystemPrompt
	if s.knowledge == nil {
		return prompt
	}

	results, err := s.knowledge.Search(ctx, question)
	if err != nil {
		logger.Log.WithError(err).Warn("Knowledge search failed, answering without reference information")
		return prompt
	}
	if len(results) == 0 {
		return prompt
	}

	logger.Log.WithField("matches", len(results)).Debug("Grounding prompt with knowledge")
	if prompt == "" {
		return knowledge.BuildContext(results)
	}
	return prompt + "\n\n" + knowledge.BuildContext(results)
}

// trimHistory keeps the newest limit messages, never starting on an assistant turn
func trimHistory(messages []llm.Message, limit int) []llm.Message {
	if limit <= 0 || len(messages) <= limit {
		return messages
	}
	trimmed := messages[len(messages)-limit:]
	for len(trimmed) > 1 && trimmed[0].Role != "user" {
		trimmed = trimmed[1:]
	}
	return trimmed
}
