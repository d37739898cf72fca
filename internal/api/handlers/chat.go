package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"loyalty-app/internal/api/response"
	"loyalty-app/internal/auth"
	"loyalty-app/internal/logger"
	chatService "loyalty-app/internal/service/chat"
	"loyalty-app/internal/service/llm"
	"loyalty-app/pkg/validation"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// DataStreamHeader marks the line protocol of a streamed chat response
const DataStreamHeader = "X-Vercel-AI-Data-Stream"

const defaultRateLimitRetryAfter = 10

// Request/Response types

type ChatRequest struct {
	Messages []llm.Message `json:"messages"`
}

// TextDelta is the payload of a "0:" stream line
type TextDelta struct {
	Type      string `json:"type"`
	TextDelta string `json:"textDelta"`
}

// FinishPart is the payload of the closing "d:" stream line
type FinishPart struct {
	FinishReason string      `json:"finishReason"`
	Usage        *FinishUsage `json:"usage,omitempty"`
}

type FinishUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ChatHandlers serves the assistant chat endpoint
type ChatHandlers struct {
	validator   *validation.ChatRequestValidator
	chatService *chatService.ChatService
}

// NewChatHandlers creates a new ChatHandlers
func NewChatHandlers(service *chatService.ChatService, validator *validation.ChatRequestValidator) *ChatHandlers {
	if validator == nil {
		validator = validation.NewChatRequestValidator(nil)
	}
	return &ChatHandlers{
		validator:   validator,
		chatService: service,
	}
}

// ChatStreamHandler streams the assistant reply as "0:" text-delta lines.
// Errors found before the first delta are sent as JSON with a matching status;
// later errors end the stream with a "3:" line.
func (ch *ChatHandlers) ChatStreamHandler(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid_request", "Invalid request body.", err)
		return
	}

	turns := make([]validation.ChatTurn, len(req.Messages))
	for i, m := range req.Messages {
		turns[i] = validation.ChatTurn{Role: m.Role, Content: m.Content}
	}
	if err := ch.validator.ValidateChatRequest(turns); err != nil {
		response.SendError(c, http.StatusBadRequest, "invalid_message", err.Error(), err)
		return
	}

	userID := ""
	if claims, ok := auth.UserFromContext(c); ok {
		userID = claims.UserID()
	}

	logger.Log.WithFields(logrus.Fields{
		"user_id":       userID,
		"message_count": len(req.Messages),
	}).Info("Chat stream request received")

	ctx := c.Request.Context()
	chunks, err := ch.chatService.SendMessageStream(ctx, chatService.SendMessageRequest{
		Messages: req.Messages,
		UserID:   userID,
	})
	if err != nil {
		sendChatError(c, err)
		return
	}

	// hold the status line until the provider has produced something
	first, ok := <-chunks
	if !ok {
		sendChatError(c, chatService.ErrEmptyResponse)
		return
	}
	if first.Err != nil {
		sendChatError(c, first.Err)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header(DataStreamHeader, "v1")
	c.Status(http.StatusOK)

	var usage *llm.ResponseUsage
	write := func(chunk chatService.StreamMessageChunk) bool {
		switch {
		case chunk.Err != nil:
			logger.Log.WithError(chunk.Err).Warn("Chat stream ended with error")
			writeLine(c, "3", publicMessage(chunk.Err))
			return false
		case chunk.Content != "":
			writeLine(c, "0", TextDelta{Type: "text-delta", TextDelta: chunk.Content})
		case chunk.Usage != nil:
			usage = chunk.Usage
		}
		return true
	}

	if !write(first) {
		return
	}
	for chunk := range chunks {
		if !write(chunk) {
			return
		}
	}

	finish := FinishPart{FinishReason: "stop"}
	if usage != nil {
		finish.Usage = &FinishUsage{PromptTokens: usage.PromptTokens, CompletionTokens: usage.CompletionTokens}
	}
	writeLine(c, "d", finish)
}

func writeLine(c *gin.Context, prefix string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Log.WithError(err).Error("Error marshaling stream line")
		return
	}
	fmt.Fprintf(c.Writer, "%s:%s\n", prefix, data)
	c.Writer.Flush()
}

// sendChatError maps provider and service failures onto the statuses clients retry on
func sendChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		logger.Log.Debug("Client went away before the reply started")
		c.Abort()
		return
	case errors.Is(err, context.DeadlineExceeded):
		response.SendRetryableError(c, http.StatusGatewayTimeout, "timeout", "The assistant took too long to answer. Please try again.", 0, err)
		return
	case errors.Is(err, chatService.ErrEmptyResponse):
		response.SendRetryableError(c, http.StatusBadGateway, "empty_response", "The assistant did not answer. Please try again.", 0, err)
		return
	}

	status := llm.StatusOf(err)
	logger.Log.WithError(err).WithField("upstream_status", status).Error("Chat provider failed")

	switch {
	case status == http.StatusTooManyRequests:
		response.SendRetryableError(c, http.StatusTooManyRequests, "rate_limited", "The assistant is busy. Please wait a moment and try again.", defaultRateLimitRetryAfter, err)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		response.SendRetryableError(c, http.StatusGatewayTimeout, "timeout", "The assistant took too long to answer. Please try again.", 0, err)
	case status >= 500:
		response.SendRetryableError(c, http.StatusServiceUnavailable, "provider_unavailable", "The assistant is temporarily unavailable. Please try again.", 0, err)
	case status >= 400:
		// upstream rejected our own request or credentials, retrying cannot help
		retryable := false
		c.AbortWithStatusJSON(http.StatusBadGateway, response.ErrorResponse{
			Error:     http.StatusText(http.StatusBadGateway),
			Code:      "provider_error",
			Message:   "The assistant could not answer this message.",
			Retryable: &retryable,
		})
		_ = c.Error(err)
	default:
		response.SendRetryableError(c, http.StatusBadGateway, "provider_error", "Could not reach the assistant. Please try again.", 0, err)
	}
}

func publicMessage(err error) string {
	if errors.Is(err, chatService.ErrEmptyResponse) {
		return "The assistant did not answer. Please try again."
	}
	return "The assistant stopped responding. Please try again."
}
