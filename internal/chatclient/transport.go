// Package chatclient talks to the chat endpoint and coordinates sending, streaming,
// retrying and offline queueing for one user.
package chatclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"loyalty-app/internal/chaterr"
	"loyalty-app/internal/logger"
)

const (
	textPrefix  = "0:"
	errorPrefix = "3:"

	maxLineBytes = 1 << 20
)

// WireMessage is one entry of the request body
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []WireMessage `json:"messages"`
}

// TextDelta is the payload of a "0:" stream line
type TextDelta struct {
	Type      string `json:"type"`
	TextDelta string `json:"textDelta"`
}

// ErrorBody is the JSON body of a failed chat response
type ErrorBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Code       string `json:"code"`
	Retryable  *bool  `json:"retryable,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// Chunk is one streamed text fragment, or the error that ended the stream
type Chunk struct {
	Delta string
	Err   error
}

// Streamer opens a streamed chat completion
type Streamer interface {
	Stream(ctx context.Context, messages []WireMessage) (<-chan Chunk, error)
}

// Transport posts chat requests over HTTP
type Transport struct {
	endpoint string
	client   *http.Client
	token    func() string
}

// NewTransport creates a Transport for endpoint. token, when set, supplies the bearer token per request.
func NewTransport(endpoint string, client *http.Client, token func() string) *Transport {
	if client == nil {
		client = &http.Client{}
	}
	return &Transport{endpoint: endpoint, client: client, token: token}
}

// Stream posts messages and returns a channel of text deltas. Non-2xx responses are returned
// as *chaterr.Error before any chunk; failures mid-stream arrive as a final Chunk with Err set.
func (t *Transport) Stream(ctx context.Context, messages []WireMessage) (<-chan Chunk, error) {
	body, err := json.Marshal(chatRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != nil {
		if tok := t.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, chaterr.Classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeErrorResponse(resp)
	}

	chunks := make(chan Chunk)
	go func() {
		defer resp.Body.Close()
		defer close(chunks)

		send := func(c Chunk) bool {
			select {
			case chunks <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}

			switch {
			case strings.HasPrefix(line, textPrefix):
				var delta TextDelta
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, textPrefix)), &delta); err != nil {
					logger.Log.WithError(err).Warn("Error parsing stream chunk")
					continue
				}
				if delta.TextDelta == "" {
					continue
				}
				if !send(Chunk{Delta: delta.TextDelta}) {
					return
				}
			case strings.HasPrefix(line, errorPrefix):
				var msg string
				payload := strings.TrimPrefix(line, errorPrefix)
				if err := json.Unmarshal([]byte(payload), &msg); err != nil {
					msg = payload
				}
				send(Chunk{Err: &chaterr.Error{Kind: chaterr.KindService, Code: "stream_error", Message: msg, Retryable: true}})
				return
			}
		}

		if err := scanner.Err(); err != nil {
			logger.Log.WithError(err).Warn("Scanner error during streaming")
			send(Chunk{Err: chaterr.Classify(err)})
		}
	}()

	return chunks, nil
}

func decodeErrorResponse(resp *http.Response) *chaterr.Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body ErrorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		body.Message = strings.TrimSpace(string(raw))
	}

	retryAfter := time.Duration(body.RetryAfter) * time.Second
	if retryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			retryAfter = time.Duration(secs) * time.Second
		}
	}

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	ce := chaterr.FromStatus(resp.StatusCode, body.Code, msg, retryAfter)
	if body.Retryable != nil && ce.Kind == chaterr.KindService {
		ce.Retryable = *body.Retryable
	}
	return ce
}
