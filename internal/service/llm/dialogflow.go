package llm

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"

	"github.com/sirupsen/logrus"
	dialogflow "google.golang.org/api/dialogflow/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DialogflowProvider implements LLMProvider with a Dialogflow ES agent. The agent keeps its own
// session state, so only the newest user message is sent and the system prompt is ignored.
type DialogflowProvider struct {
	sessions     *dialogflow.ProjectsAgentSessionsService
	projectID    string
	languageCode string
}

// NewDialogflowProvider creates a Dialogflow client from a service account file or the ambient credentials
func NewDialogflowProvider(ctx context.Context, cfg config.DialogflowConfig, extra ...option.ClientOption) (*DialogflowProvider, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("DIALOGFLOW_PROJECT_ID not configured: %w", ErrNotConfigured)
	}

	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	opts = append(opts, extra...)

	svc, err := dialogflow.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("error creating dialogflow service: %w", err)
	}

	languageCode := cfg.LanguageCode
	if languageCode == "" {
		languageCode = "th"
	}

	logger.Log.WithFields(logrus.Fields{
		"project_id":    cfg.ProjectID,
		"language_code": languageCode,
	}).Info("Initialized Dialogflow provider")

	return &DialogflowProvider{
		sessions:     svc.Projects.Agent.Sessions,
		projectID:    cfg.ProjectID,
		languageCode: languageCode,
	}, nil
}

func (p *DialogflowProvider) Name() string { return config.ProviderDialogflow }

// GetDefaultModel reports the agent, Dialogflow has no model choice
func (p *DialogflowProvider) GetDefaultModel() string {
	return "dialogflow-es"
}

func (p *DialogflowProvider) sessionName(sessionID string) string {
	if sessionID == "" {
		sessionID = "anonymous"
	}
	return fmt.Sprintf("projects/%s/agent/sessions/%s", p.projectID, sessionID)
}

// ChatWithHistory sends the newest user message to the agent and returns its fulfillment text
func (p *DialogflowProvider) ChatWithHistory(ctx context.Context, req ChatRequest) (string, error) {
	text := lastUserMessage(req.Messages)
	if text == "" {
		return "", errors.New("no user message to send")
	}

	logger.Log.WithFields(logrus.Fields{
		"session_id":    req.SessionID,
		"message_count": len(req.Messages),
	}).Info("Calling Dialogflow detectIntent")

	resp, err := p.sessions.DetectIntent(p.sessionName(req.SessionID), &dialogflow.GoogleCloudDialogflowV2DetectIntentRequest{
		QueryInput: &dialogflow.GoogleCloudDialogflowV2QueryInput{
			Text: &dialogflow.GoogleCloudDialogflowV2TextInput{
				Text:         text,
				LanguageCode: p.languageCode,
			},
		},
	}).Context(ctx).Do()
	if err != nil {
		return "", p.wrapError(err)
	}

	if resp.QueryResult == nil {
		return "", &ProviderError{Provider: p.Name(), StatusCode: 502, Err: errors.New("empty query result")}
	}
	if resp.QueryResult.Intent != nil {
		logger.Log.WithFields(logrus.Fields{
			"intent":     resp.QueryResult.Intent.DisplayName,
			"confidence": resp.QueryResult.IntentDetectionConfidence,
		}).Debug("Matched intent")
	}
	return resp.QueryResult.FulfillmentText, nil
}

// ChatWithHistoryStream delivers the whole fulfillment text as one chunk
func (p *DialogflowProvider) ChatWithHistoryStream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)

		text, err := p.ChatWithHistory(ctx, req)
		if err != nil {
			send(ctx, chunks, StreamChunk{Err: err})
			return
		}
		if text != "" && !send(ctx, chunks, StreamChunk{Content: text}) {
			return
		}
		send(ctx, chunks, StreamChunk{IsDone: true})
	}()
	return chunks, nil
}

func (p *DialogflowProvider) wrapError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &ProviderError{Provider: p.Name(), StatusCode: apiErr.Code, Err: err}
	}
	return &ProviderError{Provider: p.Name(), Err: err}
}
