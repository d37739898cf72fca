package testutil

import (
	"context"
	"errors"
	"loyalty-app/internal/config"
	"loyalty-app/internal/repository/db"
	"loyalty-app/internal/service/llm"
	"time"
)

// MockDatabase is a mock implementation of db.Database for testing
type MockDatabase struct {
	// Rewards mocks
	RedeemCodeFunc      func(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error)
	GetUserFunc         func(ctx context.Context, userID string) (*db.User, error)
	GetPointHistoryFunc func(ctx context.Context, userID string, limit int) ([]db.PointHistory, error)
	CreateCodesFunc     func(ctx context.Context, codes []db.RedeemCode) error

	// Knowledge mocks
	ListFAQsFunc       func(ctx context.Context) ([]db.FAQ, error)
	ListProductsFunc   func(ctx context.Context) ([]db.Product, error)
	UpsertFAQsFunc     func(ctx context.Context, faqs []db.FAQ) error
	UpsertProductsFunc func(ctx context.Context, products []db.Product) error

	PingFunc func(ctx context.Context) error
}

// Rewards methods
func (m *MockDatabase) RedeemCode(ctx context.Context, code, userID, displayName string) (*db.RedeemResult, error) {
	if m.RedeemCodeFunc != nil {
		return m.RedeemCodeFunc(ctx, code, userID, displayName)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetUser(ctx context.Context, userID string) (*db.User, error) {
	if m.GetUserFunc != nil {
		return m.GetUserFunc(ctx, userID)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) GetPointHistory(ctx context.Context, userID string, limit int) ([]db.PointHistory, error) {
	if m.GetPointHistoryFunc != nil {
		return m.GetPointHistoryFunc(ctx, userID, limit)
	}
	return nil, errors.New("not implemented")
}

func (m *MockDatabase) CreateCodes(ctx context.Context, codes []db.RedeemCode) error {
	if m.CreateCodesFunc != nil {
		return m.CreateCodesFunc(ctx, codes)
	}
	return errors.New("not implemented")
}

// Knowledge methods
func (m *MockDatabase) ListFAQs(ctx context.Context) ([]db.FAQ, error) {
	if m.ListFAQsFunc != nil {
		return m.ListFAQsFunc(ctx)
	}
	return nil, nil
}

func (m *MockDatabase) ListProducts(ctx context.Context) ([]db.Product, error) {
	if m.ListProductsFunc != nil {
		return m.ListProductsFunc(ctx)
	}
	return nil, nil
}

func (m *MockDatabase) UpsertFAQs(ctx context.Context, faqs []db.FAQ) error {
	if m.UpsertFAQsFunc != nil {
		return m.UpsertFAQsFunc(ctx, faqs)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) UpsertProducts(ctx context.Context, products []db.Product) error {
	if m.UpsertProductsFunc != nil {
		return m.UpsertProductsFunc(ctx, products)
	}
	return errors.New("not implemented")
}

func (m *MockDatabase) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

func (m *MockDatabase) Close(ctx context.Context) error {
	return nil
}

// MockLLMProvider is a mock implementation of llm.LLMProvider for testing
type MockLLMProvider struct {
	ChatWithHistoryFunc       func(ctx context.Context, req llm.ChatRequest) (string, error)
	ChatWithHistoryStreamFunc func(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error)
	GetDefaultModelFunc       func() string
}

func (m *MockLLMProvider) Name() string {
	return "mock"
}

func (m *MockLLMProvider) ChatWithHistory(ctx context.Context, req llm.ChatRequest) (string, error) {
	if m.ChatWithHistoryFunc != nil {
		return m.ChatWithHistoryFunc(ctx, req)
	}
	return "", errors.New("not implemented")
}

func (m *MockLLMProvider) ChatWithHistoryStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if m.ChatWithHistoryStreamFunc != nil {
		return m.ChatWithHistoryStreamFunc(ctx, req)
	}
	return nil, errors.New("not implemented")
}

func (m *MockLLMProvider) GetDefaultModel() string {
	if m.GetDefaultModelFunc != nil {
		return m.GetDefaultModelFunc()
	}
	return "default-model"
}

// StreamOf returns a closed channel holding the given deltas followed by a done chunk
func StreamOf(deltas ...string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk, len(deltas)+1)
	for _, d := range deltas {
		ch <- llm.StreamChunk{Content: d}
	}
	ch <- llm.StreamChunk{IsDone: true}
	close(ch)
	return ch
}

// NewMockConfig creates an AppConfig with test settings
func NewMockConfig() *config.AppConfig {
	return &config.AppConfig{
		Server: config.ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
			ReadTimeout:    15 * time.Second,
			Store:          config.StoreMongo,
		},
		AI: config.AIConfig{
			Provider:     config.ProviderOpenAI,
			SystemPrompt: "You are a helpful assistant.",
			Temperature:  0.7,
			MaxTokens:    500,
			HistoryLimit: 20,
		},
		LIFF: config.LIFFConfig{
			ChannelID:     "1234567890",
			ChannelSecret: "test-channel-secret",
			Issuer:        "https://access.line.me",
			Leeway:        30 * time.Second,
		},
		Admin: config.AdminConfig{
			Username: "admin",
		},
		Knowledge: config.KnowledgeConfig{
			MaxResults: 3,
		},
		Validation: config.ValidationConfig{
			MaxMessageLength: 4000,
			MaxMessages:      50,
		},
	}
}
