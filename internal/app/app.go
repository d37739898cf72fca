// Package app assembles the server from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"loyalty-app/internal/api"
	"loyalty-app/internal/api/handlers"
	"loyalty-app/internal/auth"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/repository/db"
	"loyalty-app/internal/repository/mongo"
	"loyalty-app/internal/repository/postgres"
	chatService "loyalty-app/internal/service/chat"
	"loyalty-app/internal/service/knowledge"
	"loyalty-app/internal/service/llm"
	redeemService "loyalty-app/internal/service/redeem"
	"loyalty-app/pkg/validation"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// App holds all application dependencies and configuration
type App struct {
	Config    *config.AppConfig
	DB        db.Database
	Provider  llm.LLMProvider
	Knowledge *knowledge.KnowledgeService
	Chat      *chatService.ChatService
	Redeem    *redeemService.RedeemService
	Verifier  *auth.Verifier
}

// OpenDatabase connects to the store selected by server.store
func OpenDatabase(ctx context.Context, cfg *config.AppConfig) (db.Database, error) {
	switch cfg.Server.Store {
	case config.StorePostgres:
		return postgres.NewPostgresDB(ctx, cfg.Database)
	case config.StoreMongo:
		return mongo.NewMongoDB(ctx, cfg.Mongo)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Server.Store)
	}
}

// New connects to the database and the chat provider and builds the services
func New(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	database, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	provider, err := llm.GetProviderFromConfig(ctx, cfg)
	if err != nil {
		_ = database.Close(ctx)
		return nil, fmt.Errorf("error creating chat provider: %w", err)
	}

	return NewWithDependencies(cfg, database, provider), nil
}

// NewWithDependencies builds the services on an already opened database and provider
func NewWithDependencies(cfg *config.AppConfig, database db.Database, provider llm.LLMProvider) *App {
	knowledgeService := knowledge.NewKnowledgeService(database, cfg.Knowledge.MaxResults)

	logger.Log.WithFields(logrus.Fields{
		"store":    cfg.Server.Store,
		"provider": provider.Name(),
		"model":    provider.GetDefaultModel(),
	}).Info("Application assembled")

	return &App{
		Config:    cfg,
		DB:        database,
		Provider:  provider,
		Knowledge: knowledgeService,
		Chat:      chatService.NewChatService(provider, knowledgeService, cfg.AI),
		Redeem:    redeemService.NewRedeemService(database),
		Verifier:  auth.NewVerifier(cfg.LIFF),
	}
}

// Router returns the HTTP handler serving the API
func (a *App) Router() *gin.Engine {
	messages := validation.NewMessageValidator()
	if a.Config.Validation.MaxMessageLength > 0 {
		messages.MaxLength = a.Config.Validation.MaxMessageLength
	}
	validator := validation.NewChatRequestValidator(messages).WithMaxTurns(a.Config.Validation.MaxMessages)

	return api.NewRouter(a.Config, api.Dependencies{
		Chat:     handlers.NewChatHandlers(a.Chat, validator),
		Redeem:   handlers.NewRedeemHandlers(a.Redeem),
		Health:   handlers.NewHealthHandlers(a.DB),
		Verifier: a.Verifier,
	})
}

// Seed upserts the seed file's FAQs and products and creates its codes.
// Codes that already exist are left untouched.
func (a *App) Seed(ctx context.Context, seed *config.SeedData) error {
	faqs := make([]db.FAQ, len(seed.FAQs))
	for i, f := range seed.FAQs {
		faqs[i] = db.FAQ{Question: f.Question, Answer: f.Answer, Keywords: f.Keywords, Category: f.Category}
	}
	if len(faqs) > 0 {
		if err := a.DB.UpsertFAQs(ctx, faqs); err != nil {
			return err
		}
	}

	products := make([]db.Product, len(seed.Products))
	for i, p := range seed.Products {
		products[i] = db.Product{Name: p.Name, Description: p.Description, Keywords: p.Keywords, PointsCost: p.PointsCost}
	}
	if len(products) > 0 {
		if err := a.DB.UpsertProducts(ctx, products); err != nil {
			return err
		}
	}

	created := 0
	now := time.Now().UTC()
	for _, c := range seed.Codes {
		code := db.RedeemCode{Code: validation.NormalizeRedeemCode(c.Code), Points: c.Points, CreatedAt: now}
		err := a.DB.CreateCodes(ctx, []db.RedeemCode{code})
		switch {
		case errors.Is(err, db.ErrCodeExists):
			logger.Log.WithField("code", code.Code).Debug("Seed code already exists")
		case err != nil:
			return fmt.Errorf("error creating code %s: %w", code.Code, err)
		default:
			created++
		}
	}

	if err := a.Knowledge.Refresh(ctx); err != nil {
		logger.Log.WithError(err).Warn("Could not reload knowledge after seeding")
	}

	logger.Log.WithFields(logrus.Fields{
		"faqs":     len(faqs),
		"products": len(products),
		"codes":    created,
	}).Info("Seed data loaded")
	return nil
}

// Close releases the database connection
func (a *App) Close(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close(ctx)
}
