package main

import (
	"context"
	"errors"

	"loyalty-app/internal/app"
	"loyalty-app/internal/config"
	"loyalty-app/internal/service/llm"

	"github.com/spf13/cobra"
)

func NewSeedCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load FAQs, products and redeem codes from a seed file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if path == "" {
				path = cfg.Knowledge.SeedPath
			}

			seed, err := config.LoadSeedData(path)
			if err != nil {
				return err
			}

			ctx := context.Background()
			database, err := app.OpenDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer database.Close(ctx)

			application := app.NewWithDependencies(cfg, database, nopProvider{})
			return application.Seed(ctx, seed)
		},
	}

	cmd.Flags().StringVar(&path, "file", "", "Seed file, defaults to knowledge.seed_path")
	return cmd
}

// nopProvider lets maintenance commands build the app without a chat provider
type nopProvider struct{}

func (nopProvider) Name() string { return "none" }

func (nopProvider) ChatWithHistory(ctx context.Context, req llm.ChatRequest) (string, error) {
	return "", errors.New("chat is not available in maintenance commands")
}

func (nopProvider) ChatWithHistoryStream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return nil, errors.New("chat is not available in maintenance commands")
}

func (nopProvider) GetDefaultModel() string { return "" }
