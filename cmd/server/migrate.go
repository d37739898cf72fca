package main

import (
	"context"
	"fmt"

	"loyalty-app/internal/config"
	"loyalty-app/internal/repository/postgres"

	"github.com/spf13/cobra"
)

func NewMigrateCommand() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Server.Store != config.StorePostgres {
				return fmt.Errorf("migrations only apply to the postgres store, server.store is %q", cfg.Server.Store)
			}
			if source == "" {
				source = cfg.Database.MigrationsPath
			}

			ctx := context.Background()
			database, err := postgres.NewPostgresDB(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer database.Close(ctx)

			return database.RunMigrations(source)
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Migration source URL, defaults to database.migrations_path")
	return cmd
}
