package main

import (
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "loyalty-server",
	Short: "Loyalty program backend for the LINE LIFF app",
	Long: `loyalty-server serves points redemption, balances and the shopping
assistant chat for the LINE LIFF loyalty app.`,
	SilenceUsage: true,
}

// loadConfig reads the configuration and applies its log settings
func loadConfig() (*config.AppConfig, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

func main() {
	rootCmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewSeedCommand(),
		NewTokenCommand(),
		NewHashPasswordCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"Path to an optional YAML config file; environment variables override it")

	if err := rootCmd.Execute(); err != nil {
		logger.Log.WithError(err).Fatal("could not execute root command")
	}
}
