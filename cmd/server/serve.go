package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"loyalty-app/internal/app"
	"loyalty-app/internal/config"
	"loyalty-app/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type ServeFlags struct {
	Port        string
	RequireAuth bool
	LogLevel    string
}

func (f *ServeFlags) BindFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.Port, "port", "", "Port to listen on, overrides server.port")
	flagSet.BoolVar(&f.RequireAuth, "require-auth", false, "Reject anonymous chat requests, overrides liff.require_auth_for_chat")
	flagSet.StringVar(&f.LogLevel, "log-level", "", "Log level (debug,info,warn,error), overrides log.level")
}

// Apply copies the flags that were set onto cfg
func (f *ServeFlags) Apply(cfg *config.AppConfig) {
	if f.Port != "" {
		cfg.Server.Port = f.Port
	}
	if f.RequireAuth {
		cfg.LIFF.RequireAuthForChat = true
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
		logger.Configure(cfg.Log.Level, cfg.Log.Format)
	}
}

func NewServeCommand() *cobra.Command {
	f := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			f.Apply(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			gin.SetMode(gin.ReleaseMode)

			application, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(context.Background()); err != nil {
					logger.Log.WithError(err).Warn("Error closing database")
				}
			}()

			if err := application.Knowledge.Refresh(ctx); err != nil {
				logger.Log.WithError(err).Warn("Knowledge base not loaded, chat answers will not be grounded until it is")
			}

			server := &http.Server{
				Addr:              ":" + cfg.Server.Port,
				Handler:           application.Router(),
				ReadHeaderTimeout: cfg.Server.ReadTimeout,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Log.WithFields(logrus.Fields{
					"port":     cfg.Server.Port,
					"store":    cfg.Server.Store,
					"provider": application.Provider.Name(),
					"model":    application.Provider.GetDefaultModel(),
				}).Info("Server starting")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			logger.Log.Info("Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return err
			}
			logger.Log.Info("Server stopped")
			return nil
		},
	}

	f.BindFlags(cmd.Flags())
	return cmd
}
