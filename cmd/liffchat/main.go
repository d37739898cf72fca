package main

import (
	"context"
	"io"
	"net/http"

	"loyalty-app/internal/chatclient"
	"loyalty-app/internal/config"
	"loyalty-app/internal/connectivity"
	"loyalty-app/internal/convstore"
	"loyalty-app/internal/logger"
	"loyalty-app/internal/offlinequeue"
	"loyalty-app/internal/retry"
	"loyalty-app/pkg/validation"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "liffchat",
	Short:        "Terminal client for the loyalty assistant chat",
	SilenceUsage: true,
}

// client bundles everything a command needs. close releases the storage backends.
type client struct {
	cfg          *config.ClientConfig
	store        *convstore.Store
	monitor      *connectivity.Monitor
	orchestrator *chatclient.Orchestrator
	closers      []io.Closer
}

func (c *client) close() {
	for _, cl := range c.closers {
		if err := cl.Close(); err != nil {
			logger.Log.WithError(err).Debug("Error closing storage backend")
		}
	}
}

func newClient() (*client, error) {
	appCfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.Configure(appCfg.Log.Level, appCfg.Log.Format)
	cfg := &appCfg.Client

	backends, closers := openBackends(cfg)
	store := convstore.New(backends, convstore.Options{PruneKeep: cfg.PruneKeep})

	httpClient := &http.Client{}
	monitor := connectivity.NewMonitor(connectivity.Config{
		HealthURL:       cfg.HealthURL,
		ProbeInterval:   cfg.ProbeInterval,
		ProbeTimeout:    cfg.ProbeTimeout,
		Client:          httpClient,
		InitiallyOnline: true,
	})

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	if cfg.BaseDelay > 0 {
		policy.BaseDelay = cfg.BaseDelay
	}
	if cfg.AttemptTimeout > 0 {
		policy.AttemptTimeout = cfg.AttemptTimeout
	}

	messages := validation.NewMessageValidator()
	if appCfg.Validation.MaxMessageLength > 0 {
		messages.MaxLength = appCfg.Validation.MaxMessageLength
	}

	queue := offlinequeue.New(cfg.MaxQueueRetries).WithPersister(store)
	if _, err := queue.Restore(context.Background()); err != nil {
		logger.Log.WithError(err).Warn("Offline queue could not be restored")
	}

	token := cfg.IDToken
	orchestrator := chatclient.NewOrchestrator(chatclient.Deps{
		Store:     store,
		Queue:     queue,
		Monitor:   monitor,
		Streamer:  chatclient.NewTransport(cfg.Endpoint, httpClient, func() string { return token }),
		Executor:  retry.NewExecutor(policy, retry.WithOnlineChecker(monitor)),
		Validator: messages,
	})

	return &client{
		cfg:          cfg,
		store:        store,
		monitor:      monitor,
		orchestrator: orchestrator,
		closers:      closers,
	}, nil
}

// openBackends ranks the storage tiers: the bolt file, redis when configured,
// a session directory and finally process memory
func openBackends(cfg *config.ClientConfig) ([]convstore.Backend, []io.Closer) {
	var backends []convstore.Backend
	var closers []io.Closer

	if cfg.StorePath != "" {
		b, err := convstore.OpenBoltBackend(cfg.StorePath, cfg.StoreQuotaBytes)
		if err != nil {
			logger.Log.WithError(err).WithField("path", cfg.StorePath).Warn("Persistent history unavailable")
		} else {
			backends = append(backends, b)
			closers = append(closers, b)
		}
	}

	if cfg.RedisURL != "" {
		b, err := convstore.NewRedisBackend(cfg.RedisURL, cfg.RedisTTL)
		if err != nil {
			logger.Log.WithError(err).Warn("Redis history unavailable")
		} else {
			backends = append(backends, b)
			closers = append(closers, b)
		}
	}

	if b, err := convstore.NewSessionFileBackend(); err != nil {
		logger.Log.WithError(err).Warn("Session storage unavailable")
	} else {
		backends = append(backends, b)
		closers = append(closers, b)
	}

	backends = append(backends, convstore.NewMemoryBackend())

	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	logger.Log.WithFields(logrus.Fields{"backends": names}).Debug("Storage tiers ready")
	return backends, closers
}

func main() {
	rootCmd.AddCommand(
		NewChatCommand(),
		NewConversationsCommand(),
		NewClearCommand(),
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml",
		"Path to an optional YAML config file; environment variables override it")

	if err := rootCmd.Execute(); err != nil {
		logger.Log.WithError(err).Fatal("could not execute root command")
	}
}
