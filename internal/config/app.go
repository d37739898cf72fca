package config

import (
	"errors"
	"fmt"
	"loyalty-app/internal/logger"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Supported chat providers
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
	ProviderDialogflow = "dialogflow"
)

// Supported server stores
const (
	StoreMongo    = "mongo"
	StorePostgres = "postgres"
)

// AppConfig holds all application configuration
type AppConfig struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	AI         AIConfig         `mapstructure:"ai"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Dialogflow DialogflowConfig `mapstructure:"dialogflow"`
	LIFF       LIFFConfig       `mapstructure:"liff"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Validation ValidationConfig `mapstructure:"validation"`
	Client     ClientConfig     `mapstructure:"client"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Store selects the backing database: "mongo" or "postgres"
	Store string `mapstructure:"store"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           string `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AIConfig holds provider-independent chat settings
type AIConfig struct {
	Provider     string  `mapstructure:"provider"`
	SystemPrompt string  `mapstructure:"system_prompt"`
	Temperature  float64 `mapstructure:"temperature"`
	MaxTokens    int     `mapstructure:"max_tokens"`
	// HistoryLimit caps how many trailing messages are forwarded to the provider
	HistoryLimit int `mapstructure:"history_limit"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type DialogflowConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	LanguageCode    string `mapstructure:"language_code"`
	CredentialsFile string `mapstructure:"credentials_file"`
	// Endpoint overrides the API root, used against emulators
	Endpoint string `mapstructure:"endpoint"`
}

// LIFFConfig holds LINE ID token verification settings
type LIFFConfig struct {
	ChannelID     string        `mapstructure:"channel_id"`
	ChannelSecret string        `mapstructure:"channel_secret"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`
	// RequireAuthForChat rejects anonymous chat requests
	RequireAuthForChat bool `mapstructure:"require_auth_for_chat"`
}

type AdminConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
}

type KnowledgeConfig struct {
	MaxResults int    `mapstructure:"max_results"`
	SeedPath   string `mapstructure:"seed_path"`
}

type ValidationConfig struct {
	MaxMessageLength int `mapstructure:"max_message_length"`
	MaxMessages      int `mapstructure:"max_messages"`
}

// ClientConfig holds settings for the terminal chat client
type ClientConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	HealthURL       string        `mapstructure:"health_url"`
	IDToken         string        `mapstructure:"id_token"`
	StorePath       string        `mapstructure:"store_path"`
	StoreQuotaBytes int           `mapstructure:"store_quota_bytes"`
	RedisURL        string        `mapstructure:"redis_url"`
	RedisTTL        time.Duration `mapstructure:"redis_ttl"`
	ProbeInterval   time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout"`
	MaxQueueRetries int           `mapstructure:"max_queue_retries"`
	PruneKeep       int           `mapstructure:"prune_keep"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.store", StoreMongo)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.host", "postgres")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "loyalty")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "loyalty")
	v.SetDefault("mongo.timeout", 10*time.Second)

	v.SetDefault("ai.provider", ProviderOpenAI)
	v.SetDefault("ai.system_prompt", defaultSystemPrompt)
	v.SetDefault("ai.temperature", 0.7)
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.history_limit", 20)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")

	v.SetDefault("openrouter.api_key", "")
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.base_url", "")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("dialogflow.project_id", "")
	v.SetDefault("dialogflow.language_code", "th")
	v.SetDefault("dialogflow.credentials_file", "")
	v.SetDefault("dialogflow.endpoint", "")

	v.SetDefault("liff.channel_id", "")
	v.SetDefault("liff.channel_secret", "")
	v.SetDefault("liff.issuer", "https://access.line.me")
	v.SetDefault("liff.leeway", 30*time.Second)
	v.SetDefault("liff.require_auth_for_chat", false)

	v.SetDefault("admin.username", "admin")
	v.SetDefault("admin.password_hash", "")

	v.SetDefault("knowledge.max_results", 3)
	v.SetDefault("knowledge.seed_path", "seed.json")

	v.SetDefault("validation.max_message_length", 4000)
	v.SetDefault("validation.max_messages", 50)

	v.SetDefault("client.endpoint", "http://localhost:8080/api/chat")
	v.SetDefault("client.health_url", "http://localhost:8080/api/health")
	v.SetDefault("client.id_token", "")
	v.SetDefault("client.store_path", defaultStorePath())
	v.SetDefault("client.store_quota_bytes", 5*1024*1024)
	v.SetDefault("client.redis_url", "")
	v.SetDefault("client.redis_ttl", 30*24*time.Hour)
	v.SetDefault("client.probe_interval", 30*time.Second)
	v.SetDefault("client.probe_timeout", 5*time.Second)
	v.SetDefault("client.max_retries", 3)
	v.SetDefault("client.base_delay", time.Second)
	v.SetDefault("client.attempt_timeout", 30*time.Second)
	v.SetDefault("client.max_queue_retries", 3)
	v.SetDefault("client.prune_keep", 10)
}

// LoadConfig loads configuration from defaults, an optional YAML file at path and the environment.
// Environment variables use the upper-cased key with dots replaced by underscores, e.g. OPENAI_API_KEY.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
			logger.Log.WithField("path", path).Warn("Config file not found, using defaults and environment")
		}
	}

	config := &AppConfig{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks settings that would otherwise fail late at request time
func (c *AppConfig) Validate() error {
	switch c.AI.Provider {
	case ProviderOpenAI, ProviderOpenRouter, ProviderGemini, ProviderDialogflow:
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	switch c.Server.Store {
	case StoreMongo, StorePostgres:
	default:
		return fmt.Errorf("unknown server.store %q", c.Server.Store)
	}

	if c.Validation.MaxMessageLength <= 0 {
		return fmt.Errorf("validation.max_message_length must be positive")
	}

	if c.LIFF.ChannelSecret == "" {
		logger.Log.Warn("LIFF_CHANNEL_SECRET not set, LIFF-authenticated endpoints will reject every request")
	}
	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "liffchat.db"
	}
	return filepath.Join(dir, "liffchat", "history.db")
}

const defaultSystemPrompt = `You are the customer assistant of a LINE loyalty program.
Answer questions about earning and redeeming points, rewards and products.
Use the reference information when it is relevant. If you do not know the answer, say so and suggest contacting staff.
Reply in the language of the customer.`
