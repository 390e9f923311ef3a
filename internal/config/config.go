package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// EnvPrefix is the prefix of every environment variable read by New.
const EnvPrefix = "CHAT_MEMORY"

// Config holds the configuration for the chat memory service
// Environment variables are automatically parsed from CHAT_MEMORY_ prefix
type Config struct {
	// Build target selects high-level environment: local, cloud-dev, cloud
	BuildTarget string `envconfig:"BUILD_TARGET" default:"local"`

	// Derived or override drivers
	DBDriver    string `envconfig:"DB_DRIVER" default:"auto"`
	VectorStore string `envconfig:"VECTOR_STORE" default:"auto"`

	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string      `envconfig:"LOG_LEVEL" default:"info"`

	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	PostgresDSN string `envconfig:"POSTGRES_DSN" default:""`
	SQLitePath  string `envconfig:"SQLITE_PATH" default:"data/chat.db"`

	// Embedding configuration
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	EmbedAPIKey   string `envconfig:"EMBED_API_KEY" default:""`
	OllamaURL     string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	WeaviateURL string `envconfig:"WEAVIATE_URL" default:"localhost:8082"`

	// Memory behaviour
	MemoryEnabled   bool    `envconfig:"MEMORY_ENABLED" default:"true"`
	RecallCount     int     `envconfig:"RECALL_COUNT" default:"4"`
	RecallThreshold float64 `envconfig:"RECALL_THRESHOLD" default:"0.7"`
	PruneThreshold  int     `envconfig:"PRUNE_THRESHOLD" default:"20"`
	KeepRecent      int     `envconfig:"KEEP_RECENT" default:"10"`
	PruneFetchLimit int     `envconfig:"PRUNE_FETCH_LIMIT" default:"100"`

	// Summaries are produced with a service-owned key, independent of the caller's key.
	SummaryProvider string `envconfig:"SUMMARY_PROVIDER" default:"OpenAI"`
	SummaryModel    string `envconfig:"SUMMARY_MODEL" default:""`
	SummaryAPIKey   string `envconfig:"SUMMARY_API_KEY" default:""`
	// Upper bound on one summarization call
	SummaryTimeoutSeconds int `envconfig:"SUMMARY_TIMEOUT_SECONDS" default:"60"`

	// Optional YAML rate overrides merged into the built-in pricing table
	PricingFile string `envconfig:"PRICING_FILE" default:""`

	// Turn defaults
	Temperature float64 `envconfig:"TEMPERATURE" default:"0.7"`
	MaxTokens   int     `envconfig:"MAX_TOKENS" default:"1000"`

	// Outbox (postgres -> weaviate)
	OutboxEnabled        bool `envconfig:"OUTBOX_ENABLED" default:"false"`
	OutboxBatchSize      int  `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`
	OutboxIntervalMillis int  `envconfig:"OUTBOX_INTERVAL_MILLIS" default:"2000"`

	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"mycelian_chat"`

	BootstrapTimeoutSeconds   int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"5"`
	HealthIntervalSeconds     int `envconfig:"HEALTH_INTERVAL_SECONDS" default:"30"`
	HealthProbeTimeoutSeconds int `envconfig:"HEALTH_PROBE_TIMEOUT_SECONDS" default:"2"`
}

// ResolveDefaults validates BuildTarget and derives DBDriver and VectorStore when set to "auto" or empty.
func (c *Config) ResolveDefaults() error {
	var defaultDB, defaultVector string

	switch c.BuildTarget {
	case "local":
		defaultDB, defaultVector = "sqlite", "store"
	case "cloud-dev", "cloud":
		defaultDB, defaultVector = "postgres", "weaviate"
	default:
		return fmt.Errorf("unsupported BUILD_TARGET: %s", c.BuildTarget)
	}

	if c.DBDriver == "" || c.DBDriver == "auto" {
		c.DBDriver = defaultDB
	}
	if c.VectorStore == "" || c.VectorStore == "auto" {
		c.VectorStore = defaultVector
	}

	allowedDB := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !allowedDB[c.DBDriver] {
		return fmt.Errorf("unsupported DB_DRIVER: %s", c.DBDriver)
	}
	allowedVector := map[string]bool{"store": true, "weaviate": true}
	if !allowedVector[c.VectorStore] {
		return fmt.Errorf("unsupported VECTOR_STORE: %s", c.VectorStore)
	}
	if c.OutboxEnabled && c.DBDriver != "postgres" {
		return fmt.Errorf("OUTBOX_ENABLED requires DB_DRIVER=postgres, got %s", c.DBDriver)
	}
	if c.RecallThreshold < 0 || c.RecallThreshold > 1 {
		return fmt.Errorf("RECALL_THRESHOLD must be within [0,1], got %v", c.RecallThreshold)
	}
	if c.KeepRecent <= 0 || c.PruneThreshold <= c.KeepRecent {
		return fmt.Errorf("PRUNE_THRESHOLD (%d) must exceed KEEP_RECENT (%d) > 0", c.PruneThreshold, c.KeepRecent)
	}
	if c.PruneFetchLimit < c.PruneThreshold {
		return fmt.Errorf("PRUNE_FETCH_LIMIT (%d) must be >= PRUNE_THRESHOLD (%d)", c.PruneFetchLimit, c.PruneThreshold)
	}
	return nil
}

// New creates a new Config by parsing environment variables
// Environment variables should be prefixed with CHAT_MEMORY_
// Example: CHAT_MEMORY_DB_DRIVER, CHAT_MEMORY_HTTP_PORT
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("vector_store", cfg.VectorStore).
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Bool("memory_enabled", cfg.MemoryEnabled).
		Int("prune_threshold", cfg.PruneThreshold).
		Int("keep_recent", cfg.KeepRecent).
		Str("postgres_dsn_present", func() string {
			if cfg.PostgresDSN != "" {
				return "true"
			}
			return "false"
		}()).
		Str("weaviate_url", cfg.WeaviateURL).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config specifically for testing
func NewForTesting() *Config {
	cfg := &Config{
		Environment: EnvTesting,
		LogLevel:    "debug",
		BuildTarget: "local",
		DBDriver:    "memory",
		VectorStore: "store",
		HTTPPort:    8080,
		SQLitePath:  "data/chat-test.db",

		EmbedProvider: "hash",
		EmbedModel:    "hash-256",
		OllamaURL:     "http://localhost:11434",
		WeaviateURL:   "localhost:8082",

		MemoryEnabled:   true,
		RecallCount:     4,
		RecallThreshold: 0.7,
		PruneThreshold:  20,
		KeepRecent:      10,
		PruneFetchLimit: 100,

		SummaryProvider:       "OpenAI",
		SummaryTimeoutSeconds: 60,
		Temperature:           0.7,
		MaxTokens:             1000,

		OutboxBatchSize:      100,
		OutboxIntervalMillis: 2000,
		MetricsNamespace:     "mycelian_chat_test",

		BootstrapTimeoutSeconds:   5,
		HealthIntervalSeconds:     30,
		HealthProbeTimeoutSeconds: 2,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// OutboxInterval returns the outbox poll interval.
func (c *Config) OutboxInterval() time.Duration {
	return time.Duration(c.OutboxIntervalMillis) * time.Millisecond
}
