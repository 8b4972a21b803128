// Package config loads the runtime's configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level configuration surface for the core runtime.
type Config struct {
	Workspace string          `env:"WORKSPACE" envDefault:"./workspace"`
	Memory    MemoryConfig    `envPrefix:"MEMORY_"`
	HTTP      HTTPConfig      `envPrefix:"HTTP_"`
	Anthropic AnthropicConfig `envPrefix:"ANTHROPIC_"`
	OpenAI    OpenAIConfig    `envPrefix:"OPENAI_"`
}

// AnthropicConfig configures the Claude LLM provider.
type AnthropicConfig struct {
	APIKey string `env:"API_KEY"`
}

// OpenAIConfig configures the optional OpenAI-compatible fallback provider.
// Left with an empty APIKey, no fallback provider is constructed and the
// Claude provider is used alone.
type OpenAIConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL"`
	Model   string `env:"MODEL" envDefault:"gpt-4o"`
}

// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests before the process exits anyway.
func (c *Config) ShutdownTimeout() time.Duration {
	return 10 * time.Second
}

// MemoryConfig selects and configures the memory backend.
type MemoryConfig struct {
	Backend             string          `env:"BACKEND" envDefault:"file"`
	Postgres            PostgresConfig  `envPrefix:"POSTGRES_"`
	Embedding           EmbeddingConfig `envPrefix:"EMBEDDING_"`
	SemanticSearchLimit int             `env:"SEMANTIC_SEARCH_LIMIT" envDefault:"10"`
	AutoIngest          bool            `env:"AUTO_INGEST" envDefault:"true"`
}

// PostgresConfig configures the relational memory store's connection pool.
type PostgresConfig struct {
	DSN         string `env:"DSN"`
	PoolMinSize int32  `env:"POOL_MIN_SIZE" envDefault:"2"`
	PoolMaxSize int32  `env:"POOL_MAX_SIZE" envDefault:"10"`
}

// EmbeddingConfig configures the embedding service adapter.
type EmbeddingConfig struct {
	Model      string `env:"MODEL" envDefault:"text-embedding-3-small"`
	Dimensions int    `env:"DIMENSIONS" envDefault:"1536"`
	BaseURL    string `env:"BASE_URL" envDefault:"https://api.openai.com/v1"`
	Key        string `env:"KEY"`
}

// HTTPConfig configures the OpenAI-compatible HTTP gateway channel.
type HTTPConfig struct {
	Host      string   `env:"HOST" envDefault:"0.0.0.0"`
	Port      int      `env:"PORT" envDefault:"8080"`
	APIKeys   []string `env:"API_KEYS" envSeparator:","`
	Timeout   int      `env:"TIMEOUT_SECONDS" envDefault:"30"`
	ModelName string   `env:"MODEL_NAME" envDefault:"gpt-4o"`
}

// Load parses configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
