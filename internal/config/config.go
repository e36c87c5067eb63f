// Package config loads the process's runtime options via spf13/viper,
// bound to spf13/cobra persistent flags the way cmd/divinesense/main.go
// binds its server flags.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Weights holds the caller-configurable weighted-cosine coefficients
// applied to the category/content/combined embeddings. They are
// expected to sum to 1.
type Weights struct {
	Category float64
	Content  float64
	Combined float64
}

// Config is the fully resolved process configuration.
type Config struct {
	LLMExecutablePath string
	LLMModelPath      string
	LLMIdleTimeout    time.Duration

	PoolMaxInstances int
	PoolTimeout      time.Duration

	EmbeddingDimension int
	EmbeddingProvider  string // "openai" | "static"
	EmbeddingBaseURL   string
	EmbeddingAPIKey    string
	EmbeddingModel     string

	StoreDriver           string // "sqlite" | "postgres"
	StoreConnectionString string
	StoreActiveCollection string

	RAGTopK     int
	RAGMinScore float64
	RAGWeights  Weights

	LogLevel  string
	LogFormat string // "text" | "json"

	MetricsAddr string // empty disables the Prometheus /metrics endpoint
}

// Validate enforces the required fields and value ranges.
func (c *Config) Validate() error {
	if c.LLMExecutablePath == "" {
		return errors.New("llm.executable_path is required")
	}
	if c.LLMModelPath == "" {
		return errors.New("llm.model_path is required")
	}
	if c.PoolMaxInstances < 1 {
		return errors.Errorf("pool.max_instances must be >= 1, got %d", c.PoolMaxInstances)
	}
	if c.EmbeddingDimension < 1 {
		return errors.Errorf("embedding.dimension must be >= 1, got %d", c.EmbeddingDimension)
	}
	sum := c.RAGWeights.Category + c.RAGWeights.Content + c.RAGWeights.Combined
	if sum < 0.999 || sum > 1.001 {
		return errors.Errorf("rag.weights must sum to 1, got %.4f", sum)
	}
	return nil
}

// BindFlags registers the persistent flags recognized by ragd and binds
// them into the provided viper instance, mirroring the
// rootCmd.PersistentFlags()/viper.BindPFlag pairing in
// cmd/divinesense/main.go.
func BindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()

	flags.String("llm-executable-path", "", "path to the LLM CLI executable (required)")
	flags.String("llm-model-path", "", "path to the LLM model weights (required)")
	flags.Duration("llm-idle-timeout", 3*time.Second, "idle window after first assistant output")

	flags.Int("pool-max-instances", 3, "worker pool capacity")
	flags.Duration("pool-timeout", 30*time.Second, "per-query absolute deadline")

	flags.Int("embedding-dimension", 768, "embedding vector dimension")
	flags.String("embedding-provider", "static", "embedding provider: openai or static")
	flags.String("embedding-base-url", "", "base URL for an OpenAI-compatible embedding endpoint")
	flags.String("embedding-api-key", "", "API key for the embedding endpoint")
	flags.String("embedding-model", "", "embedding model name")

	flags.String("store-driver", "sqlite", "fragment store driver: sqlite or postgres")
	flags.String("store-connection-string", "ragd.db", "store connection string / DSN")
	flags.String("store-active-collection", "default", "default collection tag")

	flags.Int("rag-top-k", 5, "number of fragments to retrieve (loaded into the config; ask always retrieves 5)")
	flags.Float64("rag-min-score", 0.6, "minimum weighted-cosine score to retain a hit (loaded into the config; ask always uses 0.6)")
	flags.Float64("rag-weight-category", 0.40, "weight of the category embedding (validated; ask always uses 0.40)")
	flags.Float64("rag-weight-content", 0.30, "weight of the content embedding (validated; ask always uses 0.30)")
	flags.Float64("rag-weight-combined", 0.30, "weight of the combined embedding (validated; ask always uses 0.30)")

	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")

	flags.String("metrics-addr", "", "address to serve Prometheus /metrics on (empty disables it)")

	names := []string{
		"llm-executable-path", "llm-model-path", "llm-idle-timeout",
		"pool-max-instances", "pool-timeout",
		"embedding-dimension", "embedding-provider", "embedding-base-url", "embedding-api-key", "embedding-model",
		"store-driver", "store-connection-string", "store-active-collection",
		"rag-top-k", "rag-min-score", "rag-weight-category", "rag-weight-content", "rag-weight-combined",
		"log-level", "log-format", "metrics-addr",
	}
	for _, name := range names {
		if err := v.BindPFlag(name, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %q", name)
		}
	}

	v.SetEnvPrefix("ragd")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	return nil
}

// Load resolves a Config from the bound viper instance.
func Load(v *viper.Viper) *Config {
	return &Config{
		LLMExecutablePath: v.GetString("llm-executable-path"),
		LLMModelPath:      v.GetString("llm-model-path"),
		LLMIdleTimeout:    v.GetDuration("llm-idle-timeout"),

		PoolMaxInstances: v.GetInt("pool-max-instances"),
		PoolTimeout:      v.GetDuration("pool-timeout"),

		EmbeddingDimension: v.GetInt("embedding-dimension"),
		EmbeddingProvider:  v.GetString("embedding-provider"),
		EmbeddingBaseURL:   v.GetString("embedding-base-url"),
		EmbeddingAPIKey:    v.GetString("embedding-api-key"),
		EmbeddingModel:     v.GetString("embedding-model"),

		StoreDriver:           v.GetString("store-driver"),
		StoreConnectionString: v.GetString("store-connection-string"),
		StoreActiveCollection: v.GetString("store-active-collection"),

		RAGTopK:     v.GetInt("rag-top-k"),
		RAGMinScore: v.GetFloat64("rag-min-score"),
		RAGWeights: Weights{
			Category: v.GetFloat64("rag-weight-category"),
			Content:  v.GetFloat64("rag-weight-content"),
			Combined: v.GetFloat64("rag-weight-combined"),
		},

		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),

		MetricsAddr: v.GetString("metrics-addr"),
	}
}
