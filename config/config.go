// Package config loads engine configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level engine configuration.
type Config struct {
	// Chunking
	ChunkTokenBudget int `mapstructure:"chunk_token_budget"`
	ChunkOverlap     int `mapstructure:"chunk_overlap"`

	// Extraction
	ModelName         string  `mapstructure:"model_name"`
	ModelBaseURL      string  `mapstructure:"model_base_url"`
	ModelAPIKey       string  `mapstructure:"model_api_key"`
	ExtractionRetries int     `mapstructure:"extraction_retries"`
	EmbeddingModel    string  `mapstructure:"embedding_model"`
	EmbeddingBaseURL  string  `mapstructure:"embedding_base_url"`
	EmbedConcurrency  int     `mapstructure:"embed_concurrency"`
	SimilarityCutoff  float64 `mapstructure:"similarity_cutoff"`

	// Stores
	GraphURL  string `mapstructure:"graph_url"`
	VectorURL string `mapstructure:"vector_url"`
	RedisAddr string `mapstructure:"redis_addr"`
	RedisDB   int    `mapstructure:"redis_db"`

	// Cache and sessions
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	CheckpointMaxAge time.Duration `mapstructure:"checkpoint_max_age"`
	PruneSchedule    string        `mapstructure:"prune_schedule"`

	// Sources
	DownloadDir string `mapstructure:"download_dir"`
	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`

	// Query
	DefaultTopK     int `mapstructure:"default_top_k"`
	TraversalDepth  int `mapstructure:"traversal_depth"`
	TraversalFanout int `mapstructure:"traversal_fanout"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		ChunkTokenBudget:  512,
		ChunkOverlap:      64,
		ModelName:         "gpt-4o-mini",
		ExtractionRetries: 3,
		EmbeddingModel:    "text-embedding-3-small",
		EmbedConcurrency:  4,
		SimilarityCutoff:  0.85,
		GraphURL:          "memory://",
		VectorURL:         "memory://",
		CacheTTL:          15 * time.Minute,
		CheckpointMaxAge:  24 * time.Hour,
		PruneSchedule:     "@every 10m",
		DownloadDir:       "downloads",
		DefaultTopK:       5,
		TraversalDepth:    2,
		TraversalFanout:   16,
	}
}

// Load reads configuration from path (optional) and the KGRAPH_* environment,
// layered over Default.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("kgraph")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("chunk_token_budget", cfg.ChunkTokenBudget)
	v.SetDefault("chunk_overlap", cfg.ChunkOverlap)
	v.SetDefault("model_name", cfg.ModelName)
	v.SetDefault("extraction_retries", cfg.ExtractionRetries)
	v.SetDefault("embedding_model", cfg.EmbeddingModel)
	v.SetDefault("embed_concurrency", cfg.EmbedConcurrency)
	v.SetDefault("similarity_cutoff", cfg.SimilarityCutoff)
	v.SetDefault("graph_url", cfg.GraphURL)
	v.SetDefault("vector_url", cfg.VectorURL)
	v.SetDefault("cache_ttl", cfg.CacheTTL)
	v.SetDefault("checkpoint_max_age", cfg.CheckpointMaxAge)
	v.SetDefault("prune_schedule", cfg.PruneSchedule)
	v.SetDefault("download_dir", cfg.DownloadDir)
	v.SetDefault("default_top_k", cfg.DefaultTopK)
	v.SetDefault("traversal_depth", cfg.TraversalDepth)
	v.SetDefault("traversal_fanout", cfg.TraversalFanout)
}
