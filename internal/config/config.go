// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Embedding model configuration
	ML MLConfig `yaml:"ml"`

	// Per-record embedding fan-out
	Embed EmbedConfig `yaml:"embed"`

	// Feature cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Scorer configuration
	Forest ForestConfig `yaml:"forest"`

	// HTTP classify surface
	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// MLConfig holds embedding provider settings.
type MLConfig struct {
	Provider          string  `envconfig:"MCQA_EMBED_PROVIDER" yaml:"provider"`
	Model             string  `envconfig:"MCQA_EMBED_MODEL" yaml:"model"`
	EmbedDim          int     `envconfig:"MCQA_EMBED_DIM" yaml:"embed_dim"`
	BaseURL           string  `envconfig:"MCQA_EMBED_URL" yaml:"base_url"`
	APIKey            string  `envconfig:"MCQA_EMBED_API_KEY" yaml:"api_key"`
	RequestsPerSecond float64 `envconfig:"MCQA_EMBED_RPS" yaml:"requests_per_second"` // 0 = unlimited
	TimeoutSeconds    int     `envconfig:"MCQA_EMBED_TIMEOUT" yaml:"timeout_seconds"`
	TextCacheSize     int     `envconfig:"MCQA_TEXT_CACHE_SIZE" yaml:"text_cache_size"`
}

// EmbedConfig holds settings for computing split embeddings.
type EmbedConfig struct {
	Workers       int `envconfig:"MCQA_EMBED_WORKERS" yaml:"workers"`
	ProgressEvery int `envconfig:"MCQA_EMBED_PROGRESS_EVERY" yaml:"progress_every"`
}

// CacheConfig holds feature cache settings.
type CacheConfig struct {
	Type        string `envconfig:"MCQA_CACHE_TYPE" yaml:"type"`
	Dir         string `envconfig:"MCQA_CACHE_DIR" yaml:"dir"`
	RedisURL    string `envconfig:"MCQA_REDIS_URL" yaml:"redis_url"`
	TTL         int    `envconfig:"MCQA_CACHE_TTL" yaml:"ttl"` // seconds, 0 = no expiry
	S3Bucket    string `envconfig:"MCQA_S3_BUCKET" yaml:"s3_bucket"`
	S3Prefix    string `envconfig:"MCQA_S3_PREFIX" yaml:"s3_prefix"`
	S3Endpoint  string `envconfig:"MCQA_S3_ENDPOINT" yaml:"s3_endpoint"`
	S3Region    string `envconfig:"MCQA_S3_REGION" yaml:"s3_region"`
	S3AccessKey string `envconfig:"MCQA_S3_ACCESS_KEY" yaml:"s3_access_key"`
	S3SecretKey string `envconfig:"MCQA_S3_SECRET_KEY" yaml:"s3_secret_key"`
}

// ForestConfig holds bagged regression tree settings.
type ForestConfig struct {
	Trees           int    `envconfig:"MCQA_FOREST_TREES" yaml:"trees"`
	MaxDepth        int    `envconfig:"MCQA_FOREST_MAX_DEPTH" yaml:"max_depth"` // 0 = unlimited
	MinSamplesSplit int    `envconfig:"MCQA_FOREST_MIN_SAMPLES_SPLIT" yaml:"min_samples_split"`
	MinSamplesLeaf  int    `envconfig:"MCQA_FOREST_MIN_SAMPLES_LEAF" yaml:"min_samples_leaf"`
	MaxFeatures     string `envconfig:"MCQA_FOREST_MAX_FEATURES" yaml:"max_features"`
	Seed            int64  `envconfig:"MCQA_FOREST_SEED" yaml:"seed"`
	Workers         int    `envconfig:"MCQA_FOREST_WORKERS" yaml:"workers"` // 0 = GOMAXPROCS
}

// ServerConfig holds HTTP settings for the classify endpoint.
type ServerConfig struct {
	Host      string `envconfig:"MCQA_HOST" yaml:"host"`
	Port      int    `envconfig:"MCQA_PORT" yaml:"port"`
	RateLimit int    `envconfig:"MCQA_RATE_LIMIT" yaml:"rate_limit"` // 0 = disabled
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"MCQA_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"MCQA_LOG_FORMAT" yaml:"format"`
	File   string `envconfig:"MCQA_LOG_FILE" yaml:"file"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled      bool   `envconfig:"MCQA_METRICS_ENABLED" yaml:"enabled"`
	TextfilePath string `envconfig:"MCQA_METRICS_TEXTFILE" yaml:"textfile_path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns a validated configuration holding only defaults.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.ML = MLConfig{
		Provider:       "hash",
		Model:          "roberta-large-nli-stsb-mean-tokens",
		EmbedDim:       1024,
		BaseURL:        "http://localhost:11434",
		TimeoutSeconds: 60,
		TextCacheSize:  10000,
	}

	cfg.Embed = EmbedConfig{
		Workers:       4,
		ProgressEvery: 100,
	}

	cfg.Cache = CacheConfig{
		Type:     "file",
		Dir:      "./.mcqa-cache",
		RedisURL: "redis://localhost:6379",
		S3Prefix: "mcqa/features/",
		S3Region: "us-east-1",
	}

	cfg.Forest = ForestConfig{
		Trees:           1000,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     "all",
		Seed:            42,
	}

	cfg.Server = ServerConfig{
		Host: "0.0.0.0",
		Port: 8090,
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Metrics = MetricsConfig{
		Enabled: true,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// ML validation
	validProviders := map[string]bool{"hash": true, "openai": true, "ollama": true}
	if !validProviders[c.ML.Provider] {
		errs = append(errs, fmt.Sprintf("invalid embed provider: %s (must be hash, openai, or ollama)", c.ML.Provider))
	}

	if c.ML.EmbedDim < 1 {
		errs = append(errs, "embed_dim must be positive")
	}

	if c.ML.RequestsPerSecond < 0 {
		errs = append(errs, "requests_per_second must not be negative")
	}

	if c.ML.Provider != "hash" && c.ML.Model == "" {
		errs = append(errs, "model is required for remote embed providers")
	}

	// Embed validation
	if c.Embed.Workers < 1 {
		errs = append(errs, "embed workers must be positive")
	}

	// Cache validation
	validCacheTypes := map[string]bool{"file": true, "redis": true, "s3": true, "none": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be file, redis, s3, or none)", c.Cache.Type))
	}

	if c.Cache.Type == "file" && c.Cache.Dir == "" {
		errs = append(errs, "cache dir is required for file cache")
	}

	if c.Cache.Type == "s3" && c.Cache.S3Bucket == "" {
		errs = append(errs, "s3_bucket is required for s3 cache")
	}

	// Forest validation
	if c.Forest.Trees < 1 {
		errs = append(errs, "forest trees must be positive")
	}

	if c.Forest.MaxDepth < 0 {
		errs = append(errs, "forest max_depth must not be negative")
	}

	if c.Forest.MinSamplesSplit < 2 {
		errs = append(errs, "forest min_samples_split must be at least 2")
	}

	if c.Forest.MinSamplesLeaf < 1 {
		errs = append(errs, "forest min_samples_leaf must be at least 1")
	}

	if !validMaxFeatures(c.Forest.MaxFeatures) {
		errs = append(errs, fmt.Sprintf("invalid max_features: %s (must be sqrt, log2, all, or a positive integer)", c.Forest.MaxFeatures))
	}

	// Server validation
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validMaxFeatures(s string) bool {
	switch s {
	case "sqrt", "log2", "all":
		return true
	}
	n, err := strconv.Atoi(s)
	return err == nil && n > 0
}

// Fields flattens the configuration into dotted keys for logging. Secrets
// are included as-is; mask them before logging.
func (c *Config) Fields() map[string]string {
	return map[string]string{
		"ml.provider":         c.ML.Provider,
		"ml.model":            c.ML.Model,
		"ml.embed_dim":        strconv.Itoa(c.ML.EmbedDim),
		"ml.base_url":         c.ML.BaseURL,
		"ml.api_key":          c.ML.APIKey,
		"embed.workers":       strconv.Itoa(c.Embed.Workers),
		"cache.type":          c.Cache.Type,
		"cache.dir":           c.Cache.Dir,
		"cache.redis_url":     c.Cache.RedisURL,
		"cache.s3_bucket":     c.Cache.S3Bucket,
		"cache.s3_access_key": c.Cache.S3AccessKey,
		"cache.s3_secret_key": c.Cache.S3SecretKey,
		"forest.trees":        strconv.Itoa(c.Forest.Trees),
		"forest.max_depth":    strconv.Itoa(c.Forest.MaxDepth),
		"forest.max_features": c.Forest.MaxFeatures,
		"forest.seed":         strconv.FormatInt(c.Forest.Seed, 10),
		"server.address":      c.Address(),
		"log.level":           c.Log.Level,
		"metrics.enabled":     strconv.FormatBool(c.Metrics.Enabled),
		"metrics.textfile":    c.Metrics.TextfilePath,
	}
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
