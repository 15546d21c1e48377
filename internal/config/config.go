// Package config handles configuration loading for rulegate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"rulegate/internal/archive"
	"rulegate/internal/events"
	"rulegate/internal/generation"
	"rulegate/internal/overlap"
	"rulegate/internal/records"
	"rulegate/internal/sampling"
	"rulegate/internal/suggestion"
)

// Config holds the complete application configuration.
type Config struct {
	Catalog    CatalogConfig     `yaml:"catalog"`
	Postgres   PostgresConfig    `yaml:"postgres"`
	Records    RecordsConfig     `yaml:"records"`
	Generation GenerationConfig  `yaml:"generation"`
	Sampling   sampling.Config   `yaml:"sampling"`
	Overlap    overlap.Config    `yaml:"overlap"`
	Suggestion suggestion.Config `yaml:"suggestion"`
	Audit      AuditConfig       `yaml:"audit"`
	Events     events.Config     `yaml:"events"`
	Archive    archive.Config    `yaml:"archive"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// CatalogConfig points at the feature catalog and policy files. Empty
// paths fall back to the built-in defaults.
type CatalogConfig struct {
	CatalogPath string `yaml:"catalog_path"`
	PolicyPath  string `yaml:"policy_path"`
}

// PostgresConfig holds the governance store connection. An empty DSN
// selects the in-memory stores, which lose state on restart.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// RecordsConfig selects the historical transaction source.
type RecordsConfig struct {
	// Mode is "clickhouse" or "synthetic".
	Mode       string                   `yaml:"mode"`
	ClickHouse records.ClickHouseConfig `yaml:"clickhouse"`
	Synthetic  SyntheticConfig          `yaml:"synthetic"`
}

// SyntheticConfig sizes the generated development dataset.
type SyntheticConfig struct {
	Count int   `yaml:"count"`
	Seed  int64 `yaml:"seed"`
}

// GenerationConfig groups the collaborator client with its cache and
// rate limiter.
type GenerationConfig struct {
	Client generation.ClientConfig `yaml:"client"`

	// CacheBackend is "memory" or "redis".
	CacheBackend string                     `yaml:"cache_backend"`
	Cache        generation.CacheConfig     `yaml:"cache"`
	Redis        generation.RedisConfig     `yaml:"redis"`
	RateLimit    generation.RateLimitConfig `yaml:"rate_limit"`
}

// AuditConfig holds the audit trail settings. An empty secret yields an
// ephemeral signing key, unusable for verification across restarts.
type AuditConfig struct {
	Secret string `yaml:"secret"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Records: RecordsConfig{
			Mode:       "synthetic",
			ClickHouse: records.DefaultClickHouseConfig(),
			Synthetic: SyntheticConfig{
				Count: 20_000,
				Seed:  1,
			},
		},
		Generation: GenerationConfig{
			Client:       generation.DefaultClientConfig(),
			CacheBackend: "memory",
			Cache:        generation.DefaultCacheConfig(),
			RateLimit:    generation.DefaultRateLimitConfig(),
		},
		Sampling:   sampling.DefaultConfig(),
		Overlap:    overlap.DefaultConfig(),
		Suggestion: suggestion.DefaultConfig(),
		Events:     events.DefaultConfig(),
		Archive:    archive.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("RULEGATE_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Secrets and
// endpoints are the values deployments most often inject this way.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("RULEGATE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if dsn := os.Getenv("RULEGATE_POSTGRES_DSN"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	if secret := os.Getenv("RULEGATE_AUDIT_SECRET"); secret != "" {
		c.Audit.Secret = secret
	}

	if url := os.Getenv("RULEGATE_GENERATION_URL"); url != "" {
		c.Generation.Client.BaseURL = url
	}
	if key := os.Getenv("RULEGATE_GENERATION_API_KEY"); key != "" {
		c.Generation.Client.APIKey = key
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Generation.Redis.Addr = addr
		c.Generation.CacheBackend = "redis"
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Records.Mode = "clickhouse"
		c.Records.ClickHouse.Hosts = []string{host}
	}
	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Records.ClickHouse.Database = db
	}
	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Records.ClickHouse.Username = user
	}
	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Records.ClickHouse.Password = pass
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Events.Brokers = splitAndTrim(brokers, ",")
	}
	if bucket := os.Getenv("RULEGATE_S3_BUCKET"); bucket != "" {
		c.Archive.Bucket = bucket
	}

	if size := os.Getenv("RULEGATE_SAMPLE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 {
			c.Suggestion.SampleSize = n
		}
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}

	switch c.Records.Mode {
	case "synthetic":
		if c.Records.Synthetic.Count <= 0 {
			return fmt.Errorf("synthetic record count must be positive, got %d", c.Records.Synthetic.Count)
		}
	case "clickhouse":
		if len(c.Records.ClickHouse.Hosts) == 0 {
			return fmt.Errorf("clickhouse mode requires at least one host")
		}
	default:
		return fmt.Errorf("unknown records mode %q", c.Records.Mode)
	}

	switch c.Generation.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown generation cache backend %q", c.Generation.CacheBackend)
	}
	if c.Generation.Client.BaseURL == "" {
		return fmt.Errorf("generation client base_url is required")
	}

	if c.Suggestion.TTL <= 0 {
		return fmt.Errorf("suggestion ttl must be positive, got %v", c.Suggestion.TTL)
	}
	if c.Suggestion.MinNoteLength < 1 {
		return fmt.Errorf("suggestion min_note_length must be at least 1, got %d", c.Suggestion.MinNoteLength)
	}
	if c.Suggestion.SampleSize <= 0 {
		return fmt.Errorf("suggestion sample_size must be positive, got %d", c.Suggestion.SampleSize)
	}
	if c.Sampling.MaxSize > 0 && c.Suggestion.SampleSize > c.Sampling.MaxSize {
		return fmt.Errorf("suggestion sample_size %d exceeds sampling max_size %d",
			c.Suggestion.SampleSize, c.Sampling.MaxSize)
	}

	if c.Events.Enabled() {
		if err := c.Events.Validate(); err != nil {
			return fmt.Errorf("invalid events config: %w", err)
		}
	}
	if c.Archive.Enabled() {
		if err := c.Archive.Validate(); err != nil {
			return fmt.Errorf("invalid archive config: %w", err)
		}
	}

	return nil
}
