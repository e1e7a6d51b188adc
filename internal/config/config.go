// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Riot     RiotConfig     `mapstructure:"riot"`
	DB       DBConfig       `mapstructure:"db"`
	Server   ServerConfig   `mapstructure:"server"`
	Features FeaturesConfig `mapstructure:"features"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CrawlConfig governs the discovery/fetch loop.
type CrawlConfig struct {
	Seeds            []string      `mapstructure:"seeds"`
	SeedTiers        []string      `mapstructure:"seed_tiers"`
	Region           string        `mapstructure:"region"`
	RoutingRegion    string        `mapstructure:"routing_region"`
	WindowDays       int           `mapstructure:"window_days"`
	MaxMatches       int           `mapstructure:"max_matches"`
	Deadline         time.Duration `mapstructure:"deadline"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BaseBackoff      time.Duration `mapstructure:"base_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	BatchSize        int           `mapstructure:"batch_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	ClaimTimeout     time.Duration `mapstructure:"claim_timeout"`
	QueueID          int           `mapstructure:"queue_id"`
	MatchesPerPlayer int           `mapstructure:"matches_per_player"`
}

// RiotConfig configures the remote API client.
type RiotConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// DBConfig controls access to the relational database. The sentinel DSN
// "memory" selects the in-memory repository.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ServerConfig controls the metrics/health listener. Port 0 disables it.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// FeaturesConfig sets the dataset output location.
type FeaturesConfig struct {
	Output string `mapstructure:"output"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MATCHFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawl.seed_tiers", []string{"challenger", "grandmaster", "master"})
	v.SetDefault("crawl.region", "euw1")
	v.SetDefault("crawl.routing_region", "europe")
	v.SetDefault("crawl.window_days", 7)
	v.SetDefault("crawl.max_matches", 5000)
	v.SetDefault("crawl.deadline", "72h")
	v.SetDefault("crawl.max_attempts", 3)
	v.SetDefault("crawl.base_backoff", "500ms")
	v.SetDefault("crawl.max_backoff", "30s")
	v.SetDefault("crawl.batch_size", 10)
	v.SetDefault("crawl.concurrency", 4)
	v.SetDefault("crawl.claim_timeout", "5m")
	v.SetDefault("crawl.queue_id", 420)
	v.SetDefault("crawl.matches_per_player", 10)
	v.SetDefault("riot.requests_per_second", 4)
	v.SetDefault("riot.burst", 2)
	v.SetDefault("riot.timeout", "10s")
	v.SetDefault("db.dsn", "memory")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("server.port", 9090)
	v.SetDefault("features.output", "data/features.csv")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.Region == "" || c.Crawl.RoutingRegion == "" {
		return fmt.Errorf("crawl.region and crawl.routing_region must be set")
	}
	if c.Crawl.MaxMatches <= 0 {
		return fmt.Errorf("crawl.max_matches must be > 0")
	}
	if c.Crawl.Deadline <= 0 {
		return fmt.Errorf("crawl.deadline must be > 0")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be > 0")
	}
	if c.Crawl.BaseBackoff <= 0 || c.Crawl.MaxBackoff < c.Crawl.BaseBackoff {
		return fmt.Errorf("crawl backoff bounds are invalid")
	}
	if c.Crawl.BatchSize <= 0 {
		return fmt.Errorf("crawl.batch_size must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.ClaimTimeout <= 0 {
		return fmt.Errorf("crawl.claim_timeout must be > 0")
	}
	if c.Riot.RequestsPerSecond <= 0 {
		return fmt.Errorf("riot.requests_per_second must be > 0")
	}
	if c.Riot.Timeout <= 0 {
		return fmt.Errorf("riot.timeout must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	return nil
}

// Window converts the configured recency window into a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.Crawl.WindowDays) * 24 * time.Hour
}
