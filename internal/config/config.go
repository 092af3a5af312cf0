package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultKeywords is the keyword list used when none is configured
var DefaultKeywords = []string{
	"machine learning", "deep learning", "artificial intelligence",
	"data science", "neural network", "computer vision", "nlp",
	"natural language processing", "reinforcement learning", "ai",
}

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string
	GitHubAPIURL string // empty means api.github.com
	MaxAttempts  int
	MinInterval  time.Duration
	RateCooldown time.Duration
	BackoffBase  time.Duration

	// Collection
	Keywords        []string
	Qualifier       string
	MinStars        int
	PageSize        int
	MaxResults      int
	MaxContributors int
	EnrichLimit     int
	EnrichWorkers   int

	// Checkpoint
	CheckpointPath          string
	CheckpointFlushInterval time.Duration

	// Storage
	DataDir     string
	SinkType    string // "csv", "sqlite" or "postgres"
	SQLitePath  string
	PostgresURL string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string

	LogLevel string
}

// Load loads the configuration from .env, an optional config file and the environment.
// Environment variables take precedence over the config file.
func Load(configFile string) (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	return &Config{
		GitHubToken:  v.GetString("github_token"),
		GitHubAPIURL: v.GetString("github_api_url"),
		MaxAttempts:  v.GetInt("api_max_attempts"),
		MinInterval:  v.GetDuration("api_min_interval"),
		RateCooldown: v.GetDuration("rate_limit_cooldown"),
		BackoffBase:  v.GetDuration("api_backoff_base"),

		Keywords:        keywords(v),
		Qualifier:       v.GetString("collect_qualifier"),
		MinStars:        v.GetInt("collect_min_stars"),
		PageSize:        v.GetInt("collect_page_size"),
		MaxResults:      v.GetInt("collect_max_results"),
		MaxContributors: v.GetInt("collect_max_contributors"),
		EnrichLimit:     v.GetInt("collect_enrich_limit"),
		EnrichWorkers:   v.GetInt("collect_enrich_workers"),

		CheckpointPath:          v.GetString("checkpoint_path"),
		CheckpointFlushInterval: v.GetDuration("checkpoint_flush_interval"),

		DataDir:     v.GetString("data_dir"),
		SinkType:    v.GetString("sink_type"),
		SQLitePath:  v.GetString("sqlite_path"),
		PostgresURL: v.GetString("postgres_url"),

		APIPort:     v.GetString("api_port"),
		APIHost:     v.GetString("api_host"),
		APIEndpoint: v.GetString("api_endpoint"),

		LogLevel: v.GetString("log_level"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("github_token", "")
	v.SetDefault("github_api_url", "")
	v.SetDefault("api_max_attempts", 3)
	v.SetDefault("api_min_interval", 100*time.Millisecond)
	v.SetDefault("rate_limit_cooldown", time.Minute)
	v.SetDefault("api_backoff_base", 2*time.Second)

	v.SetDefault("collect_keywords", "")
	v.SetDefault("collect_qualifier", "in:description")
	v.SetDefault("collect_min_stars", 100)
	v.SetDefault("collect_page_size", 100)
	v.SetDefault("collect_max_results", 1000)
	v.SetDefault("collect_max_contributors", 100)
	v.SetDefault("collect_enrich_limit", 100)
	v.SetDefault("collect_enrich_workers", 4)

	v.SetDefault("checkpoint_path", "./checkpoints/collector_checkpoint.json")
	v.SetDefault("checkpoint_flush_interval", 30*time.Second)

	v.SetDefault("data_dir", "./github_data")
	v.SetDefault("sink_type", "csv")
	v.SetDefault("sqlite_path", "./github_data/collector.db")
	v.SetDefault("postgres_url", "")

	v.SetDefault("api_port", "8080")
	v.SetDefault("api_host", "localhost")
	v.SetDefault("api_endpoint", "http://localhost:8080")

	v.SetDefault("log_level", "info")
}

// keywords accepts either a YAML list or a comma separated string.
// Keywords may contain spaces, so viper's whitespace splitting is not used.
func keywords(v *viper.Viper) []string {
	var raw []string
	switch val := v.Get("collect_keywords").(type) {
	case string:
		raw = strings.Split(val, ",")
	case []string:
		raw = val
	default:
		raw = v.GetStringSlice("collect_keywords")
	}

	var out []string
	seen := make(map[string]bool)
	for _, kw := range raw {
		kw = strings.TrimSpace(kw)
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	if len(out) == 0 {
		return append([]string(nil), DefaultKeywords...)
	}
	return out
}

// Validate validates the configuration needed to collect
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return &ConfigError{Field: "GITHUB_TOKEN", Message: "GitHub token is required"}
	}
	if len(c.Keywords) == 0 {
		return &ConfigError{Field: "COLLECT_KEYWORDS", Message: "at least one keyword is required"}
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return &ConfigError{Field: "COLLECT_PAGE_SIZE", Message: "must be between 1 and 100"}
	}
	if c.MaxResults < c.PageSize {
		return &ConfigError{Field: "COLLECT_MAX_RESULTS", Message: "must be at least the page size"}
	}
	if c.EnrichLimit < 0 {
		return &ConfigError{Field: "COLLECT_ENRICH_LIMIT", Message: "must not be negative"}
	}
	if c.EnrichWorkers < 1 {
		return &ConfigError{Field: "COLLECT_ENRICH_WORKERS", Message: "must be at least 1"}
	}
	if c.MaxAttempts < 1 {
		return &ConfigError{Field: "API_MAX_ATTEMPTS", Message: "must be at least 1"}
	}
	if c.CheckpointFlushInterval <= 0 {
		return &ConfigError{Field: "CHECKPOINT_FLUSH_INTERVAL", Message: "must be positive"}
	}
	if c.CheckpointPath == "" {
		return &ConfigError{Field: "CHECKPOINT_PATH", Message: "checkpoint path is required"}
	}
	switch c.SinkType {
	case "csv":
		if c.DataDir == "" {
			return &ConfigError{Field: "DATA_DIR", Message: "data directory is required when SINK_TYPE is 'csv'"}
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return &ConfigError{Field: "SQLITE_PATH", Message: "SQLite path is required when SINK_TYPE is 'sqlite'"}
		}
	case "postgres":
		if c.PostgresURL == "" {
			return &ConfigError{Field: "POSTGRES_URL", Message: "PostgreSQL URL is required when SINK_TYPE is 'postgres'"}
		}
	default:
		return &ConfigError{Field: "SINK_TYPE", Message: "must be 'csv', 'sqlite' or 'postgres'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
