package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// minPollInterval is the floor for the fetch interval. The HN API has no
// contractual rate limit, so the fetcher self-throttles.
const minPollInterval = 30 * time.Second

// Config is the top-level configuration.
type Config struct {
	HN        HNConfig        `yaml:"hn"`
	Providers ProvidersConfig `yaml:"providers"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Search    SearchConfig    `yaml:"search"`
	Store     StoreConfig     `yaml:"store"`
}

// HNConfig holds Hacker News API and fetcher settings.
type HNConfig struct {
	BaseURL             string `yaml:"base_url"`
	Source              string `yaml:"source"` // "new" or "top"
	PollIntervalRaw     string `yaml:"poll_interval"`
	MaxStoriesPerPoll   int    `yaml:"max_stories_per_poll"`
	MaxCommentsPerStory int    `yaml:"max_comments_per_story"`
	MaxCommentDepth     int    `yaml:"max_comment_depth"`
	RequestTimeoutRaw   string `yaml:"request_timeout"`
	SeenPath            string `yaml:"seen_path"`
}

// ProviderConfig holds settings for a single embedding provider.
type ProviderConfig struct {
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// ProvidersConfig groups provider configs.
type ProvidersConfig struct {
	Embedding ProviderConfig `yaml:"embedding"`
}

// IngestConfig holds batch processor settings.
type IngestConfig struct {
	BatchSize        int    `yaml:"batch_size"`
	FlushIntervalRaw string `yaml:"flush_interval"`
	MaxEmbedChars    int    `yaml:"max_embed_chars"`
	Workers          int    `yaml:"workers"`
}

// SearchConfig holds search service settings.
type SearchConfig struct {
	CacheCapacity int `yaml:"cache_capacity"`
	DefaultLimit  int `yaml:"default_limit"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// PollInterval returns the parsed poll interval duration.
func (h HNConfig) PollInterval() (time.Duration, error) {
	if h.PollIntervalRaw == "" {
		return minPollInterval, nil
	}
	return time.ParseDuration(h.PollIntervalRaw)
}

// RequestTimeout returns the parsed per-call HTTP timeout.
func (h HNConfig) RequestTimeout() (time.Duration, error) {
	if h.RequestTimeoutRaw == "" {
		return 10 * time.Second, nil
	}
	return time.ParseDuration(h.RequestTimeoutRaw)
}

// FlushInterval returns the parsed batch flush interval.
func (i IngestConfig) FlushInterval() (time.Duration, error) {
	if i.FlushIntervalRaw == "" {
		return 5 * time.Second, nil
	}
	return time.ParseDuration(i.FlushIntervalRaw)
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.HN.BaseURL == "" {
		cfg.HN.BaseURL = "https://hacker-news.firebaseio.com/v0"
	}
	if cfg.HN.Source == "" {
		cfg.HN.Source = "new"
	}
	if cfg.HN.PollIntervalRaw == "" {
		cfg.HN.PollIntervalRaw = "30s"
	}
	if cfg.HN.MaxStoriesPerPoll == 0 {
		cfg.HN.MaxStoriesPerPoll = 50
	}
	if cfg.HN.MaxCommentsPerStory == 0 {
		cfg.HN.MaxCommentsPerStory = 50
	}
	if cfg.HN.MaxCommentDepth == 0 {
		cfg.HN.MaxCommentDepth = 10
	}
	if cfg.HN.RequestTimeoutRaw == "" {
		cfg.HN.RequestTimeoutRaw = "10s"
	}
	if cfg.HN.SeenPath == "" {
		cfg.HN.SeenPath = "~/.hnsearch/history"
	}
	if cfg.Ingest.BatchSize == 0 {
		cfg.Ingest.BatchSize = 32
	}
	if cfg.Ingest.FlushIntervalRaw == "" {
		cfg.Ingest.FlushIntervalRaw = "5s"
	}
	if cfg.Ingest.MaxEmbedChars == 0 {
		cfg.Ingest.MaxEmbedChars = 8000
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Search.CacheCapacity == 0 {
		cfg.Search.CacheCapacity = 100
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.hnsearch/hnsearch.db"
	}
}

func validate(cfg *Config) error {
	if cfg.HN.Source != "new" && cfg.HN.Source != "top" {
		return fmt.Errorf("hn.source must be \"new\" or \"top\", got %q", cfg.HN.Source)
	}

	interval, err := time.ParseDuration(cfg.HN.PollIntervalRaw)
	if err != nil {
		return fmt.Errorf("invalid poll_interval %q: %w", cfg.HN.PollIntervalRaw, err)
	}
	if interval < minPollInterval {
		return fmt.Errorf("poll_interval %s is below the minimum %s", interval, minPollInterval)
	}

	if _, err := time.ParseDuration(cfg.HN.RequestTimeoutRaw); err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", cfg.HN.RequestTimeoutRaw, err)
	}
	if _, err := time.ParseDuration(cfg.Ingest.FlushIntervalRaw); err != nil {
		return fmt.Errorf("invalid flush_interval %q: %w", cfg.Ingest.FlushIntervalRaw, err)
	}

	if cfg.HN.MaxCommentDepth < 1 {
		return fmt.Errorf("max_comment_depth must be at least 1, got %d", cfg.HN.MaxCommentDepth)
	}
	if cfg.HN.MaxCommentsPerStory < 1 {
		return fmt.Errorf("max_comments_per_story must be at least 1, got %d", cfg.HN.MaxCommentsPerStory)
	}
	if cfg.Ingest.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", cfg.Ingest.BatchSize)
	}
	if cfg.Search.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1, got %d", cfg.Search.CacheCapacity)
	}

	validEmbedTypes := map[string]bool{"openai": true, "ollama": true, "": true}
	if !validEmbedTypes[cfg.Providers.Embedding.Type] {
		return fmt.Errorf("unsupported embedding provider type: %s", cfg.Providers.Embedding.Type)
	}

	return nil
}

// ExpandHome replaces a leading ~ in path with the user's home directory.
func ExpandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home + path[1:]
	}
	return path
}
