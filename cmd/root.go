package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacklau/hnsearch/internal/config"
	"github.com/jacklau/hnsearch/internal/hn"
	"github.com/jacklau/hnsearch/internal/provider"
	"github.com/jacklau/hnsearch/internal/pubsub"
	"github.com/jacklau/hnsearch/internal/store"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hnsearch",
	Short: "Ingest Hacker News and search it semantically",
	Long: `hnsearch continuously polls the Hacker News feed, embeds stories and
comments with an AI provider, and answers semantic queries over the
ingested corpus ranked by vector similarity.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hnsearch/config.yaml"
	}
	return home + "/.hnsearch/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	// A missing default config is fine; built-in defaults cover local use.
	if _, err := os.Stat(path); os.IsNotExist(err) && cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config   *config.Config
	Store    *store.DB
	Embedder provider.Embedder
	Broker   *pubsub.Broker[hn.ItemEvent]
	Logger   *slog.Logger
}

// initComponents creates all components from config.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config: cfg,
		Logger: logger,
	}

	db, err := store.Open(config.ExpandHome(cfg.Store.Path))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c.Store = db

	// An absent embedding provider is allowed; commands that need one
	// check for it.
	if cfg.Providers.Embedding.Type != "" {
		embedder, err := provider.New(provider.EmbedderConfig{
			Type:   cfg.Providers.Embedding.Type,
			Model:  cfg.Providers.Embedding.Model,
			APIKey: cfg.Providers.Embedding.APIKey,
			URL:    cfg.Providers.Embedding.URL,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
		c.Embedder = embedder
	}

	c.Broker = pubsub.NewBroker[hn.ItemEvent]()

	return c, nil
}

// newHNClient builds the Hacker News API client from config.
func newHNClient(cfg *config.Config) (*hn.Client, error) {
	timeout, err := cfg.HN.RequestTimeout()
	if err != nil {
		return nil, fmt.Errorf("invalid request_timeout: %w", err)
	}
	return hn.NewClient(cfg.HN.BaseURL, timeout), nil
}
