package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/hnsearch/internal/config"
	"github.com/jacklau/hnsearch/internal/hn"
	"github.com/jacklau/hnsearch/internal/ingest"
)

var (
	ingestInterval string
	ingestSource   string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Continuously poll Hacker News and embed new items",
	Long: `Poll the Hacker News feed for new stories, walk their comment trees,
embed the text with the configured AI provider, and persist everything
to the local database. Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestInterval, "interval", "", "poll interval (e.g. 1m, 30s); overrides config")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "story list to poll: new or top; overrides config")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ingestSource != "" {
		if ingestSource != "new" && ingestSource != "top" {
			return fmt.Errorf("invalid source %q: must be new or top", ingestSource)
		}
		cfg.HN.Source = ingestSource
	}

	interval, err := cfg.HN.PollInterval()
	if err != nil {
		return fmt.Errorf("invalid poll_interval: %w", err)
	}
	if ingestInterval != "" {
		interval, err = time.ParseDuration(ingestInterval)
		if err != nil {
			return fmt.Errorf("invalid interval %q: %w", ingestInterval, err)
		}
		if interval < 30*time.Second {
			return fmt.Errorf("interval %s too short: minimum is 30s", interval)
		}
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	if c.Embedder == nil {
		return errors.New("no embedding provider configured; set providers.embedding in the config file")
	}

	client, err := newHNClient(cfg)
	if err != nil {
		return err
	}

	seen, err := hn.OpenSeenSet(config.ExpandHome(cfg.HN.SeenPath))
	if err != nil {
		return fmt.Errorf("opening seen set: %w", err)
	}
	defer seen.Close()

	fetcher := hn.NewFetcher(client, seen, c.Broker, hn.FetcherConfig{
		Source:              cfg.HN.Source,
		MaxStoriesPerPoll:   cfg.HN.MaxStoriesPerPoll,
		MaxCommentsPerStory: cfg.HN.MaxCommentsPerStory,
		MaxCommentDepth:     cfg.HN.MaxCommentDepth,
	}, logger)

	flushInterval, err := cfg.Ingest.FlushInterval()
	if err != nil {
		return fmt.Errorf("invalid flush_interval: %w", err)
	}
	processor, err := ingest.NewProcessor(c.Store, c.Embedder, c.Broker, ingest.Config{
		BatchSize:     cfg.Ingest.BatchSize,
		FlushInterval: flushInterval,
		MaxEmbedChars: cfg.Ingest.MaxEmbedChars,
		Workers:       cfg.Ingest.Workers,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}
	defer processor.Close()

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	logger.Info("starting ingestion", "source", cfg.HN.Source, "interval", interval.String())

	// The processor must outlive the fetcher so the final batch drains.
	procErr := make(chan error, 1)
	go func() {
		procErr <- processor.Run(ctx)
	}()

	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- fetcher.Run(ctx, interval)
	}()

	select {
	case err := <-procErr:
		cancel()
		if err != nil && err != context.Canceled {
			return fmt.Errorf("processor error: %w", err)
		}
	case err := <-fetchErr:
		cancel()
		if err != nil && err != context.Canceled {
			return fmt.Errorf("fetcher error: %w", err)
		}
		// Let the processor flush its tail.
		<-procErr
	}

	logger.Info("ingestion stopped")
	return nil
}
