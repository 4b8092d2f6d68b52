package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacklau/hnsearch/internal/ingest"
)

var backfillLimit int

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Re-embed items persisted with missing vectors",
	Long: `Repair records that were stored without vectors after an embedding
failure. Processes up to --limit stories and comments per run.`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillLimit, "limit", 100, "maximum items of each kind to repair")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	if c.Embedder == nil {
		return errors.New("no embedding provider configured; set providers.embedding in the config file")
	}

	backfiller := ingest.NewBackfiller(c.Store, c.Embedder, cfg.Ingest.MaxEmbedChars, logger)
	res, err := backfiller.Run(cmd.Context(), backfillLimit)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Repaired %d stories and %d comments (%d errors)\n",
		res.Stories, res.Comments, res.Errors)
	return nil
}
