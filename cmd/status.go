package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/hnsearch/internal/config"
	"github.com/jacklau/hnsearch/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show corpus and ingestion health overview",
	Long: `Display statistics about the ingested corpus: story and comment
counts, embedding coverage, recent batch timings, and database size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	totals, err := c.Store.GetTotals()
	if err != nil {
		return fmt.Errorf("querying totals: %w", err)
	}

	if totals.Stories == 0 && totals.Comments == 0 {
		fmt.Println("Nothing ingested yet.")
		fmt.Println("Run 'hnsearch ingest' to start polling Hacker News.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tCOUNT\tEMBEDDED\tAVG BATCH (1h)")
	fmt.Fprintln(w, "----\t-----\t--------\t--------------")

	storyAvg, err := c.Store.AverageProcessingTime(store.StatKindStory, time.Hour)
	if err != nil {
		return fmt.Errorf("querying story batch times: %w", err)
	}
	commentAvg, err := c.Store.AverageProcessingTime(store.StatKindComment, time.Hour)
	if err != nil {
		return fmt.Errorf("querying comment batch times: %w", err)
	}

	fmt.Fprintf(w, "stories\t%d\t%d\t%s\n", totals.Stories, totals.StoriesWithVectors, formatBatchAvg(storyAvg))
	fmt.Fprintf(w, "comments\t%d\t%d\t%s\n", totals.Comments, totals.CommentsWithVectors, formatBatchAvg(commentAvg))
	w.Flush()

	recent, err := c.Store.ListRecentStories(5)
	if err != nil {
		return fmt.Errorf("querying recent stories: %w", err)
	}
	if len(recent) > 0 {
		fmt.Println("\nRecently ingested:")
		for _, s := range recent {
			fmt.Printf("  %s (%s)\n", s.Title, formatTimeAgo(s.CreatedAt))
		}
	}

	fmt.Println()
	dbPath := config.ExpandHome(cfg.Store.Path)
	dbSize, err := dbFileSize(dbPath)
	if err != nil {
		fmt.Printf("Database: %s (size unknown)\n", dbPath)
	} else {
		fmt.Printf("Database: %s (%s)\n", dbPath, formatBytes(dbSize))
	}

	return nil
}

// formatBatchAvg renders an average batch duration in milliseconds.
func formatBatchAvg(ms float64) string {
	if ms == 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f ms", ms)
}

// dbFileSize returns the size in bytes of the database file.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
