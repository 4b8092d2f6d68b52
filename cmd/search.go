package cmd

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/hnsearch/internal/search"
)

var (
	searchComments bool
	searchLimit    int
	searchMinScore int
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantically search ingested stories or comments",
	Long: `Rank ingested Hacker News items against a natural-language query
using vector similarity. Story search ranks titles; with --comments the
comment bodies are ranked instead, each joined to its root story.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().BoolVar(&searchComments, "comments", false, "search comments instead of stories")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 0, "maximum results (default from config)")
	searchCmd.Flags().IntVar(&searchMinScore, "min-score", 0, "minimum story score (story search only)")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	svc := search.NewService(c.Store, c.Embedder, cfg.Search.CacheCapacity, cfg.Search.DefaultLimit, logger)
	query := strings.Join(args, " ")

	if searchComments {
		return printCommentResults(cmd, svc, query)
	}
	return printStoryResults(cmd, svc, query)
}

func printStoryResults(cmd *cobra.Command, svc *search.Service, query string) error {
	matches, fromCache, err := svc.SearchStories(cmd.Context(), query, searchLimit, searchMinScore)
	if err != nil {
		return fmt.Errorf("searching stories: %w", err)
	}
	if len(matches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tSCORE\tTITLE\tURL")
	for _, m := range matches {
		fmt.Fprintf(w, "%.4f\t%d\t%s\t%s\n",
			m.Similarity, m.Story.Score, m.Story.Title, m.Story.URL)
	}
	w.Flush()

	if fromCache {
		fmt.Fprintln(cmd.OutOrStdout(), "\n(query embedding served from cache)")
	}
	return nil
}

func printCommentResults(cmd *cobra.Command, svc *search.Service, query string) error {
	matches, fromCache, err := svc.SearchComments(cmd.Context(), query, searchLimit)
	if err != nil {
		return fmt.Errorf("searching comments: %w", err)
	}
	if len(matches) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIMILARITY\tCOMMENT\tSTORY")
	for _, m := range matches {
		fmt.Fprintf(w, "%.4f\t%s\t%s\n",
			m.Similarity, excerpt(m.Comment.Body, 80), m.Story.Title)
	}
	w.Flush()

	if fromCache {
		fmt.Fprintln(cmd.OutOrStdout(), "\n(query embedding served from cache)")
	}
	return nil
}
