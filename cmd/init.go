package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup for hnsearch configuration",
	Long:  `Creates a default configuration file with guided prompts.`,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("Welcome to hnsearch setup!")
	fmt.Println("This will create a configuration file for you.")
	fmt.Println()

	configPath := cfgFile
	if configPath == "" {
		configPath = defaultConfigPath()
	}

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config file already exists at %s\n", configPath)
		fmt.Print("Overwrite? [y/N]: ")
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Gather inputs
	fmt.Print("Story list to poll (new/top) [new]: ")
	source, _ := reader.ReadString('\n')
	source = strings.TrimSpace(source)
	if source == "" {
		source = "new"
	}
	if source != "new" && source != "top" {
		return fmt.Errorf("invalid source %q: must be new or top", source)
	}

	fmt.Print("Embedding provider (openai/ollama) [openai]: ")
	embedProvider, _ := reader.ReadString('\n')
	embedProvider = strings.TrimSpace(embedProvider)
	if embedProvider == "" {
		embedProvider = "openai"
	}

	// Build config
	config := buildConfigYAML(source, embedProvider)

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(config), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", configPath)
	fmt.Println("Edit the file to add API keys and customize settings.")
	return nil
}

func buildConfigYAML(source, embedProvider string) string {
	var b strings.Builder

	b.WriteString("# hnsearch configuration\n")
	b.WriteString("# See documentation for all available options.\n\n")

	b.WriteString("hn:\n")
	b.WriteString(fmt.Sprintf("  source: %s\n", source))
	b.WriteString("  poll_interval: 1m\n")
	b.WriteString("  max_stories_per_poll: 50\n")
	b.WriteString("  max_comments_per_story: 50\n")
	b.WriteString("  max_comment_depth: 10\n")
	b.WriteString("\n")

	b.WriteString("providers:\n")
	b.WriteString("  embedding:\n")
	b.WriteString(fmt.Sprintf("    type: %s\n", embedProvider))
	embedModel, embedAPIKey := embeddingProviderDefaults(embedProvider)
	b.WriteString(fmt.Sprintf("    model: %s\n", embedModel))
	b.WriteString(fmt.Sprintf("    api_key: %s\n", embedAPIKey))
	b.WriteString("\n")

	b.WriteString("ingest:\n")
	b.WriteString("  batch_size: 32\n")
	b.WriteString("  flush_interval: 5s\n")
	b.WriteString("  workers: 4\n")
	b.WriteString("\n")

	b.WriteString("search:\n")
	b.WriteString("  cache_capacity: 100\n")
	b.WriteString("  default_limit: 10\n")
	b.WriteString("\n")

	b.WriteString("store:\n")
	b.WriteString("  path: ~/.hnsearch/hnsearch.db\n")

	return b.String()
}

// embeddingProviderDefaults returns the default model and api_key placeholder
// for the given embedding provider type.
func embeddingProviderDefaults(provider string) (model, apiKey string) {
	switch provider {
	case "ollama":
		return "nomic-embed-text", "# not required for ollama"
	default: // openai
		return "text-embedding-3-small", "${OPENAI_API_KEY}"
	}
}
