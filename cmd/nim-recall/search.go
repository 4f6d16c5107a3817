package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-recall/search"
)

var (
	searchLimit     int
	searchThreshold float64
	searchStrict    bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search ingested documents",
	Long: `Ranks document chunks by cosine similarity to the query. Without
--strict, a query that matches nothing above the threshold still returns
the closest chunks.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	searchCmd.Flags().Float64Var(&searchThreshold, "min-similarity", 0.5, "similarity threshold")
	searchCmd.Flags().BoolVar(&searchStrict, "strict", false, "never return chunks below the threshold")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var results []search.DocumentResult
	if searchStrict {
		results, err = a.engine.SearchDocumentsStrict(ctx, args[0], searchLimit, searchThreshold)
	} else {
		results, err = a.engine.SearchDocuments(ctx, args[0], searchLimit, searchThreshold)
	}
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, results)
	}
	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, r := range results {
		cmd.Printf("  [%d] %s #%d (%.2f)\n", i+1, r.Title, r.ChunkIndex, r.Similarity)
		cmd.Printf("      %s\n", snippet(r.Content, 160))
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func snippet(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
