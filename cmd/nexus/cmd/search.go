package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/internal/search"
	"github.com/nexuscore/nexus/pkg/nexus"
)

func newSearchCmd() *cobra.Command {
	var limit int
	var filter string
	var noRerank bool
	var format string

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index with hybrid dense+sparse retrieval",
		Long: `Search runs the hybrid retrieval pipeline: dense vector search and
BM25 keyword search in parallel, fused by Reciprocal Rank Fusion, then
reranked by a cross-encoder stand-in unless --no-rerank is set.

The query may start with filter clauses (tag:X, source:Y, kind:Z,
since:2024-01-01, path:notes/*), combined with --filter: a --filter value
replaces a query clause with the same key, and tags from both are unioned.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := args[0]
			for _, a := range args[1:] {
				query += " " + a
			}
			return runSearch(cmd, query, limit, filter, !noRerank, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum number of results")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "filter clauses, e.g. tag:project,kind:file")
	cmd.Flags().BoolVar(&noRerank, "no-rerank", false, "skip the rerank stage, return RRF order")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")

	return cmd
}

func runSearch(cmd *cobra.Command, query string, limit int, filterExpr string, rerank bool, format string) error {
	n, err := nexus.Open(resolveConfig())
	if err != nil {
		return fmt.Errorf("open nexus: %w", err)
	}
	defer n.Close()

	callerFilter, err := search.ParseFilter(filterExpr)
	if err != nil {
		return fmt.Errorf("invalid --filter: %w", err)
	}

	opts := search.DefaultSearchOptions()
	opts.Limit = limit
	opts.UseRerank = rerank
	opts.Filters = callerFilter

	results, err := n.Search(cmd.Context(), query, opts)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	for i, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%d. [%.4f] %s (%s)\n    %s\n", i+1, r.Score, r.URI, r.ChunkID, truncate(r.Text, 160))
	}
	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
