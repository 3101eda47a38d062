package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/pkg/nexus"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show index size and composition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nexus.Open(resolveConfig())
			if err != nil {
				return fmt.Errorf("open nexus: %w", err)
			}
			defer n.Close()

			s := n.Stats()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "documents:      %d\n", s.Documents)
			fmt.Fprintf(out, "chunks:         %d\n", s.Chunks)
			fmt.Fprintf(out, "vectors:        %d\n", s.Vectors)
			fmt.Fprintf(out, "bm25 terms:     %d\n", s.BM25Terms)
			fmt.Fprintf(out, "bm25 documents: %d\n", s.BM25DocCount)
			return nil
		},
	}
}
