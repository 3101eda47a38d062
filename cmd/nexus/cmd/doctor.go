package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/pkg/nexus"
)

func newDoctorCmd() *cobra.Command {
	var repair bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Audit the three-way consistency invariant across all stores",
		Long: `Doctor scans the Metadata Store, Vector Store, and BM25 Index and
reports any chunk_id present in one but not the others. With --repair,
orphaned index entries (present in an index but not metadata) are
deleted; entries missing from an index can only be restored by
re-ingesting the owning document, and are reported, not repaired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nexus.Open(resolveConfig())
			if err != nil {
				return fmt.Errorf("open nexus: %w", err)
			}
			defer n.Close()

			report, err := n.CheckConsistency(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "checked %d chunk(s), %d issue(s)\n", report.Checked, len(report.Issues))
			for _, issue := range report.Issues {
				fmt.Fprintf(out, "  %s: %s\n", issue.Kind, issue.ChunkID)
			}

			if repair && len(report.Issues) > 0 {
				if err := n.RepairConsistency(cmd.Context(), report.Issues); err != nil {
					return err
				}
				fmt.Fprintln(out, "repair complete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "delete orphaned index entries")
	return cmd
}
