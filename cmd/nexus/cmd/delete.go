package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/pkg/nexus"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Remove a document and its chunks from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nexus.Open(resolveConfig())
			if err != nil {
				return fmt.Errorf("open nexus: %w", err)
			}
			defer n.Close()

			removed, err := n.DeleteDocument(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d chunk(s) for document %s\n", removed, args[0])
			return nil
		},
	}
}
