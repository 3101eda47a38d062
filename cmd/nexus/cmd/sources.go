package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/internal/store"
	"github.com/nexuscore/nexus/pkg/nexus"
)

func newSourcesCmd() *cobra.Command {
	parent := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered content origins",
	}
	parent.AddCommand(newSourcesAddCmd())
	parent.AddCommand(newSourcesListCmd())
	return parent
}

func newSourcesAddCmd() *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "add <source-id> <root>",
		Short: "Register a new content origin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nexus.Open(resolveConfig())
			if err != nil {
				return fmt.Errorf("open nexus: %w", err)
			}
			defer n.Close()

			src := &store.Source{ID: args[0], Root: args[1], Kind: store.SourceKind(kind)}
			if err := n.AddSource(cmd.Context(), src); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered source %s (%s) at %s\n", src.ID, src.Kind, src.Root)
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(store.SourceKindDirectory), "directory, file, api, or ad-hoc")
	return cmd
}

func newSourcesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered content origins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := nexus.Open(resolveConfig())
			if err != nil {
				return fmt.Errorf("open nexus: %w", err)
			}
			defer n.Close()

			sources, err := n.ListSources(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range sources {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.ID, s.Kind, s.Root)
			}
			return nil
		},
	}
}
