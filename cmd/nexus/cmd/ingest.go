package cmd

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/internal/ingest"
	"github.com/nexuscore/nexus/pkg/nexus"
)

// indexableExtensions are the file types ingest walks by default. Anything
// else under the given path is skipped.
var indexableExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
	".txt":      true,
}

func newIngestCmd() *cobra.Command {
	var tags []string

	cmd := &cobra.Command{
		Use:   "ingest <source-id> <path>",
		Short: "Ingest a file or directory of notes into the index",
		Long: `Ingest reads one file, or walks a directory of markdown/text files,
and indexes each document under the given source. Re-ingesting unchanged
content is a zero-cost no-op; changed content is re-chunked and diffed.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd, args[0], args[1], tags)
		},
	}
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "tags to attach to every ingested document (repeatable)")

	return cmd
}

func runIngest(cmd *cobra.Command, sourceID, path string, tags []string) error {
	cfg := resolveConfig()

	lock := flock.New(filepath.Join(cfg.DataDir, ".ingest.lock"))
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another nexus ingest is already running against %s", cfg.DataDir)
	}
	defer lock.Unlock()

	n, err := nexus.Open(cfg)
	if err != nil {
		return fmt.Errorf("open nexus: %w", err)
	}
	defer n.Close()

	ctx := cmd.Context()
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %s: %w", root, err)
	}

	var ingested, skipped int
	walk := func(p string) error {
		if !indexableExtensions[strings.ToLower(filepath.Ext(p))] {
			skipped++
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		uri, err := filepath.Rel(root, p)
		if err != nil {
			uri = p
		}
		if info.Mode().IsRegular() {
			uri = filepath.Base(p)
		}
		outcome, err := n.IngestDocument(ctx, ingest.Request{
			SourceID: sourceID,
			URI:      uri,
			Content:  content,
			Tags:     tags,
		})
		if err != nil {
			slog.Error("ingest failed", slog.String("path", p), slog.Any("error", err))
			return err
		}
		ingested++
		fmt.Fprintf(cmd.OutOrStdout(), "%s: +%d -%d =%d\n", uri, outcome.Added, outcome.Removed, outcome.Kept)
		return nil
	}

	if info.IsDir() {
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			return walk(p)
		})
	} else {
		err = walk(root)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ingested %d document(s), skipped %d non-indexable file(s)\n", ingested, skipped)
	return nil
}
