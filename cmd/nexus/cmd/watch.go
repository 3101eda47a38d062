package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/nexuscore/nexus/internal/ingest"
	"github.com/nexuscore/nexus/pkg/nexus"
)

// debounceWindow coalesces the burst of events a single save produces
// (write + chmod, sometimes a rename-into-place) before re-ingesting.
const debounceWindow = 500 * time.Millisecond

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <source-id> <path>",
		Short: "Watch a directory and re-ingest files as they change",
		Long: `Watch registers an fsnotify watch on path (recursively) and
re-ingests a file whenever it is created or modified, debounced by a
short window to coalesce a single save into one ingest call. Removed
files are deleted from the index. Runs until interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runWatch(cmd *cobra.Command, sourceID, root string) error {
	n, err := nexus.Open(resolveConfig())
	if err != nil {
		return fmt.Errorf("open nexus: %w", err)
	}
	defer n.Close()

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := filepath.WalkDir(absRoot, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(p)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("walk %s: %w", absRoot, err)
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "watching %s (source %s), press ctrl-c to stop\n", absRoot, sourceID)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)

	handle := func(p string) {
		if !indexableExtensions[strings.ToLower(filepath.Ext(p))] {
			return
		}
		uri, err := filepath.Rel(absRoot, p)
		if err != nil {
			uri = p
		}

		content, err := os.ReadFile(p)
		if os.IsNotExist(err) {
			doc, lookupErr := n.DocumentByURI(ctx, sourceID, uri)
			if lookupErr != nil {
				slog.Warn("watch: removed file has no matching document", slog.String("uri", uri))
				return
			}
			if _, delErr := n.DeleteDocument(ctx, doc.ID); delErr != nil {
				slog.Error("watch: failed to delete document for removed file", slog.String("uri", uri), slog.Any("error", delErr))
				return
			}
			fmt.Fprintf(out, "deleted %s\n", uri)
			return
		}
		if err != nil {
			slog.Error("watch: failed to read changed file", slog.String("path", p), slog.Any("error", err))
			return
		}

		outcome, err := n.IngestDocument(ctx, ingest.Request{SourceID: sourceID, URI: uri, Content: content})
		if err != nil {
			slog.Error("watch: ingest failed", slog.String("uri", uri), slog.Any("error", err))
			return
		}
		fmt.Fprintf(out, "%s: +%d -%d =%d\n", uri, outcome.Added, outcome.Removed, outcome.Kept)
	}

	schedule := func(p string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[p]; ok {
			t.Stop()
		}
		timers[p] = time.AfterFunc(debounceWindow, func() {
			mu.Lock()
			delete(timers, p)
			mu.Unlock()
			handle(p)
		})
	}

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				schedule(event.Name)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watch: fsnotify error", slog.Any("error", err))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
