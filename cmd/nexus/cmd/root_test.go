package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCmdRegistersAllSubcommands(t *testing.T) {
	root := NewRootCmd()
	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "delete", "sources", "search", "stats", "doctor", "watch"} {
		assert.True(t, names[want], "expected %s subcommand to be registered", want)
	}
}

func TestSourcesCmdHasAddAndList(t *testing.T) {
	root := NewRootCmd()
	sourcesCmd, _, err := root.Find([]string{"sources"})
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, sc := range sourcesCmd.Commands() {
		names[sc.Name()] = true
	}
	assert.True(t, names["add"])
	assert.True(t, names["list"])
}

const watchedNote = `# Notes

Nexus combines dense vector search with BM25 keyword scoring for local
retrieval over a personal archive of markdown notes.
`

func runRootCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestIngestSearchStatsDoctorEndToEnd(t *testing.T) {
	dir := t.TempDir()
	notesDir := filepath.Join(dir, "notes")
	require.NoError(t, os.MkdirAll(notesDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(notesDir, "a.md"), []byte(watchedNote), 0o644))

	dataDir := filepath.Join(dir, ".nexus")

	_, err := runRootCmd(t, "--data-dir", dataDir, "sources", "add", "notes", notesDir)
	require.NoError(t, err)

	out, err := runRootCmd(t, "--data-dir", dataDir, "ingest", "notes", notesDir)
	require.NoError(t, err)
	assert.Contains(t, out, "ingested 1 document(s)")

	out, err = runRootCmd(t, "--data-dir", dataDir, "search", "hybrid", "retrieval")
	require.NoError(t, err)
	assert.NotContains(t, out, "no results")

	out, err = runRootCmd(t, "--data-dir", dataDir, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "documents:      1")

	out, err = runRootCmd(t, "--data-dir", dataDir, "doctor")
	require.NoError(t, err)
	assert.Contains(t, out, "0 issue(s)")
}
