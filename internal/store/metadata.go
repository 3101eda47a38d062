package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever the SQL schema changes shape.
const schemaVersion = 1

const schemaDDL = `
CREATE TABLE IF NOT EXISTS sources (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	root       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	last_scan  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
	uri          TEXT NOT NULL,
	title        TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	byte_size    INTEGER NOT NULL,
	mtime        INTEGER NOT NULL,
	tags         TEXT NOT NULL DEFAULT '[]',
	frontmatter  TEXT NOT NULL DEFAULT '{}',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	UNIQUE(source_id, uri)
);
CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_id);

CREATE TABLE IF NOT EXISTS chunks (
	id                TEXT PRIMARY KEY,
	document_id       TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ordinal           INTEGER NOT NULL,
	text              TEXT NOT NULL,
	char_start        INTEGER NOT NULL,
	char_end          INTEGER NOT NULL,
	section_path      TEXT NOT NULL DEFAULT '[]',
	token_count       INTEGER NOT NULL,
	embedding_version INTEGER NOT NULL,
	indexed_at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

CREATE TABLE IF NOT EXISTS kv_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStore is the MetadataStore implementation backed by a pure-Go
// SQLite driver. It is the system of record for the three-way consistency
// invariant: every chunk id it reports via AllChunkIDs must also exist in
// the Vector Store and BM25 Index, and vice versa.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if necessary) the metadata database at
// path, applying WAL mode and the pragmas needed for a single-writer,
// many-reader embedded workload.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}

	// modernc.org/sqlite does not support true concurrent writers; restrict
	// to a single connection and serialize access through busy_timeout.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	return s, nil
}

func (s *SQLiteStore) UpsertSource(ctx context.Context, src *Source) error {
	if src.ID == "" {
		return fmt.Errorf("source id must not be empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, root, created_at, last_scan)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			root = excluded.root,
			last_scan = excluded.last_scan
	`, src.ID, string(src.Kind), src.Root, src.CreatedAt.Unix(), src.LastScan.Unix())
	if err != nil {
		return fmt.Errorf("upsert source %s: %w", src.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*Source, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, kind, root, created_at, last_scan FROM sources WHERE id = ?`, id)
	return scanSource(row)
}

func scanSource(row *sql.Row) (*Source, error) {
	var src Source
	var kind string
	var createdAt, lastScan int64
	if err := row.Scan(&src.ID, &kind, &src.Root, &createdAt, &lastScan); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("source not found: %w", err)
		}
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Kind = SourceKind(kind)
	src.CreatedAt = time.Unix(createdAt, 0).UTC()
	src.LastScan = time.Unix(lastScan, 0).UTC()
	return &src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]*Source, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, root, created_at, last_scan FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*Source
	for rows.Next() {
		var src Source
		var kind string
		var createdAt, lastScan int64
		if err := rows.Scan(&src.ID, &kind, &src.Root, &createdAt, &lastScan); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.Kind = SourceKind(kind)
		src.CreatedAt = time.Unix(createdAt, 0).UTC()
		src.LastScan = time.Unix(lastScan, 0).UTC()
		out = append(out, &src)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteSource(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc *Document) (*Document, UpsertOutcome, error) {
	if doc.ID == "" {
		return nil, "", fmt.Errorf("document id must not be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin upsert document tx: %w", err)
	}
	defer tx.Rollback()

	var existingID, existingHash string
	err = tx.QueryRowContext(ctx, `SELECT id, content_hash FROM documents WHERE source_id = ? AND uri = ?`,
		doc.SourceID, doc.URI).Scan(&existingID, &existingHash)

	tagsJSON, err2 := json.Marshal(doc.Tags)
	if err2 != nil {
		return nil, "", fmt.Errorf("marshal tags: %w", err2)
	}
	fmJSON, err2 := json.Marshal(doc.Frontmatter)
	if err2 != nil {
		return nil, "", fmt.Errorf("marshal frontmatter: %w", err2)
	}

	now := time.Now().UTC()

	switch {
	case errors.Is(err, sql.ErrNoRows):
		doc.CreatedAt = now
		doc.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (id, source_id, uri, title, content_hash, byte_size, mtime, tags, frontmatter, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, doc.ID, doc.SourceID, doc.URI, doc.Title, doc.ContentHash, doc.ByteSize, doc.MTime.Unix(),
			string(tagsJSON), string(fmJSON), doc.CreatedAt.Unix(), doc.UpdatedAt.Unix())
		if err != nil {
			return nil, "", fmt.Errorf("insert document: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("commit insert document: %w", err)
		}
		return doc, OutcomeCreated, nil

	case err != nil:
		return nil, "", fmt.Errorf("lookup existing document: %w", err)

	case existingHash == doc.ContentHash:
		// Content unchanged: nothing is written; the stored row (including
		// its mtime) and its chunks are left as they are.
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("commit unchanged document: %w", err)
		}
		existing, err := s.GetDocument(ctx, existingID)
		if err != nil {
			return nil, "", err
		}
		return existing, OutcomeUnchanged, nil

	default:
		doc.ID = existingID
		doc.UpdatedAt = now
		_, err = tx.ExecContext(ctx, `
			UPDATE documents SET title = ?, content_hash = ?, byte_size = ?, mtime = ?,
				tags = ?, frontmatter = ?, updated_at = ?
			WHERE id = ?
		`, doc.Title, doc.ContentHash, doc.ByteSize, doc.MTime.Unix(), string(tagsJSON), string(fmJSON),
			doc.UpdatedAt.Unix(), existingID)
		if err != nil {
			return nil, "", fmt.Errorf("update document: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("commit update document: %w", err)
		}
		return doc, OutcomeUpdated, nil
	}
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, uri, title, content_hash, byte_size, mtime, tags, frontmatter, created_at, updated_at
		FROM documents WHERE id = ?
	`, id)
	return scanDocument(row)
}

func (s *SQLiteStore) GetDocumentByURI(ctx context.Context, sourceID, uri string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, uri, title, content_hash, byte_size, mtime, tags, frontmatter, created_at, updated_at
		FROM documents WHERE source_id = ? AND uri = ?
	`, sourceID, uri)
	return scanDocument(row)
}

func scanDocument(row *sql.Row) (*Document, error) {
	var doc Document
	var tagsJSON, fmJSON string
	var mtime, createdAt, updatedAt int64
	err := row.Scan(&doc.ID, &doc.SourceID, &doc.URI, &doc.Title, &doc.ContentHash, &doc.ByteSize,
		&mtime, &tagsJSON, &fmJSON, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document not found: %w", err)
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if err := json.Unmarshal([]byte(tagsJSON), &doc.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if err := json.Unmarshal([]byte(fmJSON), &doc.Frontmatter); err != nil {
		return nil, fmt.Errorf("unmarshal frontmatter: %w", err)
	}
	doc.MTime = time.Unix(mtime, 0).UTC()
	doc.CreatedAt = time.Unix(createdAt, 0).UTC()
	doc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &doc, nil
}

func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// ReplaceChunks persists newChunks for documentID and removes any existing
// chunk for the document absent from newChunks, all within one transaction.
// It reports which ids were added, removed, and kept unchanged so the
// ingestion pipeline can drive the Vector Store and BM25 Index in step.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, documentID string, newChunks []*Chunk) (added, removed, kept []string, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("begin replace chunks tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("list existing chunks: %w", err)
	}
	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, nil, fmt.Errorf("scan existing chunk id: %w", err)
		}
		existing[id] = struct{}{}
	}
	rows.Close()

	wanted := make(map[string]struct{}, len(newChunks))
	now := time.Now().UTC()

	for _, c := range newChunks {
		wanted[c.ID] = struct{}{}
		sectionJSON, err := json.Marshal(c.SectionPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("marshal section path: %w", err)
		}
		if c.IndexedAt.IsZero() {
			c.IndexedAt = now
		}

		if _, isExisting := existing[c.ID]; isExisting {
			kept = append(kept, c.ID)
			continue
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, ordinal, text, char_start, char_end, section_path, token_count, embedding_version, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, documentID, c.Ordinal, c.Text, c.CharStart, c.CharEnd, string(sectionJSON), c.TokenCount,
			c.EmbeddingVersion, c.IndexedAt.Unix())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		added = append(added, c.ID)
	}

	for id := range existing {
		if _, stillWanted := wanted[id]; !stillWanted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id = ?`, id); err != nil {
				return nil, nil, nil, fmt.Errorf("delete stale chunk %s: %w", id, err)
			}
			removed = append(removed, id)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, fmt.Errorf("commit replace chunks: %w", err)
	}

	return added, removed, kept, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, ordinal, text, char_start, char_end, section_path, token_count, embedding_version, indexed_at
		FROM chunks WHERE id = ?
	`, id)
	return scanChunk(row)
}

func scanChunk(row *sql.Row) (*Chunk, error) {
	var c Chunk
	var sectionJSON string
	var indexedAt int64
	err := row.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.CharStart, &c.CharEnd, &sectionJSON,
		&c.TokenCount, &c.EmbeddingVersion, &indexedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("chunk not found: %w", err)
		}
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	if err := json.Unmarshal([]byte(sectionJSON), &c.SectionPath); err != nil {
		return nil, fmt.Errorf("unmarshal section path: %w", err)
	}
	c.IndexedAt = time.Unix(indexedAt, 0).UTC()
	return &c, nil
}

func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, document_id, ordinal, text, char_start, char_end, section_path, token_count, embedding_version, indexed_at
		FROM chunks WHERE id IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

func (s *SQLiteStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, ordinal, text, char_start, char_end, section_path, token_count, embedding_version, indexed_at
		FROM chunks WHERE document_id = ? ORDER BY ordinal
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get chunks by document: %w", err)
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

func (s *SQLiteStore) ListChunks(ctx context.Context, filter ChunkFilter) ([]*Chunk, error) {
	var clauses []string
	var args []any

	query := `
		SELECT c.id, c.document_id, c.ordinal, c.text, c.char_start, c.char_end, c.section_path,
			c.token_count, c.embedding_version, c.indexed_at
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
	`

	if filter.SourceID != "" {
		clauses = append(clauses, "d.source_id = ?")
		args = append(args, filter.SourceID)
	}
	if filter.DocumentID != "" {
		clauses = append(clauses, "c.document_id = ?")
		args = append(args, filter.DocumentID)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "c.indexed_at >= ?")
		args = append(args, filter.Since.Unix())
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY c.document_id, c.ordinal"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := scanChunkRows(rows)
	if err != nil {
		return nil, err
	}

	if len(filter.Tags) == 0 && filter.Kind == "" && filter.SectionPathPrefix == "" {
		return chunks, nil
	}

	// Tags and Kind live on the Document, not the Chunk, and the section
	// path is stored as a JSON array; filter the remaining clauses in Go
	// rather than joining a second json table.
	filtered := chunks[:0]
	for _, c := range chunks {
		if filter.SectionPathPrefix != "" && !strings.HasPrefix(strings.Join(c.SectionPath, "/"), filter.SectionPathPrefix) {
			continue
		}
		doc, err := s.GetDocument(ctx, c.DocumentID)
		if err != nil {
			continue
		}
		if filter.Kind != "" {
			src, err := s.GetSource(ctx, doc.SourceID)
			if err != nil || src.Kind != filter.Kind {
				continue
			}
		}
		if len(filter.Tags) > 0 && !hasAnyTag(doc.Tags, filter.Tags) {
			continue
		}
		filtered = append(filtered, c)
	}
	return filtered, nil
}

func scanChunkRows(rows *sql.Rows) ([]*Chunk, error) {
	var out []*Chunk
	for rows.Next() {
		var c Chunk
		var sectionJSON string
		var indexedAt int64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Ordinal, &c.Text, &c.CharStart, &c.CharEnd, &sectionJSON,
			&c.TokenCount, &c.EmbeddingVersion, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan chunk row: %w", err)
		}
		if err := json.Unmarshal([]byte(sectionJSON), &c.SectionPath); err != nil {
			return nil, fmt.Errorf("unmarshal section path: %w", err)
		}
		c.IndexedAt = time.Unix(indexedAt, 0).UTC()
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("all chunk ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chunk id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks)
	`)
	if err := row.Scan(&stats.Sources, &stats.Documents, &stats.Chunks); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return stats, nil
}

// Close checkpoints the WAL back into the main database file and closes the
// underlying connection. Safe to call on an already-closed store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	if s.path != ":memory:" {
		if _, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
			// Non-fatal: the WAL will be replayed on next open regardless.
		}
	}
	return s.db.Close()
}

var _ MetadataStore = (*SQLiteStore)(nil)
