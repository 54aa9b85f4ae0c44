package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	frerrors "github.com/Aman-CERP/fundrag/internal/errors"
)

// SQLiteStore implements MetadataStore on SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

var _ MetadataStore = (*SQLiteStore)(nil)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	id           TEXT PRIMARY KEY,
	title        TEXT NOT NULL DEFAULT '',
	kind         TEXT NOT NULL DEFAULT '',
	fund_code    TEXT NOT NULL DEFAULT '',
	published_at TEXT NOT NULL DEFAULT '',
	source_path  TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL DEFAULT '',
	chunk_count  INTEGER NOT NULL DEFAULT 0,
	indexed_at   TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_fund ON documents(fund_code);

CREATE TABLE IF NOT EXISTS chunks (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	seq         INTEGER NOT NULL,
	content     TEXT NOT NULL,
	page_ref    TEXT NOT NULL DEFAULT '',
	UNIQUE(document_id, seq)
);

CREATE TABLE IF NOT EXISTS sections (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	id          TEXT NOT NULL,
	ordinal     INTEGER NOT NULL,
	title       TEXT NOT NULL,
	content     TEXT NOT NULL,
	PRIMARY KEY(document_id, id)
);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// NewSQLiteStore opens or creates the metadata database at path.
// An empty path creates an in-memory store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: in-memory databases are per connection, and a single
	// writer avoids SQLITE_BUSY between our own goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(metadataSchema); err != nil {
		_ = db.Close()
		return nil, frerrors.New(frerrors.ErrCodeCorruptIndex, "failed to initialize metadata schema", err).
			WithDetail("path", path).
			WithSuggestion("Remove the data directory and run 'fundrag ingest' again")
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// DB exposes the connection for tables owned by other packages, such as
// telemetry. Callers must not close it.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) check() error {
	if s.closed {
		return errors.New("store is closed")
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SaveDocument inserts or updates a document record.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, title, kind, fund_code, published_at, source_path, content_hash, chunk_count, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			kind = excluded.kind,
			fund_code = excluded.fund_code,
			published_at = excluded.published_at,
			source_path = excluded.source_path,
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at`,
		doc.ID, doc.Title, doc.Kind, doc.FundCode, formatTime(doc.PublishedAt),
		doc.SourcePath, doc.ContentHash, doc.ChunkCount, formatTime(doc.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	return nil
}

const documentColumns = `id, title, kind, fund_code, published_at, source_path, content_hash, chunk_count, indexed_at`

func scanDocument(row interface{ Scan(...any) error }) (*Document, error) {
	var d Document
	var published, indexed string
	if err := row.Scan(&d.ID, &d.Title, &d.Kind, &d.FundCode, &published,
		&d.SourcePath, &d.ContentHash, &d.ChunkCount, &indexed); err != nil {
		return nil, err
	}
	d.PublishedAt = parseTime(published)
	d.IndexedAt = parseTime(indexed)
	return &d, nil
}

// GetDocument returns the document or nil when it does not exist.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns matching documents, newest publication first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	var where []string
	var args []any
	if filter.FundCode != "" {
		where = append(where, "fund_code = ?")
		args = append(args, filter.FundCode)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	query := `SELECT ` + documentColumns + ` FROM documents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY published_at DESC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := []*Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document with its chunks and sections.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// ReplaceChunks swaps all chunks of a document.
func (s *SQLiteStore) ReplaceChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear chunks of %s: %w", documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, document_id, seq, content, page_ref) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s belongs to %s, not %s", c.ID, c.DocumentID, documentID)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Seq, c.Content, c.PageRef); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET chunk_count = ? WHERE id = ?`, len(chunks), documentID); err != nil {
		return fmt.Errorf("failed to update chunk count: %w", err)
	}
	return tx.Commit()
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	defer rows.Close()
	chunks := []*Chunk{}
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content, &c.PageRef); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// FetchRange returns the chunks of a document with start <= Seq <= end.
func (s *SQLiteStore) FetchRange(ctx context.Context, documentID string, start, end int) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	if end < start {
		return []*Chunk{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq, content, page_ref FROM chunks
		WHERE document_id = ? AND seq BETWEEN ? AND ?
		ORDER BY seq`, documentID, start, end)
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeFetchFailed, "range fetch failed", err).
			WithDetail("document_id", documentID)
	}
	return scanChunks(rows)
}

// GetChunks returns the chunks with the given ids in the order requested.
// Unknown ids are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, seq, content, page_ref FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	found, err := scanChunks(rows)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*Chunk, len(found))
	for _, c := range found {
		byID[c.ID] = c
	}
	ordered := make([]*Chunk, 0, len(found))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
			delete(byID, id)
		}
	}
	return ordered, nil
}

// FullText concatenates every chunk of a document in order.
func (s *SQLiteStore) FullText(ctx context.Context, documentID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, seq, content, page_ref FROM chunks
		WHERE document_id = ? ORDER BY seq`, documentID)
	if err != nil {
		return "", frerrors.New(frerrors.ErrCodeFetchFailed, "full text read failed", err).
			WithDetail("document_id", documentID)
	}
	chunks, err := scanChunks(rows)
	if err != nil {
		return "", err
	}
	if len(chunks) == 0 {
		return "", frerrors.New(frerrors.ErrCodeDocumentNotFound, "document has no content", nil).
			WithDetail("document_id", documentID)
	}

	var b strings.Builder
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(c.Content)
	}
	return b.String(), nil
}

// ReplaceSections swaps all sections of a document.
func (s *SQLiteStore) ReplaceSections(ctx context.Context, documentID string, sections []*Section) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sections WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("failed to clear sections of %s: %w", documentID, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (document_id, id, ordinal, title, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare section insert: %w", err)
	}
	defer stmt.Close()

	for _, sec := range sections {
		if _, err := stmt.ExecContext(ctx, documentID, sec.ID, sec.Ordinal, sec.Title, sec.Content); err != nil {
			return fmt.Errorf("failed to insert section %s: %w", sec.ID, err)
		}
	}
	return tx.Commit()
}

// ListSections returns the section index of a document without content.
func (s *SQLiteStore) ListSections(ctx context.Context, documentID string) ([]*Section, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ordinal, title FROM sections WHERE document_id = ? ORDER BY ordinal`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	defer rows.Close()

	sections := []*Section{}
	for rows.Next() {
		sec := Section{DocumentID: documentID}
		if err := rows.Scan(&sec.ID, &sec.Ordinal, &sec.Title); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, &sec)
	}
	return sections, rows.Err()
}

// ReadSections returns the requested sections with content, in document order.
// Unknown ids are skipped.
func (s *SQLiteStore) ReadSections(ctx context.Context, documentID string, ids []string) ([]*Section, error) {
	if len(ids) == 0 {
		return []*Section{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, documentID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ordinal, title, content FROM sections
		WHERE document_id = ? AND id IN (`+placeholders+`)
		ORDER BY ordinal`, args...)
	if err != nil {
		return nil, frerrors.New(frerrors.ErrCodeFetchFailed, "section read failed", err).
			WithDetail("document_id", documentID)
	}
	defer rows.Close()

	sections := []*Section{}
	for rows.Next() {
		sec := Section{DocumentID: documentID}
		if err := rows.Scan(&sec.ID, &sec.Ordinal, &sec.Title, &sec.Content); err != nil {
			return nil, fmt.Errorf("failed to scan section: %w", err)
		}
		sections = append(sections, &sec)
	}
	return sections, rows.Err()
}

// GetState returns a state value, or "" when unset.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return "", err
	}

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState stores a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Stats counts stored records.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return Stats{}, err
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM sections)`).Scan(&st.Documents, &st.Chunks, &st.Sections)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to count records: %w", err)
	}
	return st, nil
}

// Close checkpoints the WAL and closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.path != "" {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return s.db.Close()
}
