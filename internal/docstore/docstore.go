// Package docstore provides the SQLite-backed document repository. Documents
// are the source records for retrieval: their content is embedded and pushed
// to the vector store, and the resulting vector ID is tracked per document so
// the two systems can be kept in sync.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when no document exists with the requested ID.
var ErrNotFound = errors.New("docstore: document not found")

// Document is a stored source record. VectorID is empty until the document
// has been synchronized to the vector store.
type Document struct {
	// ID is the document's unique identifier (UUID).
	ID string `json:"id"`
	// Title is the human-readable document title.
	Title string `json:"title"`
	// Content is the full document text that gets embedded.
	Content string `json:"content"`
	// Source is an optional origin marker (URL, filename, import batch).
	Source string `json:"source,omitempty"`
	// VectorID is the ID of the document's vector in the vector store,
	// or empty if the document has not been synchronized.
	VectorID string `json:"vector_id,omitempty"`
	// CreatedAt is when the document was first persisted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the document was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// Synced reports whether the document currently references a vector.
func (d *Document) Synced() bool {
	return d.VectorID != ""
}

// Repository persists and retrieves documents. Implementations must be safe
// for concurrent use.
type Repository interface {
	// Create persists a new document and returns it with ID and timestamps set.
	Create(ctx context.Context, title, content, source string) (*Document, error)
	// Get returns the document with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Document, error)
	// List returns documents ordered newest-first. offset and limit page the
	// result; limit <= 0 means no limit.
	List(ctx context.Context, offset, limit int) ([]*Document, error)
	// Update replaces the title and content of an existing document and
	// clears nothing else; the vector reference is left untouched so the
	// caller can decide when to re-synchronize.
	Update(ctx context.Context, id, title, content string) (*Document, error)
	// Delete removes the document and returns the vector ID it referenced,
	// or empty if it was never synchronized. ErrNotFound if no such document.
	Delete(ctx context.Context, id string) (vectorID string, err error)
	// SetVectorID records the document's vector reference. An empty vectorID
	// clears the reference.
	SetVectorID(ctx context.Context, id, vectorID string) error
	// Close releases any resources held by the repository.
	Close() error
}

// SQLiteRepository is a Repository backed by a local SQLite database.
type SQLiteRepository struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ Repository = (*SQLiteRepository)(nil)

// DefaultDBPath returns the default path for the document database.
// It resolves to ~/.ragstack/documents.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("docstore: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".ragstack")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("docstore: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "documents.db"), nil
}

// Open opens (or creates) a SQLiteRepository at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteRepository, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &SQLiteRepository{db: db}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *SQLiteRepository) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    title        TEXT    NOT NULL,
    content      TEXT    NOT NULL,
    source       TEXT    NOT NULL DEFAULT '',
    vector_id    TEXT    NOT NULL DEFAULT '',
    created_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_created
    ON documents (created_at DESC);
CREATE INDEX IF NOT EXISTS idx_documents_vector
    ON documents (vector_id) WHERE vector_id != '';
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("docstore: migrate: %w", err)
	}
	return nil
}

// Create persists a new document and returns it with ID and timestamps set.
func (r *SQLiteRepository) Create(ctx context.Context, title, content, source string) (*Document, error) {
	now := time.Now()
	doc := &Document{
		ID:        uuid.NewString(),
		Title:     title,
		Content:   content,
		Source:    source,
		CreatedAt: now,
		UpdatedAt: now,
	}
	const q = `INSERT INTO documents (id, title, content, source, vector_id, created_at, updated_at)
VALUES (?, ?, ?, ?, '', ?, ?)`
	if _, err := r.db.ExecContext(ctx, q, doc.ID, doc.Title, doc.Content, doc.Source, now.Unix(), now.Unix()); err != nil {
		return nil, fmt.Errorf("docstore: create: %w", err)
	}
	return doc, nil
}

// Get returns the document with the given ID, or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Document, error) {
	const q = `SELECT id, title, content, source, vector_id, created_at, updated_at
FROM documents WHERE id = ?`
	doc, err := scanDocument(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get: %w", err)
	}
	return doc, nil
}

// List returns documents ordered newest-first.
func (r *SQLiteRepository) List(ctx context.Context, offset, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = -1 // SQLite: negative LIMIT means unlimited
	}
	if offset < 0 {
		offset = 0
	}
	const q = `SELECT id, title, content, source, vector_id, created_at, updated_at
FROM documents ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`

	rows, err := r.db.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("docstore: list scan: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("docstore: list rows: %w", err)
	}
	return docs, nil
}

// Update replaces the title and content of an existing document.
func (r *SQLiteRepository) Update(ctx context.Context, id, title, content string) (*Document, error) {
	const q = `UPDATE documents SET title = ?, content = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, title, content, time.Now().Unix(), id)
	if err != nil {
		return nil, fmt.Errorf("docstore: update: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// Delete removes the document and returns the vector ID it referenced.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) (string, error) {
	var vectorID string
	err := r.db.QueryRowContext(ctx, `SELECT vector_id FROM documents WHERE id = ?`, id).Scan(&vectorID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("docstore: delete lookup: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return "", fmt.Errorf("docstore: delete: %w", err)
	}
	return vectorID, nil
}

// SetVectorID records the document's vector reference.
func (r *SQLiteRepository) SetVectorID(ctx context.Context, id, vectorID string) error {
	const q = `UPDATE documents SET vector_id = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, q, vectorID, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("docstore: set vector id: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the database connection pool.
func (r *SQLiteRepository) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("docstore: close: %w", err)
	}
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanDocument.
type scanner interface {
	Scan(dest ...any) error
}

// scanDocument reads one documents row in column order.
func scanDocument(s scanner) (*Document, error) {
	var doc Document
	var created, updated int64
	if err := s.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.Source, &doc.VectorID, &created, &updated); err != nil {
		return nil, err
	}
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	return &doc, nil
}
