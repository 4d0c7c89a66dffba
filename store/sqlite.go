package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite is the embedded backend, used by default like the original service.
type SQLite struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewSQLite opens (creating if needed) the database file at path and
// applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// WAL and a busy timeout let independent sessions write concurrently.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := NewSQLiteFromDB(db)
	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteFromDB wraps an already opened handle. The schema is not applied.
func NewSQLiteFromDB(db *sql.DB) *SQLite {
	return &SQLite{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db),
	}
}

// InitSchema applies the embedded SQLite schema. It is idempotent.
func (s *SQLite) InitSchema(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema_sqlite.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SQLite) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// CreateDocument inserts a document record.
func (s *SQLite) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	res, err := s.sb.Insert(documentsTable).
		Columns(documentColumns[1:]...).
		Values(doc.OriginalFilename, doc.SavedFilename, doc.FileSize, doc.UploadedAt, doc.SessionID, doc.ContentType).
		ExecContext(ctx)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading document id: %w", err)
	}
	doc.ID = id
	return &doc, nil
}

// GetSessionDocuments returns a session's records ordered by id.
func (s *SQLite) GetSessionDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	rows, err := s.sb.Select(documentColumns...).
		From(documentsTable).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// DeleteSessionDocuments removes all records of a session.
func (s *SQLite) DeleteSessionDocuments(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.sb.Delete(documentsTable).
		Where(sq.Eq{"session_id": sessionID}).
		ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}
