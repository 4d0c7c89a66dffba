package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/scalecode-solutions/mvdocs/config"
)

//go:embed schema.sql schema_sqlite.sql
var schemaFS embed.FS

// psq builds PostgreSQL statements with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

// querier is the part of *pgxpool.Pool the backend uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is the PostgreSQL backend, holding a pgx connection pool.
type DB struct {
	pool    *pgxpool.Pool
	q       querier
	timeout time.Duration
}

// Open returns the backend selected by cfg.Driver.
func Open(cfg *config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return New(cfg)
	case "sqlite":
		return NewSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// New creates a new PostgreSQL connection pool.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = time.Duration(cfg.ConnMaxLifetime) * time.Second

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		pool:    pool,
		q:       pool,
		timeout: time.Duration(cfg.SQLTimeout) * time.Second,
	}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Context returns a context with the configured timeout.
func (db *DB) Context() (context.Context, context.CancelFunc) {
	if db.timeout > 0 {
		return context.WithTimeout(context.Background(), db.timeout)
	}
	return context.Background(), func() {}
}

// InitSchema creates the database schema if it doesn't exist.
func (db *DB) InitSchema() error {
	ctx, cancel := db.Context()
	defer cancel()

	var exists bool
	err := db.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = 'schema_version'
		)
	`).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check schema: %w", err)
	}

	if exists {
		return nil
	}

	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.q.Exec(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// GetSchemaVersion returns the current schema version.
func (db *DB) GetSchemaVersion() (int, error) {
	ctx, cancel := db.Context()
	defer cancel()

	var version int
	err := db.q.QueryRow(ctx, `SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// CreateDocument inserts a document record.
func (db *DB) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}

	query, args, err := psq.Insert(documentsTable).
		Columns(documentColumns[1:]...).
		Values(doc.OriginalFilename, doc.SavedFilename, doc.FileSize, doc.UploadedAt, doc.SessionID, doc.ContentType).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building insert: %w", err)
	}

	if err := db.q.QueryRow(ctx, query, args...).Scan(&doc.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateName
		}
		return nil, fmt.Errorf("inserting document: %w", err)
	}

	return &doc, nil
}

// GetSessionDocuments returns a session's records ordered by id.
func (db *DB) GetSessionDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	query, args, err := psq.Select(documentColumns...).
		From(documentsTable).
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := db.q.Query(ctx, query, args...)
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
func (db *DB) DeleteSessionDocuments(ctx context.Context, sessionID string) (int64, error) {
	query, args, err := psq.Delete(documentsTable).
		Where(sq.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}

	tag, err := db.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	return tag.RowsAffected(), nil
}
