// Package store provides durable document records for mvdocs.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateName is returned when a saved filename is already recorded.
var ErrDuplicateName = errors.New("store: saved filename already exists")

// Document is the durable record of one accepted upload.
type Document struct {
	ID               int64     `json:"id"`
	OriginalFilename string    `json:"original_filename"`
	SavedFilename    string    `json:"saved_filename"`
	FileSize         int64     `json:"file_size"`
	UploadedAt       time.Time `json:"upload_datetime"`
	SessionID        string    `json:"session_id"`
	ContentType      string    `json:"content_type"`
}

// Store defines the interface for document record operations.
// This interface enables mocking for unit tests.
type Store interface {
	// Close closes the database connection.
	Close()

	// CreateDocument inserts a record and returns it with ID and upload time set.
	CreateDocument(ctx context.Context, doc Document) (*Document, error)
	// GetSessionDocuments returns a session's records in upload order.
	GetSessionDocuments(ctx context.Context, sessionID string) ([]Document, error)
	// DeleteSessionDocuments removes every record of a session and reports how many.
	DeleteSessionDocuments(ctx context.Context, sessionID string) (int64, error)
}

// Compile-time checks that both backends implement Store.
var (
	_ Store = (*DB)(nil)
	_ Store = (*SQLite)(nil)
)

// table and columns shared by both backends.
const documentsTable = "pdf_file_uploads"

var documentColumns = []string{
	"id", "original_filename", "saved_filename", "file_size",
	"upload_datetime", "session_id", "content_type",
}

// rowScanner is satisfied by pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.OriginalFilename, &d.SavedFilename, &d.FileSize, &d.UploadedAt, &d.SessionID, &d.ContentType)
	d.UploadedAt = d.UploadedAt.UTC()
	return d, err
}
