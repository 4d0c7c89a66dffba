// Package blob stores uploaded document bytes on local disk.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrTooLarge is returned by Save when the stream exceeds MaxSize.
	ErrTooLarge = errors.New("blob: size exceeds limit")
	// ErrInvalidName is returned for names that are not a plain file name.
	ErrInvalidName = errors.New("blob: invalid name")
)

// Config holds blob storage configuration.
type Config struct {
	Dir     string
	MaxSize int64
}

// Store writes, locates and deletes blobs under one directory.
type Store struct {
	config Config
}

// New creates the upload directory if needed and returns a Store.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Store{config: cfg}, nil
}

// Save streams data into a blob called name and returns the bytes written.
// Data goes to a temp file first and is renamed into place, so a failed or
// oversized write never leaves a partial blob under name.
func (s *Store) Save(ctx context.Context, name string, data io.Reader) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(s.config.Dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	src := data
	if s.config.MaxSize > 0 {
		// One extra byte distinguishes "exactly at the limit" from "over".
		src = io.LimitReader(data, s.config.MaxSize+1)
	}

	size, err := io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if s.config.MaxSize > 0 && size > s.config.MaxSize {
		return size, ErrTooLarge
	}

	if err := os.Rename(tmpPath, s.Path(name)); err != nil {
		return 0, fmt.Errorf("failed to move file: %w", err)
	}
	return size, nil
}

// Path returns the full path for a blob name.
func (s *Store) Path(name string) string {
	return filepath.Join(s.config.Dir, name)
}

// Exists reports whether a blob is present.
func (s *Store) Exists(name string) bool {
	if checkName(name) != nil {
		return false
	}
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (s *Store) Delete(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(s.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return ErrInvalidName
	}
	return nil
}
