package main

import (
	"context"
	"io"

	"github.com/scalecode-solutions/mvdocs/blob"
	"github.com/scalecode-solutions/mvdocs/redis"
	"github.com/scalecode-solutions/mvdocs/retrieval"
)

// Pipeline is the retrieval capability the connection manager and the
// cleanup coordinator depend on.
type Pipeline interface {
	Ingest(ctx context.Context, sessionID string, sources []retrieval.Source) error
	Query(ctx context.Context, sessionID, question string) (string, error)
	Cleanup(sessionID string)
}

// BlobStore holds uploaded document bytes.
type BlobStore interface {
	Save(ctx context.Context, name string, data io.Reader) (int64, error)
	Path(name string) string
	Exists(name string) bool
	Delete(name string) error
}

// Conn is the live connection handle the registry keeps per session.
type Conn interface {
	Close() error
}

// Terminator runs teardown for a session that has ended.
type Terminator interface {
	Terminate(sessionID string)
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Compile-time checks.
var (
	_ Pipeline   = (*retrieval.Engine)(nil)
	_ BlobStore  = (*blob.Store)(nil)
	_ Conn       = (*Session)(nil)
	_ Terminator = (*Coordinator)(nil)
	_ Pinger     = (*redis.Client)(nil)
)
