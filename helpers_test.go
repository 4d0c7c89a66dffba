package main

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/scalecode-solutions/mvdocs/retrieval"
	"github.com/scalecode-solutions/mvdocs/store"
	"github.com/sirupsen/logrus"
)

// quietLog returns a logger entry that discards output.
func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

// fakeConn records Close calls.
type fakeConn struct {
	closed atomic.Int32
}

func (c *fakeConn) Close() error {
	c.closed.Add(1)
	return nil
}

// countingTerminator records Terminate calls.
type countingTerminator struct {
	mu    sync.Mutex
	calls []string
}

func (t *countingTerminator) Terminate(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, id)
}

func (t *countingTerminator) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

// fakePipeline is a Pipeline with overridable behavior.
type fakePipeline struct {
	IngestFn func(ctx context.Context, sessionID string, sources []retrieval.Source) error
	QueryFn  func(ctx context.Context, sessionID, question string) (string, error)

	mu       sync.Mutex
	ingested map[string][]retrieval.Source
	cleaned  []string
}

func (p *fakePipeline) Ingest(ctx context.Context, sessionID string, sources []retrieval.Source) error {
	if p.IngestFn != nil {
		return p.IngestFn(ctx, sessionID, sources)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ingested == nil {
		p.ingested = make(map[string][]retrieval.Source)
	}
	p.ingested[sessionID] = sources
	return nil
}

func (p *fakePipeline) Query(ctx context.Context, sessionID, question string) (string, error) {
	if p.QueryFn != nil {
		return p.QueryFn(ctx, sessionID, question)
	}
	return "answer: " + question, nil
}

func (p *fakePipeline) Cleanup(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleaned = append(p.cleaned, sessionID)
}

func (p *fakePipeline) cleanups() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cleaned...)
}

// memBlobs is an in-memory BlobStore.
type memBlobs struct {
	SaveFn   func(ctx context.Context, name string, data io.Reader) (int64, error)
	DeleteFn func(name string) error

	mu    sync.Mutex
	files map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{files: make(map[string]string)}
}

func (b *memBlobs) Save(ctx context.Context, name string, data io.Reader) (int64, error) {
	if b.SaveFn != nil {
		return b.SaveFn(ctx, name, data)
	}
	var sb strings.Builder
	n, err := io.Copy(&sb, data)
	if err != nil {
		return n, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.files[name] = sb.String()
	return n, nil
}

func (b *memBlobs) Path(name string) string {
	return "/blobs/" + name
}

func (b *memBlobs) Delete(name string) error {
	if b.DeleteFn != nil {
		return b.DeleteFn(name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, name)
	return nil
}

func (b *memBlobs) Exists(name string) bool {
	return b.has(name)
}

func (b *memBlobs) has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.files[name]
	return ok
}

func (b *memBlobs) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.files)
}

// pdfFile builds an IncomingFile with the given content.
func pdfFile(name, contentType, content string) IncomingFile {
	return IncomingFile{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(content)), nil
		},
	}
}

func testDocs(sessionID string, names ...string) []store.Document {
	docs := make([]store.Document, len(names))
	for i, n := range names {
		docs[i] = store.Document{
			ID:               int64(i + 1),
			OriginalFilename: n,
			SavedFilename:    n,
			SessionID:        sessionID,
			ContentType:      pdfContentType,
		}
	}
	return docs
}
