// Package retrieval indexes a session's documents and answers questions
// against them.
//
// Documents are extracted to text, cut into overlapping chunks and kept in
// a per-session in-memory index. A question is matched against the index by
// term overlap; the best passages either go to a Generator as context or,
// without one, are returned as the answer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// NoDocumentsAnswer is returned by Query when the session has no index.
const NoDocumentsAnswer = "No documents found for this session. Please upload PDFs first."

// NotFoundAnswer is returned when no passage matches the question.
const NotFoundAnswer = "I cannot find the answer in the provided documents."

// ErrEmptyQuestion is returned by Query for a blank question.
var ErrEmptyQuestion = errors.New("retrieval: empty question")

// Source is one stored document to ingest.
type Source struct {
	// Name identifies the document in logs, usually the saved filename.
	Name string
	// Path is where the document bytes are stored.
	Path string
}

// Config configures an Engine.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	TopK         int
}

// Engine is the in-process retrieval pipeline.
type Engine struct {
	mu      sync.RWMutex
	indexes map[string]*index

	extractor Extractor
	generator Generator
	chunker   *Chunker
	topK      int
	log       *logrus.Entry
}

// New creates an Engine. generator may be nil.
func New(cfg Config, extractor Extractor, generator Generator, log *logrus.Entry) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		indexes:   make(map[string]*index),
		extractor: extractor,
		generator: generator,
		chunker:   NewChunker(WithChunkSize(cfg.ChunkSize), WithOverlap(cfg.ChunkOverlap)),
		topK:      cfg.TopK,
		log:       log,
	}
}

// Ingest builds a fresh index for sessionID from sources, replacing any
// previous one. Sources that fail to extract are skipped; if none succeed
// the previous index is dropped and an error is returned.
func (e *Engine) Ingest(ctx context.Context, sessionID string, sources []Source) error {
	ix := newIndex()
	var errs []error
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			e.Cleanup(sessionID)
			return err
		}
		text, err := e.extractor.Extract(ctx, src.Path)
		if err != nil {
			e.log.WithError(err).WithField("document", src.Name).Warn("extraction failed")
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		ix.add(src.Name, e.chunker.Split(text))
	}

	if len(sources) > 0 && len(errs) == len(sources) {
		e.Cleanup(sessionID)
		return fmt.Errorf("ingest failed: %w", errors.Join(errs...))
	}

	e.mu.Lock()
	e.indexes[sessionID] = ix
	e.mu.Unlock()

	e.log.WithFields(logrus.Fields{
		"session":  shortID(sessionID),
		"sources":  len(sources),
		"passages": len(ix.passages),
	}).Debug("ingested")
	return nil
}

// Query answers question from sessionID's index.
func (e *Engine) Query(ctx context.Context, sessionID, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}

	e.mu.RLock()
	ix := e.indexes[sessionID]
	e.mu.RUnlock()
	if ix == nil || ix.empty() {
		return NoDocumentsAnswer, nil
	}

	hits := ix.search(question, e.topK)

	if e.generator == nil {
		if len(hits) == 0 {
			return NotFoundAnswer, nil
		}
		texts := make([]string, len(hits))
		for i, h := range hits {
			texts[i] = h.text
		}
		return strings.Join(texts, "\n\n"), nil
	}

	// The generator always gets context, like a nearest-neighbour lookup.
	if len(hits) == 0 {
		hits = ix.head(e.topK)
	}
	answer, err := e.generator.Generate(ctx, buildPrompt(hits, question))
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	if answer == "" {
		return NotFoundAnswer, nil
	}
	return answer, nil
}

// Cleanup drops sessionID's index. It is safe to call repeatedly.
func (e *Engine) Cleanup(sessionID string) {
	e.mu.Lock()
	delete(e.indexes, sessionID)
	e.mu.Unlock()
}

// Sessions returns the number of indexed sessions.
func (e *Engine) Sessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.indexes)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
