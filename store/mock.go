package store

import (
	"context"
	"sync"
)

// MockStore is a mock implementation of Store for testing.
// Each method field can be set to a custom function to control behavior.
// Unset fields fall back to an in-memory table so tests only override
// what they care about.
type MockStore struct {
	CreateDocumentFn         func(ctx context.Context, doc Document) (*Document, error)
	GetSessionDocumentsFn    func(ctx context.Context, sessionID string) ([]Document, error)
	DeleteSessionDocumentsFn func(ctx context.Context, sessionID string) (int64, error)

	mu     sync.Mutex
	nextID int64
	docs   []Document
	closed bool
}

// Compile-time check that MockStore implements Store.
var _ Store = (*MockStore)(nil)

// Close marks the mock closed.
func (m *MockStore) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// CreateDocument calls CreateDocumentFn or records the document in memory.
func (m *MockStore) CreateDocument(ctx context.Context, doc Document) (*Document, error) {
	if m.CreateDocumentFn != nil {
		return m.CreateDocumentFn(ctx, doc)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.SavedFilename == doc.SavedFilename {
			return nil, ErrDuplicateName
		}
	}
	m.nextID++
	doc.ID = m.nextID
	m.docs = append(m.docs, doc)
	return &doc, nil
}

// GetSessionDocuments calls GetSessionDocumentsFn or reads from memory.
func (m *MockStore) GetSessionDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	if m.GetSessionDocumentsFn != nil {
		return m.GetSessionDocumentsFn(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.docs {
		if d.SessionID == sessionID {
			out = append(out, d)
		}
	}
	return out, nil
}

// DeleteSessionDocuments calls DeleteSessionDocumentsFn or deletes from memory.
func (m *MockStore) DeleteSessionDocuments(ctx context.Context, sessionID string) (int64, error) {
	if m.DeleteSessionDocumentsFn != nil {
		return m.DeleteSessionDocumentsFn(ctx, sessionID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.docs[:0]
	var n int64
	for _, d := range m.docs {
		if d.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, d)
	}
	m.docs = kept
	return n, nil
}

// Len returns the number of in-memory records.
func (m *MockStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}
