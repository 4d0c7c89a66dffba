package main

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/scalecode-solutions/mvdocs/store"
	"github.com/sirupsen/logrus"
)

// SessionState is the lifecycle state of a session.
type SessionState int32

const (
	StateUnauthorized SessionState = iota
	StateAuthorized
	StateConnected
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorized:
		return "authorized"
	case StateConnected:
		return "connected"
	case StateTerminated:
		return "terminated"
	default:
		return "invalid"
	}
}

// ErrSessionUnavailable is returned by Authorize for a session that is
// connected or already terminated.
var ErrSessionUnavailable = errors.New("session is not available for authorization")

// sessionEntry is the registry's record of one session. state moves only by
// compare-and-set; Terminated is absorbing.
type sessionEntry struct {
	state         atomic.Int32
	everConnected atomic.Bool
	docs          []store.Document // immutable after Authorize

	mu   sync.Mutex
	conn Conn
}

func (e *sessionEntry) load() SessionState {
	return SessionState(e.state.Load())
}

func (e *sessionEntry) cas(from, to SessionState) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// Registry is the authoritative record of sessions and their single live
// connection. Unknown ids behave as Unauthorized.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	terminator Terminator
	log        *logrus.Entry
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		log:      log.WithField("component", "registry"),
	}
}

// SetTerminator sets who runs teardown when a connected session ends.
// Must be called before sessions connect.
func (r *Registry) SetTerminator(t Terminator) {
	r.terminator = t
}

func (r *Registry) get(id string) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// Authorize moves id to Authorized with its accepted documents. Repeating
// it for an Authorized session is a no-op.
func (r *Registry) Authorize(id string, docs []store.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[id]; ok {
		if e.load() == StateAuthorized {
			return nil
		}
		return ErrSessionUnavailable
	}

	e := &sessionEntry{docs: append([]store.Document(nil), docs...)}
	e.state.Store(int32(StateAuthorized))
	r.sessions[id] = e

	r.log.WithFields(logrus.Fields{
		"session":   shortID(id),
		"documents": len(docs),
	}).Info("session authorized")
	return nil
}

// TryConnect claims id for conn. It succeeds only from Authorized; on
// failure nothing changes.
func (r *Registry) TryConnect(id string, conn Conn) bool {
	e := r.get(id)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.cas(StateAuthorized, StateConnected) {
		return false
	}
	e.conn = conn
	e.everConnected.Store(true)
	return true
}

// Disconnect clears id's connection. A session that has ever connected is
// moved to Terminated and handed to the terminator; only the call that
// performs that transition returns true.
func (r *Registry) Disconnect(id string) bool {
	e := r.get(id)
	if e == nil {
		return false
	}

	e.mu.Lock()
	e.conn = nil
	e.mu.Unlock()

	if !e.everConnected.Load() {
		e.cas(StateConnected, StateAuthorized)
		return false
	}

	for {
		cur := e.load()
		if cur == StateTerminated {
			return false
		}
		if e.cas(cur, StateTerminated) {
			break
		}
	}

	r.log.WithField("session", shortID(id)).Info("session terminated")
	if r.terminator != nil {
		r.terminator.Terminate(id)
	}
	return true
}

// Remove deletes id entirely, so the token can never reconnect.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// State returns id's current state.
func (r *Registry) State(id string) SessionState {
	e := r.get(id)
	if e == nil {
		return StateUnauthorized
	}
	return e.load()
}

// Documents returns a copy of id's accepted documents.
func (r *Registry) Documents(id string) []store.Document {
	e := r.get(id)
	if e == nil {
		return nil
	}
	return append([]store.Document(nil), e.docs...)
}

// Count returns the number of known sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// ConnectedCount returns the number of sessions with a live connection.
func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.sessions {
		if e.load() == StateConnected {
			n++
		}
	}
	return n
}

// CloseAll closes every live connection, used at shutdown. Each connection's
// own goroutine then runs the normal disconnect path.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	var conns []Conn
	for _, e := range r.sessions {
		e.mu.Lock()
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
	return len(conns)
}
