package main

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/scalecode-solutions/mvdocs/ratelimit"
	"github.com/scalecode-solutions/mvdocs/retrieval"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Send buffer size
	sendBufferSize = 16

	defaultIngestTimeout = 2 * time.Minute
	defaultQueryTimeout  = time.Minute
)

// SessionConfig bounds one connection's pipeline calls and frame size.
type SessionConfig struct {
	IngestTimeout  time.Duration
	QueryTimeout   time.Duration
	MaxMessageSize int64
}

// Session is one WebSocket connection serving one upload session.
type Session struct {
	id       string
	conn     *websocket.Conn
	registry *Registry
	pipeline Pipeline
	blobs    BlobStore
	limiter  ratelimit.Policy
	config   SessionConfig
	log      *logrus.Entry

	send       chan string
	done       chan struct{}
	writerDone chan struct{}
	writing    atomic.Bool
	once       sync.Once

	// ingestFailed is only touched by the Run goroutine.
	ingestFailed bool
}

// frame is one message read from the peer.
type frame struct {
	text string
	ok   bool // false for non-text frames
}

// NewSession creates a session for an upgraded connection.
func NewSession(id string, conn *websocket.Conn, registry *Registry, pipeline Pipeline, blobs BlobStore, limiter ratelimit.Policy, cfg SessionConfig, log *logrus.Entry) *Session {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if cfg.IngestTimeout <= 0 {
		cfg.IngestTimeout = defaultIngestTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return &Session{
		id:         id,
		conn:       conn,
		registry:   registry,
		pipeline:   pipeline,
		blobs:      blobs,
		limiter:    limiter,
		config:     cfg,
		log:        log.WithFields(logrus.Fields{"component": "session", "session": shortID(id)}),
		send:       make(chan string, sendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Close flushes queued answers, sends a close frame and closes the
// connection. Safe to call multiple times - only first call takes effect.
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.writing.Load() {
			select {
			case <-s.writerDone:
			case <-time.After(writeWait):
			}
		}
		s.conn.Close()
	})
	return nil
}

// Run serves the connection until it ends. It blocks.
func (s *Session) Run(parent context.Context) {
	if !s.registry.TryConnect(s.id, s) {
		s.reject()
		return
	}
	// Every exit path below funnels through this one disconnect.
	defer s.registry.Disconnect(s.id)
	defer s.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s.log.Info("connected")

	questions := make(chan frame)
	s.writing.Store(true)
	go s.writePump(cancel)
	go s.readPump(ctx, cancel, questions)

	s.ingest(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("disconnected")
			return
		case f, ok := <-questions:
			if !ok {
				s.log.Info("disconnected")
				return
			}
			if !s.reply(ctx, f) {
				return
			}
		}
	}
}

// reject refuses a connection for a session that is not authorized. No
// session state is touched.
func (s *Session) reject() {
	s.log.Warn("connection rejected: session not authorized")
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, CloseReasonUnauthorized)
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.conn.Close()
}

func (s *Session) ingest(ctx context.Context) {
	docs := s.registry.Documents(s.id)
	sources := make([]retrieval.Source, 0, len(docs))
	for _, d := range docs {
		if !s.blobs.Exists(d.SavedFilename) {
			s.log.WithField("file", d.SavedFilename).Warn("document blob missing")
			continue
		}
		sources = append(sources, retrieval.Source{Name: d.SavedFilename, Path: s.blobs.Path(d.SavedFilename)})
	}

	ictx, cancel := context.WithTimeout(ctx, s.config.IngestTimeout)
	defer cancel()

	start := time.Now()
	if len(sources) == 0 && len(docs) > 0 {
		s.log.Error("ingest failed: no document blobs")
		s.ingestFailed = true
		return
	}
	if err := s.pipeline.Ingest(ictx, s.id, sources); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.WithError(err).Error("ingest failed")
		s.ingestFailed = true
		return
	}
	s.log.WithFields(logrus.Fields{
		"documents": len(sources),
		"duration":  time.Since(start),
	}).Info("documents ingested")
}

// reply handles one frame and queues exactly one reply. It returns false
// when the connection is gone.
func (s *Session) reply(ctx context.Context, f frame) bool {
	if !f.ok {
		return s.queue(ctx, NoticeTextOnly)
	}
	question := strings.TrimSpace(f.text)
	if question == "" {
		return s.queue(ctx, NoticeEmptyQuestion)
	}

	ok, err := s.limiter.Allow(ctx, "ws:"+s.id)
	if err != nil {
		s.log.WithError(err).Warn("message rate limit check failed")
	}
	if !ok {
		return s.queue(ctx, NoticeRateLimited)
	}
	if s.ingestFailed {
		return s.queue(ctx, NoticeIngestFailed)
	}

	qctx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	reply, err := s.pipeline.Query(qctx, s.id, question)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if errors.Is(err, retrieval.ErrEmptyQuestion) {
			return s.queue(ctx, NoticeEmptyQuestion)
		}
		s.log.WithError(err).Error("query failed")
		reply = NoticeQueryFailed
	}
	return s.queue(ctx, reply)
}

// queue hands text to the writer.
func (s *Session) queue(ctx context.Context, text string) bool {
	select {
	case s.send <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// readPump forwards data frames to Run. It cancels the session when
// the peer goes away so an outstanding pipeline call is abandoned.
func (s *Session) readPump(ctx context.Context, cancel context.CancelFunc, questions chan<- frame) {
	defer close(questions)
	defer cancel()

	if s.config.MaxMessageSize > 0 {
		s.conn.SetReadLimit(s.config.MaxMessageSize)
	}
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		typ, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.WithError(err).Debug("read error")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case questions <- frame{text: string(message), ok: typ == websocket.TextMessage}:
		case <-ctx.Done():
			return
		}
	}
}

// writePump writes queued replies and pings. On close it drains what is
// queued before sending the close frame.
func (s *Session) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(s.writerDone)
		cancel()
	}()

	for {
		select {
		case text := <-s.send:
			if err := s.write(text); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.done:
			for {
				select {
				case text := <-s.send:
					if err := s.write(text); err != nil {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (s *Session) write(text string) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}
