package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/scalecode-solutions/mvdocs/config"
	"github.com/scalecode-solutions/mvdocs/middleware"
	"github.com/scalecode-solutions/mvdocs/ratelimit"
	"github.com/sirupsen/logrus"
)

// Multipart parts beyond this stay on disk while the form is parsed.
const multipartMemory = 32 << 20

// ServerDeps are the collaborators a Server routes requests to.
type ServerDeps struct {
	Registry      *Registry
	Uploads       *UploadGate
	Pipeline      Pipeline
	Blobs         BlobStore
	Cleanup       *Coordinator
	Redis         Pinger // nil when Redis is disabled
	UploadLimit   ratelimit.Policy
	MessageLimit  ratelimit.Policy
	SessionConfig SessionConfig
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	deps     ServerDeps
	config   *config.Config
	upgrader websocket.Upgrader
	log      *logrus.Entry

	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup
}

// NewServer creates a new server.
func NewServer(deps ServerDeps, cfg *config.Config, log *logrus.Entry) *Server {
	if deps.UploadLimit == nil {
		deps.UploadLimit = ratelimit.Noop{}
	}
	if deps.MessageLimit == nil {
		deps.MessageLimit = ratelimit.Noop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		deps:   deps,
		config: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     middleware.CheckOrigin(cfg.Server.AllowedOrigins),
		},
		log:    log.WithField("component", "server"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetupRoutes configures HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /uploadfiles/", s.handleUpload)
	mux.HandleFunc("GET /ws/{session_id}", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleIndex)
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: s.config.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:         86400, // 24 hours
	})
	return middleware.Recover(s.log)(middleware.RequestLog(s.log)(cors(mux)))
}

// Shutdown closes every live connection and waits for their teardown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	n := s.deps.Registry.CloseAll()
	s.log.WithField("connections", n).Info("closing connections")

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleUpload accepts a multipart batch of PDFs under the "files" field.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r, s.config.Server.UseXForwardedFor)
	ok, err := s.deps.UploadLimit.Allow(r.Context(), "upload:"+ip)
	if err != nil {
		s.log.WithError(err).Warn("upload rate limit check failed")
	}
	if !ok {
		s.log.WithField("ip", ip).Warn("upload rate limited")
		writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Message: MsgUploadLimited})
		return
	}

	if limit := s.config.Storage.MaxRequestSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Message: MsgUploadTooLarge})
			return
		}
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Message: MsgFilesRequired})
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Message: MsgFilesRequired})
		return
	}

	files := make([]IncomingFile, len(headers))
	for i, fh := range headers {
		files[i] = incomingFile(fh)
	}

	res := s.deps.Uploads.Upload(r.Context(), files)
	if len(res.Accepted) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Message: MsgNoFilesUploaded,
			Errors:  errorBodies(res.Errors),
		})
		return
	}

	body := UploadResponse{
		Files:     make([]UploadedFile, len(res.Accepted)),
		Errors:    errorBodies(res.Errors),
		SessionID: res.SessionID,
	}
	for i, d := range res.Accepted {
		body.Files[i] = UploadedFile{OriginalName: d.OriginalFilename, SavedName: d.SavedFilename}
	}
	writeJSON(w, http.StatusOK, body)
}

func incomingFile(fh *multipart.FileHeader) IncomingFile {
	return IncomingFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// handleWebSocket upgrades HTTP to WebSocket and runs the session.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	sess := NewSession(id, conn, s.deps.Registry, s.deps.Pipeline, s.deps.Blobs,
		s.deps.MessageLimit, s.deps.SessionConfig, s.log.Logger.WithField("ip", clientIP(r, s.config.Server.UseXForwardedFor)))

	s.sessions.Add(1)
	defer s.sessions.Done()

	// Run the session (blocks until session closes)
	sess.Run(s.ctx)
}

// handleHealth is a simple health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Sessions:  s.deps.Registry.Count(),
		Connected: s.deps.Registry.ConnectedCount(),
	}
	if s.deps.Cleanup != nil {
		resp.Cleanups = s.deps.Cleanup.Runs()
	}
	status := http.StatusOK
	if s.deps.Redis != nil {
		resp.Redis = "ok"
		if err := s.deps.Redis.Ping(r.Context()); err != nil {
			s.log.WithError(err).Warn("redis health check failed")
			resp.Status = "degraded"
			resp.Redis = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head><title>mvdocs</title></head>
<body>
<h1>Upload PDFs</h1>
<form id="upload">
  <input type="file" name="files" accept="application/pdf" multiple>
  <button type="submit">Upload</button>
</form>
<div id="chat" hidden>
  <pre id="log"></pre>
  <input id="question" size="60" placeholder="Ask a question">
  <button id="ask">Ask</button>
</div>
<script>
const log = (line) => { document.getElementById("log").textContent += line + "\n"; };
document.getElementById("upload").onsubmit = async (e) => {
  e.preventDefault();
  const res = await fetch("/uploadfiles/", { method: "POST", body: new FormData(e.target) });
  const body = await res.json();
  if (!res.ok) { alert(body.message); return; }
  const scheme = location.protocol === "https:" ? "wss" : "ws";
  const ws = new WebSocket(scheme + "://" + location.host + "/ws/" + body.session_id);
  ws.onmessage = (m) => log("< " + m.data);
  ws.onclose = (c) => log("closed " + c.code + " " + c.reason);
  document.getElementById("chat").hidden = false;
  document.getElementById("ask").onclick = () => {
    const q = document.getElementById("question");
    log("> " + q.value);
    ws.send(q.value);
    q.value = "";
  };
};
</script>
</body>
</html>
`
