package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/scalecode-solutions/mvdocs/blob"
	"github.com/scalecode-solutions/mvdocs/store"
	"github.com/sirupsen/logrus"
)

const (
	pdfExtension   = ".pdf"
	pdfContentType = "application/pdf"
)

// IncomingFile is one file of an upload batch as received.
type IncomingFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// UploadResult is the aggregated outcome of one upload call. SessionID is
// empty when no file was accepted.
type UploadResult struct {
	SessionID string
	Accepted  []store.Document
	Errors    []*FileError
}

// fileOutcome is the tagged result for one file: exactly one field is set.
type fileOutcome struct {
	doc *store.Document
	err *FileError
}

// UploadGate validates and persists upload batches and authorizes the
// session they create.
type UploadGate struct {
	store    store.Store
	blobs    BlobStore
	registry *Registry
	maxSize  int64
	log      *logrus.Entry
	newID    func() string
}

// NewUploadGate creates an upload gate.
func NewUploadGate(db store.Store, blobs BlobStore, registry *Registry, maxSize int64, log *logrus.Entry) *UploadGate {
	return &UploadGate{
		store:    db,
		blobs:    blobs,
		registry: registry,
		maxSize:  maxSize,
		log:      log.WithField("component", "upload"),
		newID:    uuid.NewString,
	}
}

// Upload processes every file independently and aggregates once. When at
// least one file is accepted, a fresh session is authorized with them.
func (g *UploadGate) Upload(ctx context.Context, files []IncomingFile) UploadResult {
	sessionID := g.newID()

	outcomes := make([]fileOutcome, 0, len(files))
	for _, f := range files {
		outcomes = append(outcomes, g.process(ctx, sessionID, f))
	}

	var res UploadResult
	for _, o := range outcomes {
		if o.err != nil {
			res.Errors = append(res.Errors, o.err)
			continue
		}
		res.Accepted = append(res.Accepted, *o.doc)
	}

	log := g.log.WithFields(logrus.Fields{
		"files":    len(files),
		"accepted": len(res.Accepted),
		"rejected": len(res.Errors),
	})
	if len(res.Accepted) == 0 {
		log.Info("upload rejected")
		return res
	}

	if err := g.registry.Authorize(sessionID, res.Accepted); err != nil {
		// Fresh uuids never collide; treat it like any storage failure.
		log.WithError(err).Error("authorize failed")
		g.discard(res.Accepted)
		for _, d := range res.Accepted {
			res.Errors = append(res.Errors, storageError(d.OriginalFilename))
		}
		res.Accepted = nil
		return res
	}

	res.SessionID = sessionID
	log.WithField("session", shortID(sessionID)).Info("upload accepted")
	return res
}

func (g *UploadGate) process(ctx context.Context, sessionID string, f IncomingFile) fileOutcome {
	name := strings.TrimSpace(f.Filename)
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "" || base == "." || base == "/" {
		return fileOutcome{err: &FileError{Filename: f.Filename, Kind: KindValidation, Reason: "missing filename"}}
	}

	if g.maxSize > 0 && f.Size > g.maxSize {
		return fileOutcome{err: g.oversize(f.Filename, f.Size)}
	}

	ext := filepath.Ext(base)
	mediaType, _, err := mime.ParseMediaType(f.ContentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(f.ContentType))
	}
	if !strings.EqualFold(ext, pdfExtension) || mediaType != pdfContentType {
		declared := f.ContentType
		if declared == "" {
			declared = "no content type"
		}
		return fileOutcome{err: &FileError{
			Filename: f.Filename,
			Kind:     KindValidation,
			Reason:   fmt.Sprintf("invalid type: only PDF files are allowed (got %s)", declared),
		}}
	}

	saved := fmt.Sprintf("%s_%s%s", strings.TrimSuffix(base, ext), uuid.NewString(), ext)
	log := g.log.WithFields(logrus.Fields{"session": shortID(sessionID), "file": saved})

	size, err := g.saveBlob(ctx, saved, f)
	if errors.Is(err, blob.ErrTooLarge) {
		return fileOutcome{err: g.oversize(f.Filename, size)}
	}
	if err != nil {
		log.WithError(err).Error("blob write failed")
		return fileOutcome{err: storageError(f.Filename)}
	}

	doc, err := g.store.CreateDocument(ctx, store.Document{
		OriginalFilename: f.Filename,
		SavedFilename:    saved,
		FileSize:         size,
		UploadedAt:       time.Now().UTC(),
		SessionID:        sessionID,
		ContentType:      pdfContentType,
	})
	if err != nil {
		log.WithError(err).Error("record write failed")
		if derr := g.blobs.Delete(saved); derr != nil {
			log.WithError(derr).Warn("orphan blob not removed")
		}
		return fileOutcome{err: storageError(f.Filename)}
	}
	return fileOutcome{doc: doc}
}

func (g *UploadGate) saveBlob(ctx context.Context, name string, f IncomingFile) (int64, error) {
	if f.Open == nil {
		return 0, errors.New("no file content")
	}
	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("open upload: %w", err)
	}
	defer rc.Close()
	return g.blobs.Save(ctx, name, rc)
}

// discard removes the records and blobs of documents that will not be served.
func (g *UploadGate) discard(docs []store.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if len(docs) > 0 {
		if _, err := g.store.DeleteSessionDocuments(ctx, docs[0].SessionID); err != nil {
			g.log.WithError(err).Warn("discarding records failed")
		}
	}
	for _, d := range docs {
		if err := g.blobs.Delete(d.SavedFilename); err != nil {
			g.log.WithError(err).Warn("discarding blob failed")
		}
	}
}

func (g *UploadGate) oversize(filename string, size int64) *FileError {
	return &FileError{
		Filename: filename,
		Kind:     KindValidation,
		Reason:   fmt.Sprintf("size exceeds limit: %.2fMB exceeds the limit of %s", float64(size)/(1<<20), formatMB(g.maxSize)),
	}
}

func storageError(filename string) *FileError {
	return &FileError{Filename: filename, Kind: KindStorage, Reason: "failed to save"}
}

func formatMB(n int64) string {
	if n%(1<<20) == 0 {
		return fmt.Sprintf("%dMB", n>>20)
	}
	return fmt.Sprintf("%.2fMB", float64(n)/(1<<20))
}
