package main

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/scalecode-solutions/mvdocs/blob"
	"github.com/scalecode-solutions/mvdocs/store"
)

const testMaxSize = 30 << 20

func newTestGate(db store.Store, blobs BlobStore) (*UploadGate, *Registry) {
	reg := NewRegistry(quietLog())
	return NewUploadGate(db, blobs, reg, testMaxSize, quietLog()), reg
}

func TestUploadGate_Validation(t *testing.T) {
	tests := []struct {
		name       string
		file       IncomingFile
		wantKind   ErrorKind
		wantReason string
	}{
		{
			name:       "missing filename",
			file:       pdfFile("", "application/pdf", "%PDF"),
			wantKind:   KindValidation,
			wantReason: "missing filename",
		},
		{
			name: "declared oversize",
			file: IncomingFile{
				Filename:    "big.pdf",
				ContentType: "application/pdf",
				Size:        31 << 20,
				Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("")), nil },
			},
			wantKind:   KindValidation,
			wantReason: "size exceeds limit: 31.00MB exceeds the limit of 30MB",
		},
		{
			name:       "wrong extension",
			file:       pdfFile("notes.txt", "application/pdf", "text"),
			wantKind:   KindValidation,
			wantReason: "invalid type: only PDF files are allowed (got application/pdf)",
		},
		{
			name:       "wrong content type",
			file:       pdfFile("report.pdf", "text/plain", "%PDF"),
			wantKind:   KindValidation,
			wantReason: "invalid type: only PDF files are allowed (got text/plain)",
		},
		{
			name:       "no content type",
			file:       pdfFile("report.pdf", "", "%PDF"),
			wantKind:   KindValidation,
			wantReason: "invalid type: only PDF files are allowed (got no content type)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := newMemBlobs()
			g, reg := newTestGate(&store.MockStore{}, blobs)

			res := g.Upload(context.Background(), []IncomingFile{tt.file})

			if res.SessionID != "" {
				t.Errorf("SessionID = %q, want empty", res.SessionID)
			}
			if len(res.Errors) != 1 {
				t.Fatalf("errors = %d, want 1", len(res.Errors))
			}
			if res.Errors[0].Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", res.Errors[0].Kind, tt.wantKind)
			}
			if res.Errors[0].Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", res.Errors[0].Reason, tt.wantReason)
			}
			if blobs.len() != 0 {
				t.Error("rejected file should not be stored")
			}
			if reg.Count() != 0 {
				t.Error("no session should be authorized")
			}
		})
	}
}

func TestUploadGate_AcceptsPDF(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		wantPrefix  string
		wantExt     string
	}{
		{"plain", "report.pdf", "application/pdf", "report_", ".pdf"},
		{"upper case extension", "SCAN.PDF", "application/pdf", "SCAN_", ".PDF"},
		{"content type parameters", "a.pdf", "application/pdf; charset=binary", "a_", ".pdf"},
		{"path stripped", "../../etc/evil.pdf", "application/pdf", "evil_", ".pdf"},
		{"windows path stripped", `C:\Users\me\cv.pdf`, "application/pdf", "cv_", ".pdf"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &store.MockStore{}
			blobs := newMemBlobs()
			g, reg := newTestGate(db, blobs)

			res := g.Upload(context.Background(), []IncomingFile{pdfFile(tt.filename, tt.contentType, "%PDF-1.4")})

			if len(res.Errors) != 0 {
				t.Fatalf("unexpected errors: %v", res.Errors[0])
			}
			if len(res.Accepted) != 1 {
				t.Fatalf("accepted = %d, want 1", len(res.Accepted))
			}
			doc := res.Accepted[0]
			if !strings.HasPrefix(doc.SavedFilename, tt.wantPrefix) || !strings.HasSuffix(doc.SavedFilename, tt.wantExt) {
				t.Errorf("saved name = %q, want %s<uuid>%s", doc.SavedFilename, tt.wantPrefix, tt.wantExt)
			}
			if strings.ContainsAny(doc.SavedFilename, `/\`) {
				t.Errorf("saved name %q contains a path separator", doc.SavedFilename)
			}
			if doc.OriginalFilename != tt.filename {
				t.Errorf("original name = %q, want %q", doc.OriginalFilename, tt.filename)
			}
			if doc.SessionID != res.SessionID {
				t.Errorf("record session = %q, want %q", doc.SessionID, res.SessionID)
			}
			if doc.FileSize != int64(len("%PDF-1.4")) {
				t.Errorf("size = %d, want %d", doc.FileSize, len("%PDF-1.4"))
			}
			if !blobs.has(doc.SavedFilename) {
				t.Error("blob not stored")
			}
			if got := reg.State(res.SessionID); got != StateAuthorized {
				t.Errorf("session state = %v, want authorized", got)
			}
		})
	}
}

func TestUploadGate_MixedBatch(t *testing.T) {
	db := &store.MockStore{}
	g, reg := newTestGate(db, newMemBlobs())

	res := g.Upload(context.Background(), []IncomingFile{
		pdfFile("a.pdf", "application/pdf", "%PDF a"),
		pdfFile("b.txt", "text/plain", "b"),
		pdfFile("c.pdf", "application/pdf", "%PDF c"),
	})

	if res.SessionID == "" {
		t.Fatal("expected a session id")
	}
	if len(res.Accepted) != 2 || len(res.Errors) != 1 {
		t.Fatalf("accepted=%d errors=%d, want 2 and 1", len(res.Accepted), len(res.Errors))
	}
	if res.Errors[0].Filename != "b.txt" {
		t.Errorf("error filename = %q, want b.txt", res.Errors[0].Filename)
	}
	if res.Accepted[0].OriginalFilename != "a.pdf" || res.Accepted[1].OriginalFilename != "c.pdf" {
		t.Error("accepted files should keep submission order")
	}
	if got := len(reg.Documents(res.SessionID)); got != 2 {
		t.Errorf("registry documents = %d, want 2", got)
	}
	if db.Len() != 2 {
		t.Errorf("records = %d, want 2", db.Len())
	}
}

func TestUploadGate_RecordFailureRemovesBlob(t *testing.T) {
	db := &store.MockStore{}
	failing := "b.pdf"
	db.CreateDocumentFn = func(ctx context.Context, doc store.Document) (*store.Document, error) {
		if doc.OriginalFilename == failing {
			return nil, errors.New("disk full")
		}
		doc.ID = 1
		return &doc, nil
	}
	blobs := newMemBlobs()
	g, _ := newTestGate(db, blobs)

	res := g.Upload(context.Background(), []IncomingFile{
		pdfFile("a.pdf", "application/pdf", "%PDF a"),
		pdfFile("b.pdf", "application/pdf", "%PDF b"),
	})

	if len(res.Accepted) != 1 || len(res.Errors) != 1 {
		t.Fatalf("accepted=%d errors=%d, want 1 and 1", len(res.Accepted), len(res.Errors))
	}
	if res.Errors[0].Kind != KindStorage || res.Errors[0].Reason != "failed to save" {
		t.Errorf("error = %+v, want storage failed to save", res.Errors[0])
	}
	if blobs.len() != 1 {
		t.Errorf("blobs = %d, want only the accepted one", blobs.len())
	}
	if !blobs.has(res.Accepted[0].SavedFilename) {
		t.Error("accepted blob missing")
	}
}

func TestUploadGate_BlobFailure(t *testing.T) {
	db := &store.MockStore{}
	blobs := newMemBlobs()
	blobs.SaveFn = func(ctx context.Context, name string, data io.Reader) (int64, error) {
		return 0, errors.New("read-only file system")
	}
	g, reg := newTestGate(db, blobs)

	res := g.Upload(context.Background(), []IncomingFile{pdfFile("a.pdf", "application/pdf", "%PDF")})

	if len(res.Errors) != 1 || res.Errors[0].Kind != KindStorage {
		t.Fatalf("errors = %v, want one storage error", res.Errors)
	}
	if db.Len() != 0 {
		t.Error("no record should be written when the blob fails")
	}
	if reg.Count() != 0 {
		t.Error("no session should be authorized")
	}
}

func TestUploadGate_StreamingOversize(t *testing.T) {
	blobs := newMemBlobs()
	blobs.SaveFn = func(ctx context.Context, name string, data io.Reader) (int64, error) {
		return testMaxSize + 1, blob.ErrTooLarge
	}
	g, _ := newTestGate(&store.MockStore{}, blobs)

	// Declared size lies.
	res := g.Upload(context.Background(), []IncomingFile{pdfFile("a.pdf", "application/pdf", "%PDF")})

	if len(res.Errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(res.Errors))
	}
	if res.Errors[0].Kind != KindValidation || !strings.HasPrefix(res.Errors[0].Reason, "size exceeds limit") {
		t.Errorf("error = %+v, want size validation error", res.Errors[0])
	}
}

func TestUploadGate_UniqueSessions(t *testing.T) {
	g, reg := newTestGate(&store.MockStore{}, newMemBlobs())
	seen := make(map[string]bool)

	for i := 0; i < 20; i++ {
		res := g.Upload(context.Background(), []IncomingFile{pdfFile("a.pdf", "application/pdf", "%PDF")})
		if res.SessionID == "" {
			t.Fatal("expected a session id")
		}
		if seen[res.SessionID] {
			t.Fatalf("session id %s minted twice", res.SessionID)
		}
		seen[res.SessionID] = true
	}
	if reg.Count() != 20 {
		t.Errorf("registry count = %d, want 20", reg.Count())
	}
}

func TestUploadGate_SavedNamesUnique(t *testing.T) {
	g, _ := newTestGate(&store.MockStore{}, newMemBlobs())

	res := g.Upload(context.Background(), []IncomingFile{
		pdfFile("same.pdf", "application/pdf", "%PDF 1"),
		pdfFile("same.pdf", "application/pdf", "%PDF 2"),
	})

	if len(res.Accepted) != 2 {
		t.Fatalf("accepted = %d, want 2", len(res.Accepted))
	}
	if res.Accepted[0].SavedFilename == res.Accepted[1].SavedFilename {
		t.Error("same original name should get distinct saved names")
	}
}

func TestFormatMB(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{30 << 20, "30MB"},
		{1 << 20, "1MB"},
		{3 << 19, "1.50MB"},
	}
	for _, tt := range tests {
		if got := formatMB(tt.n); got != tt.want {
			t.Errorf("formatMB(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
