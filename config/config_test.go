package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil) failed: %v", err)
	}

	if cfg.Server.Listen != ":8000" {
		t.Errorf("expected listen :8000, got %q", cfg.Server.Listen)
	}
	if cfg.Storage.MaxFileSize != 30*1024*1024 {
		t.Errorf("expected 30MB max file size, got %d", cfg.Storage.MaxFileSize)
	}
	if cfg.Storage.MaxRequestSize != 301*1024*1024 {
		t.Errorf("expected 301MB max request size, got %d", cfg.Storage.MaxRequestSize)
	}
	if cfg.Storage.UploadDir != "./uploads" {
		t.Errorf("expected ./uploads, got %q", cfg.Storage.UploadDir)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Limits.Upload != (RateLimit{Count: 5, WindowSeconds: 60}) {
		t.Errorf("unexpected upload limit %+v", cfg.Limits.Upload)
	}
	if cfg.Limits.Message != (RateLimit{Count: 10, WindowSeconds: 60}) {
		t.Errorf("unexpected message limit %+v", cfg.Limits.Message)
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		t.Error("expected default allowed origins")
	}
	if cfg.Pipeline.TopK != 2 {
		t.Errorf("expected top_k 2, got %d", cfg.Pipeline.TopK)
	}
}

func TestParse_Overrides(t *testing.T) {
	yamlContent := `
server:
  listen: ":9000"
  allowed_origins: ["https://*.example.com"]
database:
  driver: POSTGRES
  host: db.internal
storage:
  max_file_size: 1024
limits:
  upload:
    count: 2
    window_seconds: 30
  message:
    disabled: true
log:
  format: json
`
	cfg, err := Parse([]byte(yamlContent))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Listen != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.Server.Listen)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("expected driver to be lowercased, got %q", cfg.Database.Driver)
	}
	if cfg.Storage.MaxFileSize != 1024 {
		t.Errorf("expected 1024, got %d", cfg.Storage.MaxFileSize)
	}
	if !cfg.Limits.Upload.Enabled() || cfg.Limits.Upload.Window() != 30*time.Second {
		t.Errorf("unexpected upload limit %+v", cfg.Limits.Upload)
	}
	if cfg.Limits.Message.Enabled() {
		t.Error("expected message limit to be disabled")
	}
	if !strings.Contains(cfg.Database.DSN(), "@db.internal:5432/") {
		t.Errorf("unexpected DSN %q", cfg.Database.DSN())
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown driver",
			yaml:    "database:\n  driver: mysql\n",
			wantErr: "database.driver must be sqlite or postgres",
		},
		{
			name:    "negative upload limit",
			yaml:    "limits:\n  upload:\n    count: -1\n",
			wantErr: "limits.upload must not be negative",
		},
		{
			name:    "overlap exceeds chunk size",
			yaml:    "pipeline:\n  chunk_size: 100\n  chunk_overlap: 100\n",
			wantErr: "pipeline.chunk_overlap must be smaller",
		},
		{
			name:    "negative query timeout",
			yaml:    "pipeline:\n  query_timeout: -5\n",
			wantErr: "pipeline timeouts must not be negative",
		},
		{
			name:    "negative ingest timeout",
			yaml:    "pipeline:\n  ingest_timeout: -1\n",
			wantErr: "pipeline timeouts must not be negative",
		},
		{
			name:    "negative max request size",
			yaml:    "storage:\n  max_request_size: -1\n",
			wantErr: "storage.max_request_size must not be negative",
		},
		{
			name:    "negative cleanup timeout",
			yaml:    "storage:\n  cleanup_timeout: -1\n",
			wantErr: "storage.cleanup_timeout must not be negative",
		},
		{
			name:    "bad log format",
			yaml:    "log:\n  format: xml\n",
			wantErr: "log.format must be text or json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MVDOCS_TEST_DIR", "/data/uploads")

	tests := []struct {
		input string
		want  string
	}{
		{"dir: ${MVDOCS_TEST_DIR}", "dir: /data/uploads"},
		{"dir: ${MVDOCS_TEST_DIR:/tmp}", "dir: /data/uploads"},
		{"dir: ${MVDOCS_TEST_UNSET:/tmp}", "dir: /tmp"},
		{"dir: ${MVDOCS_TEST_UNSET}", "dir: "},
		{"no vars here", "no vars here"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandEnvVars(tt.input); got != tt.want {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Setenv("MVDOCS_TEST_KEY", "secret-key")

	dir := t.TempDir()
	path := filepath.Join(dir, "mvdocs.yaml")
	content := "pipeline:\n  api_key: ${MVDOCS_TEST_KEY}\nstorage:\n  upload_dir: " + dir + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Pipeline.APIKey != "secret-key" {
		t.Errorf("expected api key from env, got %q", cfg.Pipeline.APIKey)
	}
	if cfg.Storage.UploadDir != dir {
		t.Errorf("expected upload dir %q, got %q", dir, cfg.Storage.UploadDir)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":8000" {
		t.Errorf("expected default listen, got %q", cfg.Server.Listen)
	}
}
