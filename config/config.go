// Package config provides typed configuration loading for the mvdocs server.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the mvdocs server.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Storage  StorageConfig  `yaml:"storage"`
	Limits   LimitsConfig   `yaml:"limits"`
	Redis    RedisConfig    `yaml:"redis"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig contains HTTP/WebSocket server settings.
type ServerConfig struct {
	Listen           string   `yaml:"listen"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	UseXForwardedFor bool     `yaml:"use_x_forwarded_for"`
	ReadTimeout      int      `yaml:"read_timeout"`
	WriteTimeout     int      `yaml:"write_timeout"`
	IdleTimeout      int      `yaml:"idle_timeout"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout"`
	MaxMessageSize   int64    `yaml:"max_message_size"`
}

// DatabaseConfig selects and configures the durable document store.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// Path is the sqlite database file.
	Path string `yaml:"path"`

	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Name            string `yaml:"name"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	SSLMode         string `yaml:"ssl_mode"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"`
	SQLTimeout      int    `yaml:"sql_timeout"`
}

// DSN returns a PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.SQLTimeout,
	)
}

// StorageConfig contains upload and blob storage settings.
type StorageConfig struct {
	UploadDir      string `yaml:"upload_dir"`
	MaxFileSize    int64  `yaml:"max_file_size"`
	// MaxRequestSize caps a whole upload request body.
	MaxRequestSize int64  `yaml:"max_request_size"`
	CleanupTimeout int    `yaml:"cleanup_timeout"`
}

// RateLimit is a request budget per window.
type RateLimit struct {
	Count         int  `yaml:"count"`
	WindowSeconds int  `yaml:"window_seconds"`
	Disabled      bool `yaml:"disabled"`
}

// Window returns the window as a duration.
func (r RateLimit) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// Enabled reports whether the limit is active.
func (r RateLimit) Enabled() bool {
	return !r.Disabled && r.Count > 0 && r.WindowSeconds > 0
}

// LimitsConfig contains rate limit policies.
type LimitsConfig struct {
	Upload  RateLimit `yaml:"upload"`
	Message RateLimit `yaml:"message"`
}

// RedisConfig contains Redis connection settings. When enabled, rate limit
// counters are shared through Redis instead of kept in process memory.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PipelineConfig configures the retrieval pipeline and its generator.
type PipelineConfig struct {
	// BaseURL of an Ollama-compatible generation endpoint. Empty disables
	// generation and answers are built from the best matching passages.
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	APIKey            string  `yaml:"api_key"`
	RequestTimeout    int     `yaml:"request_timeout"`
	IngestTimeout     int     `yaml:"ingest_timeout"`
	QueryTimeout      int     `yaml:"query_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	ChunkSize         int     `yaml:"chunk_size"`
	ChunkOverlap      int     `yaml:"chunk_overlap"`
	TopK              int     `yaml:"top_k"`
	PDFToText         string  `yaml:"pdftotext"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML config file. A missing file is not an error;
// defaults and environment expansion still apply so the server can run
// from environment variables alone.
func Load(path string) (*Config, error) {
	// Optional .env next to the process; real environment wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML config content, applying env expansion, defaults and
// validation.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

// expandEnvVars expands ${VAR} and ${VAR:default} patterns in the config.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		parts := envVarPattern.FindStringSubmatch(match)
		if val := os.Getenv(parts[1]); val != "" {
			return val
		}
		return parts[2]
	})
}

// applyDefaults sets default values for unset fields.
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Listen == "" {
		c.Server.Listen = ":8000"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{
			"http://localhost",
			"http://localhost:8080",
			"http://localhost:5500",
			"http://127.0.0.1:5500",
		}
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 60
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15
	}
	if c.Server.MaxMessageSize == 0 {
		c.Server.MaxMessageSize = 64 * 1024
	}

	// Database defaults
	c.Database.Driver = strings.ToLower(c.Database.Driver)
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./mvdocs.db"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.Name == "" {
		c.Database.Name = "mvdocs"
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 60
	}
	if c.Database.SQLTimeout == 0 {
		c.Database.SQLTimeout = 10
	}

	// Storage defaults
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "./uploads"
	}
	if c.Storage.MaxFileSize == 0 {
		c.Storage.MaxFileSize = 30 << 20 // 30MB
	}
	if c.Storage.MaxRequestSize == 0 {
		// Ten files at the cap plus room for multipart framing.
		c.Storage.MaxRequestSize = c.Storage.MaxFileSize*10 + 1<<20
	}
	if c.Storage.CleanupTimeout == 0 {
		c.Storage.CleanupTimeout = 30
	}

	// Limits defaults
	if c.Limits.Upload == (RateLimit{}) {
		c.Limits.Upload = RateLimit{Count: 5, WindowSeconds: 60}
	}
	if c.Limits.Message == (RateLimit{}) {
		c.Limits.Message = RateLimit{Count: 10, WindowSeconds: 60}
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "mvdocs:"
	}

	// Pipeline defaults
	if c.Pipeline.Model == "" {
		c.Pipeline.Model = "llama3.2"
	}
	if c.Pipeline.RequestTimeout == 0 {
		c.Pipeline.RequestTimeout = 120
	}
	if c.Pipeline.IngestTimeout == 0 {
		c.Pipeline.IngestTimeout = 120
	}
	if c.Pipeline.QueryTimeout == 0 {
		c.Pipeline.QueryTimeout = 60
	}
	if c.Pipeline.RequestsPerSecond == 0 {
		c.Pipeline.RequestsPerSecond = 2
	}
	if c.Pipeline.Burst == 0 {
		c.Pipeline.Burst = 4
	}
	if c.Pipeline.ChunkSize == 0 {
		c.Pipeline.ChunkSize = 1000
	}
	if c.Pipeline.ChunkOverlap == 0 {
		c.Pipeline.ChunkOverlap = 200
	}
	if c.Pipeline.TopK == 0 {
		c.Pipeline.TopK = 2
	}
	if c.Pipeline.PDFToText == "" {
		c.Pipeline.PDFToText = "pdftotext"
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// validate checks that settings are consistent.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Storage.MaxFileSize < 0 {
		return fmt.Errorf("storage.max_file_size must be positive")
	}
	if c.Storage.MaxRequestSize < 0 {
		return fmt.Errorf("storage.max_request_size must not be negative")
	}
	if c.Storage.CleanupTimeout < 0 {
		return fmt.Errorf("storage.cleanup_timeout must not be negative")
	}
	if c.Pipeline.IngestTimeout < 0 || c.Pipeline.QueryTimeout < 0 || c.Pipeline.RequestTimeout < 0 {
		return fmt.Errorf("pipeline timeouts must not be negative")
	}
	if c.Limits.Upload.Count < 0 || c.Limits.Upload.WindowSeconds < 0 {
		return fmt.Errorf("limits.upload must not be negative")
	}
	if c.Limits.Message.Count < 0 || c.Limits.Message.WindowSeconds < 0 {
		return fmt.Errorf("limits.message must not be negative")
	}
	if c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize {
		return fmt.Errorf("pipeline.chunk_overlap must be smaller than pipeline.chunk_size")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
