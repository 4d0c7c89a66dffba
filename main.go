package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scalecode-solutions/mvdocs/blob"
	"github.com/scalecode-solutions/mvdocs/config"
	"github.com/scalecode-solutions/mvdocs/ratelimit"
	"github.com/scalecode-solutions/mvdocs/redis"
	"github.com/scalecode-solutions/mvdocs/retrieval"
	"github.com/scalecode-solutions/mvdocs/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	currentVersion = "0.1.0"
)

var buildstamp = "dev"

var (
	configFile string
	initDB     bool
)

var rootCmd = &cobra.Command{
	Use:           "mvdocs",
	Short:         "Session-scoped question answering over uploaded PDFs",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Printf("mvdocs v%s (build: %s)\n", currentVersion, buildstamp)
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "mvdocs.yaml", "Path to config file")
	rootCmd.Flags().BoolVar(&initDB, "init-db", false, "Initialize database schema")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogging(cfg config.LogConfig) *logrus.Logger {
	logger := logrus.StandardLogger()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func run(ctx context.Context) error {
	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := setupLogging(cfg.Log)
	log := logrus.NewEntry(logger)
	log.WithField("build", buildstamp).Infof("mvdocs v%s", currentVersion)

	// Initialize database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	log.WithField("driver", cfg.Database.Driver).Info("connected to database")

	if pg, ok := db.(*store.DB); ok {
		if initDB {
			log.Info("initializing database schema")
			if err := pg.InitSchema(); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
		}
		if version, err := pg.GetSchemaVersion(); err != nil {
			log.Warn("could not get schema version (run with --init-db to initialize)")
		} else {
			log.WithField("version", version).Info("schema ready")
		}
	}

	blobs, err := blob.New(blob.Config{
		Dir:     cfg.Storage.UploadDir,
		MaxSize: cfg.Storage.MaxFileSize,
	})
	if err != nil {
		return fmt.Errorf("failed to prepare upload directory: %w", err)
	}

	// Initialize Redis (optional). A nil Counter keeps limits in process.
	var counter ratelimit.Counter
	var pinger Pinger
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		counter = redisClient
		pinger = redisClient
		log.WithField("addr", cfg.Redis.Addr).Info("connected to Redis")
	}

	// Initialize retrieval pipeline
	extractor := retrieval.NewPDFText(cfg.Pipeline.PDFToText)
	if err := extractor.Available(); err != nil {
		log.WithError(err).WithField("bin", cfg.Pipeline.PDFToText).Warn("using built-in text extraction")
	}
	var generator retrieval.Generator
	if cfg.Pipeline.BaseURL != "" {
		generator = retrieval.NewOllama(retrieval.OllamaConfig{
			BaseURL:           cfg.Pipeline.BaseURL,
			Model:             cfg.Pipeline.Model,
			APIKey:            cfg.Pipeline.APIKey,
			Timeout:           time.Duration(cfg.Pipeline.RequestTimeout) * time.Second,
			RequestsPerSecond: cfg.Pipeline.RequestsPerSecond,
			Burst:             cfg.Pipeline.Burst,
		})
		log.WithFields(logrus.Fields{"url": cfg.Pipeline.BaseURL, "model": cfg.Pipeline.Model}).Info("answer generation enabled")
	}
	engine := retrieval.New(retrieval.Config{
		ChunkSize:    cfg.Pipeline.ChunkSize,
		ChunkOverlap: cfg.Pipeline.ChunkOverlap,
		TopK:         cfg.Pipeline.TopK,
	}, extractor, generator, log)

	// Registry and teardown
	registry := NewRegistry(log)
	coordinator := NewCoordinator(engine, db, blobs, registry,
		time.Duration(cfg.Storage.CleanupTimeout)*time.Second, log)
	registry.SetTerminator(coordinator)

	uploads := NewUploadGate(db, blobs, registry, cfg.Storage.MaxFileSize, log)

	// Initialize server
	srv := NewServer(ServerDeps{
		Registry:     registry,
		Uploads:      uploads,
		Pipeline:     engine,
		Blobs:        blobs,
		Cleanup:      coordinator,
		Redis:        pinger,
		UploadLimit:  ratelimit.FromConfig(cfg.Limits.Upload, counter),
		MessageLimit: ratelimit.FromConfig(cfg.Limits.Message, counter),
		SessionConfig: SessionConfig{
			IngestTimeout:  time.Duration(cfg.Pipeline.IngestTimeout) * time.Second,
			QueryTimeout:   time.Duration(cfg.Pipeline.QueryTimeout) * time.Second,
			MaxMessageSize: cfg.Server.MaxMessageSize,
		},
	}, cfg, log)

	// Start HTTP server with timeouts
	httpServer := &http.Server{
		Addr:         cfg.Server.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"read":  cfg.Server.ReadTimeout,
			"write": cfg.Server.WriteTimeout,
			"idle":  cfg.Server.IdleTimeout,
		}).Infof("listening on %s", cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	log.Info("shutting down")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	// Hijacked WebSocket connections are not tracked by http.Server.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("sessions did not finish before shutdown timeout")
	}

	// Gracefully shutdown HTTP server
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
		httpServer.Close() // Force close if graceful shutdown fails
	}

	log.Info("server stopped")
	return nil
}
