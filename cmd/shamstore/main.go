// Package main is the entry point for the Shamstore S3-compatible test server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shamstore/shamstore/internal/config"
	"github.com/shamstore/shamstore/internal/events"
	"github.com/shamstore/shamstore/internal/handlers"
	"github.com/shamstore/shamstore/internal/logging"
	"github.com/shamstore/shamstore/internal/metadata"
	"github.com/shamstore/shamstore/internal/metrics"
	"github.com/shamstore/shamstore/internal/server"
	"github.com/shamstore/shamstore/internal/storage"
)

// uploadReapTTL is how long an incomplete multipart upload survives across
// restarts before startup reaping discards it.
const uploadReapTTL = 7 * 24 * 3600 // seconds

func main() {
	configPath := flag.String("config", "shamstore.yaml", "path to configuration file")
	port := flag.Int("port", -1, "override listening port (0 = ephemeral)")
	address := flag.String("address", "", "override bind address")
	directory := flag.String("directory", "", "override on-disk storage root")
	silent := flag.Bool("silent", false, "suppress log output")
	resetOnClose := flag.Bool("reset-on-close", false, "delete all state on shutdown")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "log format: text, json")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port >= 0 {
		cfg.Server.Port = *port
	}
	if *address != "" {
		cfg.Server.Address = *address
	}
	if *directory != "" {
		cfg.Storage.Directory = *directory
		if cfg.Storage.Backend == "memory" {
			cfg.Storage.Backend = "local"
		}
	}
	if *silent {
		cfg.Server.Silent = true
	}
	if *resetOnClose {
		cfg.Server.ResetOnClose = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	if cfg.Server.Silent {
		logging.Silence()
	} else {
		logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	}

	metrics.Register()

	// Metadata store: SQLite under the storage directory for persistence,
	// in-memory otherwise.
	var meta metadata.Store
	if cfg.Storage.Directory != "" {
		dbPath := filepath.Join(cfg.Storage.Directory, "metadata.db")
		if err := os.MkdirAll(cfg.Storage.Directory, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create storage directory: %v\n", err)
			os.Exit(1)
		}
		sqliteMeta, err := metadata.NewSQLiteStore(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
			os.Exit(1)
		}
		meta = sqliteMeta
	} else {
		meta = metadata.NewMemoryStore()
	}
	defer meta.Close()

	// Storage backend.
	var store storage.Backend
	switch cfg.Storage.Backend {
	case "aws":
		if cfg.Storage.AWSBucket == "" {
			fmt.Fprintf(os.Stderr, "storage.aws_bucket is required when backend is 'aws'\n")
			os.Exit(1)
		}
		region := cfg.Storage.AWSRegion
		if region == "" {
			region = "us-east-1"
		}
		awsBackend, awsErr := storage.NewAWSGatewayBackend(context.Background(),
			cfg.Storage.AWSBucket, region, cfg.Storage.AWSPrefix,
			cfg.Storage.AWSEndpoint, cfg.Storage.AWSPathStyle,
			cfg.Storage.AWSAccessKey, cfg.Storage.AWSSecretKey)
		if awsErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize AWS storage backend: %v\n", awsErr)
			os.Exit(1)
		}
		store = awsBackend
		slog.Info("Storage backend initialized", "backend", "aws", "bucket", cfg.Storage.AWSBucket, "region", region)
	case "sqlite":
		path := cfg.Storage.SQLitePath
		if path == "" {
			path = filepath.Join(cfg.Storage.Directory, "objects.db")
		}
		sqliteBackend, sqErr := storage.NewSQLiteBackend(path)
		if sqErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize SQLite storage backend: %v\n", sqErr)
			os.Exit(1)
		}
		store = sqliteBackend
		slog.Info("Storage backend initialized", "backend", "sqlite", "path", path)
	case "local":
		root := filepath.Join(cfg.Storage.Directory, "objects")
		localBackend, localErr := storage.NewLocalBackend(root)
		if localErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize storage backend: %v\n", localErr)
			os.Exit(1)
		}
		// Clean orphan temp files from incomplete writes.
		if err := localBackend.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		store = localBackend
		slog.Info("Storage backend initialized", "backend", "local", "root", root)
	default:
		store = storage.NewMemoryBackend()
		slog.Info("Storage backend initialized", "backend", "memory")
	}

	// Discard multipart uploads abandoned before the previous shutdown.
	if reaper, ok := meta.(metadata.UploadReaper); ok {
		if expired, reapErr := reaper.ReapExpiredUploads(uploadReapTTL); reapErr != nil {
			slog.Warn("Failed to reap expired uploads", "error", reapErr)
		} else {
			for _, e := range expired {
				if err := store.DeleteParts(context.Background(), e.BucketName, e.ObjectKey, e.UploadID); err != nil {
					slog.Warn("Failed to delete parts of expired upload", "upload_id", e.UploadID, "error", err)
				}
			}
		}
	}

	// Preconfigured buckets: created idempotently, with their configuration
	// documents validated up front. Bad XML fails startup.
	if err := configureBuckets(cfg, meta, store); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure buckets: %v\n", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	defer bus.Close()

	srv, err := server.New(cfg, meta, store, bus)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Give the listener a moment to bind so Addr() is meaningful in the log.
	time.Sleep(50 * time.Millisecond)
	slog.Info("Shamstore listening", "addr", srv.Addr())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}

		if cfg.Server.ResetOnClose {
			resetState(cfg, meta)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

// configureBuckets creates the buckets listed in configure_buckets and
// preloads their configuration documents. Returns an error (failing
// startup) when a document is unreadable or invalid.
func configureBuckets(cfg *config.Config, meta metadata.Store, store storage.Backend) error {
	ctx := context.Background()

	for _, bc := range cfg.ConfigureBuckets {
		existing, err := meta.GetBucket(ctx, bc.Name)
		if err != nil {
			return fmt.Errorf("checking bucket %q: %w", bc.Name, err)
		}
		if existing == nil {
			record := &metadata.BucketRecord{
				Name:         bc.Name,
				Region:       cfg.Server.Region,
				OwnerID:      cfg.Auth.AccessKey,
				OwnerDisplay: cfg.Auth.AccessKey,
				CreatedAt:    time.Now().UTC(),
			}
			if err := meta.CreateBucket(ctx, record); err != nil {
				return fmt.Errorf("creating bucket %q: %w", bc.Name, err)
			}
			if err := store.CreateBucket(ctx, bc.Name); err != nil {
				return fmt.Errorf("creating bucket storage %q: %w", bc.Name, err)
			}
		}

		for _, path := range bc.Configs {
			blob, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading config %q for bucket %q: %w", path, bc.Name, err)
			}
			kind := handlers.SniffConfigKind(blob)
			if kind == "" {
				return fmt.Errorf("config %q for bucket %q: unrecognized configuration document", path, bc.Name)
			}
			if validationErr := handlers.ValidateConfig(kind, blob); validationErr != nil {
				return fmt.Errorf("config %q for bucket %q: %s", path, bc.Name, validationErr.Message)
			}
			if err := meta.PutBucketConfig(ctx, bc.Name, kind, blob); err != nil {
				return fmt.Errorf("storing config %q for bucket %q: %w", path, bc.Name, err)
			}
		}

		slog.Info("Configured bucket", "bucket", bc.Name, "configs", len(bc.Configs))
	}

	return nil
}

// resetState removes the working set on shutdown when reset_on_close is set.
func resetState(cfg *config.Config, meta metadata.Store) {
	meta.Close()
	if cfg.Storage.Directory != "" {
		if err := os.RemoveAll(cfg.Storage.Directory); err != nil {
			slog.Error("Failed to reset storage directory", "error", err)
		}
	}
	if cfg.Storage.SQLitePath != "" {
		os.Remove(cfg.Storage.SQLitePath)
	}
}
