package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/tablextract/internal/config"
	"github.com/JonMunkholm/tablextract/internal/core"
	"github.com/JonMunkholm/tablextract/internal/extract"
	"github.com/JonMunkholm/tablextract/internal/history"
	"github.com/JonMunkholm/tablextract/internal/logging"
	"github.com/JonMunkholm/tablextract/internal/spreadsheet"
	"github.com/JonMunkholm/tablextract/internal/storage"
	"github.com/JonMunkholm/tablextract/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"default_mode", cfg.Extraction.DefaultMode,
		"max_concurrent", cfg.Extraction.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
		"history_db", cfg.Database.Enabled(),
	)

	ctx := context.Background()

	// Run history lives in PostgreSQL when configured, in memory otherwise
	var runs history.Store
	if cfg.Database.Enabled() {
		pool, err := connectDatabase(ctx, &cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		pg, err := history.NewPostgresStore(ctx, pool)
		if err != nil {
			slog.Error("failed to prepare history table", "error", err)
			os.Exit(1)
		}
		runs = pg
	} else {
		slog.Info("no database configured, keeping run history in memory")
		runs = history.NewMemoryStore(history.DefaultMemoryCapacity)
	}

	documents, err := storage.NewStore(cfg.Storage.UploadDir, cfg.Storage.MaxFileSize)
	if err != nil {
		slog.Error("failed to create upload directory", "error", err)
		os.Exit(1)
	}

	sheets, err := spreadsheet.NewWriter(cfg.Storage.ArtifactDir)
	if err != nil {
		slog.Error("failed to create artifact directory", "error", err)
		os.Exit(1)
	}

	service := core.NewService(
		documents,
		extract.New(extract.DefaultConfig()),
		sheets,
		core.NewSessionIndex(os.DirFS(sheets.Dir())),
		runs,
		core.Options{
			DefaultMode:      core.DetectionMode(cfg.Extraction.DefaultMode),
			ProgressInterval: cfg.Extraction.ProgressInterval,
			MaxConcurrent:    cfg.Extraction.MaxConcurrent,
			MaxWait:          cfg.Extraction.MaxWait,
			RunTimeout:       cfg.Extraction.RunTimeout,
			ChannelTTL:       cfg.Extraction.ChannelTTL,
			BatchWorkers:     cfg.Batch.Workers,
		},
	)

	janitor, err := core.NewJanitor(cfg.Retention.Schedule, cfg.Retention.MaxAge,
		core.RetentionTarget{Dir: documents.Dir(), Ext: ".pdf"},
		core.RetentionTarget{Dir: sheets.Dir(), Ext: core.ArtifactExt},
	)
	if err != nil {
		slog.Error("failed to create retention janitor", "error", err)
		os.Exit(1)
	}

	server := web.NewServer(web.Deps{
		Service:   service,
		Documents: documents,
		Artifacts: sheets,
		History:   runs,
	}, cfg)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go janitor.Run(jobCtx)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Cancel in-flight runs so progress streams receive their terminal event
		status := service.Status()
		if status.Active > 0 {
			slog.Info("cancelling active extractions", "active", status.Active)
		}
		if err := service.Shutdown(shutdownCtx); err != nil {
			slog.Warn("extractions did not stop in time", "error", err)
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}

// connectDatabase opens and verifies the history connection pool.
func connectDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	// Apply pool configuration from config
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}
