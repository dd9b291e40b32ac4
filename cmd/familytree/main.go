package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/familytree/internal/config"
	"github.com/dukerupert/familytree/internal/database"
	"github.com/dukerupert/familytree/internal/logging"
	"github.com/dukerupert/familytree/internal/metrics"
	"github.com/dukerupert/familytree/internal/server"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the process environment is used as-is.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.LogLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv := server.New(cfg, db, metrics.New(), logger)

	info, err := srv.FileStore().Stat()
	switch {
	case err != nil:
		logger.Warn("family data file is unreadable", "path", cfg.DataFile, "error", err)
	case !info.Exists:
		logger.Warn("family data file does not exist; bulk updates will fail until it is created", "path", cfg.DataFile)
	default:
		logger.Info("family data file found", "path", cfg.DataFile, "records", info.RecordCount)
	}

	// Background rate limiter cleanup
	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	archiveMgr := srv.ArchiveManager()
	archiveMgr.Start(ctx)
	if cfg.S3Enabled() {
		logger.Info("off-site archiving enabled", "bucket", cfg.S3Bucket, "interval", cfg.ArchiveInterval)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("familytree listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	archiveMgr.Stop()
	srv.Hub().Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
