package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/familytree/internal/archive"
	"github.com/dukerupert/familytree/internal/config"
	"github.com/dukerupert/familytree/internal/handler"
	"github.com/dukerupert/familytree/internal/metrics"
	"github.com/dukerupert/familytree/internal/middleware"
	"github.com/dukerupert/familytree/internal/store"
	ws "github.com/dukerupert/familytree/internal/websocket"
)

type Server struct {
	hub         *ws.Hub
	familyH     *handler.FamilyHandler
	debugH      *handler.DebugHandler
	archiveH    *handler.ArchiveHandler
	files       *store.FileStore
	rateLimiter *middleware.RateLimiter
	bulkLimit   int
	archiveMgr  *archive.Manager
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

func New(cfg *config.Config, db *sql.DB, m *metrics.Metrics, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	files := store.NewFileStore(cfg.DataFile)
	ledger := store.NewArchiveStore(db)

	archiveCfg := archive.Config{
		S3: archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Prefix:    cfg.S3Prefix,
		},
		Passphrase:    cfg.ArchivePassphrase,
		Interval:      cfg.ArchiveInterval,
		RetentionDays: cfg.BackupRetentionDays,
	}
	archiveMgr := archive.NewManager(archiveCfg, files, ledger, func(s archive.Status) {
		hub.Broadcast(ws.Message{
			Type:   "archive_status",
			Entity: "archive",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}, m, logger.With("component", "archive"))

	return &Server{
		hub:         hub,
		familyH:     handler.NewFamilyHandler(files, hub, m, logger.With("component", "family")),
		debugH:      handler.NewDebugHandler(files, ledger, archiveMgr, logger.With("component", "debug")),
		archiveH:    handler.NewArchiveHandler(ledger, archiveMgr, logger.With("component", "archive_handler")),
		files:       files,
		rateLimiter: middleware.NewRateLimiter(),
		bulkLimit:   cfg.BulkRateLimit,
		archiveMgr:  archiveMgr,
		metrics:     m,
		logger:      logger,
	}
}

// Hub returns the websocket hub so it can be closed on shutdown.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// ArchiveManager returns the off-site archive manager.
func (s *Server) ArchiveManager() *archive.Manager {
	return s.archiveMgr
}

// FileStore returns the family data store.
func (s *Server) FileStore() *store.FileStore {
	return s.files
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Registered without a method so the handler answers other verbs with
	// a JSON 405 instead of the mux's plain-text one.
	mux.Handle("/family-members/bulk-update", s.postRateLimited(http.HandlerFunc(s.familyH.BulkUpdate)))
	mux.HandleFunc("GET /family-members", s.familyH.List)

	mux.HandleFunc("GET /debug-deployment", s.debugH.Deployment)

	mux.HandleFunc("GET /archives", s.archiveH.List)
	mux.HandleFunc("GET /archives/{name}", s.archiveH.Download)

	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, nil, s.logger.With("component", "websocket")))
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return middleware.RequestLogger(s.logger.With("component", "http"))(s.metrics.Instrument(mux))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// postRateLimited limits POSTs only; other methods reach h directly so they
// always get its 405.
func (s *Server) postRateLimited(h http.Handler) http.Handler {
	limited := middleware.RateLimit(s.rateLimiter, middleware.RealIP, s.bulkLimit, time.Minute)(h)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			h.ServeHTTP(w, r)
			return
		}
		limited.ServeHTTP(w, r)
	})
}
