package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dukerupert/familytree/internal/archive"
	"github.com/dukerupert/familytree/internal/model"
	"github.com/dukerupert/familytree/internal/store"
)

const (
	defaultArchiveLimit = 50
	maxArchiveLimit     = 500
)

type ArchiveHandler struct {
	ledger  *store.ArchiveStore
	manager *archive.Manager
	logger  *slog.Logger
}

func NewArchiveHandler(ls *store.ArchiveStore, am *archive.Manager, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{ledger: ls, manager: am, logger: logger}
}

// List returns the newest archive records. ?limit= caps the result.
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultArchiveLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxArchiveLimit)
	}

	archives, err := h.ledger.List(limit)
	if err != nil {
		h.logger.Error("failed to list archives", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list archives")
		return
	}
	if archives == nil {
		archives = []model.Archive{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   h.manager.Status(),
		"archives": archives,
	})
}

// Download returns the plaintext of an archived backup for manual recovery.
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	if h.manager.Status().State == archive.StateDisabled {
		writeError(w, http.StatusServiceUnavailable, "Archiving is not configured")
		return
	}

	name := r.PathValue("name")
	rec, err := h.ledger.GetByFilename(name)
	if err != nil {
		h.logger.Error("failed to look up archive", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch archive")
		return
	}
	if rec == nil || rec.Status != model.ArchiveStatusCompleted {
		writeError(w, http.StatusNotFound, "Archive not found")
		return
	}

	data, err := h.manager.Fetch(r.Context(), name)
	if err != nil {
		h.logger.Error("failed to fetch archive", "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch archive")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
