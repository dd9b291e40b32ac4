package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/familytree/internal/metrics"
	"github.com/dukerupert/familytree/internal/middleware"
	"github.com/dukerupert/familytree/internal/model"
	"github.com/dukerupert/familytree/internal/store"
	"github.com/dukerupert/familytree/internal/websocket"
)

var errMissingMembers = errors.New("request body has no members array")

type FamilyHandler struct {
	store   *store.FileStore
	hub     *websocket.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewFamilyHandler(s *store.FileStore, hub *websocket.Hub, m *metrics.Metrics, logger *slog.Logger) *FamilyHandler {
	return &FamilyHandler{store: s, hub: hub, metrics: m, logger: logger}
}

// Members are kept as raw JSON so they are stored exactly as submitted.
type bulkUpdateRequest struct {
	Members *[]json.RawMessage `json:"members"`
}

type bulkUpdateResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	BackupPath string `json:"backupPath"`
}

// List serves the stored member array.
func (h *FamilyHandler) List(w http.ResponseWriter, r *http.Request) {
	members, err := h.store.List()
	if err != nil {
		h.logger.Error("failed to read family data", "error", err, "request_id", middleware.RequestID(r.Context()))
		writeError(w, http.StatusInternalServerError, "Failed to read family data")
		return
	}
	if members == nil {
		members = []model.FamilyMember{}
	}
	writeJSON(w, http.StatusOK, members)
}

// BulkUpdate replaces the whole member list. The previous store contents are
// copied to a timestamped backup before the overwrite.
func (h *FamilyHandler) BulkUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	start := time.Now()
	result, err := h.bulkUpdate(w, r)
	if err != nil {
		h.logger.Error("bulk update failed", "error", err, "request_id", middleware.RequestID(r.Context()))
		if h.metrics != nil {
			h.metrics.ObserveBulkUpdateFailure()
		}
		writeError(w, http.StatusInternalServerError, "Failed to bulk update family data")
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveBulkUpdate(result.Count, time.Since(start))
	}
	h.logger.Info("family data replaced", "count", result.Count, "backup", result.BackupName)
	if h.hub != nil {
		h.hub.Broadcast(websocket.NewMessage("family_members", "bulk_updated", 0, map[string]any{
			"count":  result.Count,
			"backup": result.BackupName,
		}))
	}

	writeJSON(w, http.StatusOK, bulkUpdateResponse{
		Success:    true,
		Message:    fmt.Sprintf("Successfully updated %d family members", result.Count),
		BackupPath: result.BackupName,
	})
}

func (h *FamilyHandler) bulkUpdate(w http.ResponseWriter, r *http.Request) (*store.BulkResult, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	// Anything after the object is a decode error.
	var req bulkUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	if req.Members == nil {
		return nil, errMissingMembers
	}
	return h.store.BulkReplace(*req.Members)
}
