package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/dukerupert/familytree/internal/archive"
	"github.com/dukerupert/familytree/internal/store"
)

// DebugHandler reports what the running deployment can see on disk.
type DebugHandler struct {
	store   *store.FileStore
	ledger  *store.ArchiveStore
	archive *archive.Manager
	logger  *slog.Logger
}

// NewDebugHandler builds the report handler. ledger and am may be nil.
func NewDebugHandler(s *store.FileStore, ledger *store.ArchiveStore, am *archive.Manager, logger *slog.Logger) *DebugHandler {
	return &DebugHandler{store: s, ledger: ledger, archive: am, logger: logger}
}

type deploymentReport struct {
	WorkingDir    string          `json:"workingDir"`
	StorePath     string          `json:"storePath"`
	Exists        bool            `json:"exists"`
	Size          int64           `json:"size"`
	RecordCount   int             `json:"recordCount"`
	BackupCount   int             `json:"backupCount"`
	ArchivedCount int64           `json:"archivedCount"`
	Archive       *archive.Status `json:"archive,omitempty"`
	Logs          []string        `json:"logs"`
}

type deploymentFailure struct {
	Error string   `json:"error"`
	Stack string   `json:"stack"`
	Logs  []string `json:"logs"`
}

func (h *DebugHandler) Deployment(w http.ResponseWriter, r *http.Request) {
	logs := []string{}
	logf := func(format string, args ...any) {
		logs = append(logs, fmt.Sprintf(format, args...))
	}
	fail := func(err error) {
		h.logger.Error("deployment check failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, deploymentFailure{
			Error: err.Error(),
			Stack: string(debug.Stack()),
			Logs:  logs,
		})
	}

	report := deploymentReport{StorePath: h.store.Path()}

	wd, err := os.Getwd()
	if err != nil {
		logf("working directory unavailable: %v", err)
	} else {
		report.WorkingDir = wd
		logf("working directory: %s", wd)
	}

	if abs, err := filepath.Abs(h.store.Path()); err == nil {
		logf("store path: %s", abs)
	}

	info, err := h.store.Stat()
	if err != nil {
		logf("store check failed: %v", err)
		fail(err)
		return
	}
	report.Exists = info.Exists
	report.Size = info.Size
	report.RecordCount = info.RecordCount
	if info.Exists {
		logf("store exists: %d bytes, %d records", info.Size, info.RecordCount)
	} else {
		logf("store file does not exist")
	}

	backups, err := h.store.Backups()
	if err != nil {
		logf("backup listing failed: %v", err)
		fail(err)
		return
	}
	report.BackupCount = len(backups)
	logf("found %d backup files", len(backups))
	if len(backups) > 0 {
		logf("newest backup: %s", backups[0].Name)
	}

	if h.ledger != nil {
		n, err := h.ledger.Count()
		if err != nil {
			logf("archive ledger query failed: %v", err)
			fail(err)
			return
		}
		report.ArchivedCount = n
		logf("archive ledger holds %d records", n)
	}

	if h.archive != nil {
		st := h.archive.Status()
		report.Archive = &st
		logf("archive state: %s", st.State)
	}

	report.Logs = logs
	writeJSON(w, http.StatusOK, report)
}
