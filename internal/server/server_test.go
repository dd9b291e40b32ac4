package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dukerupert/familytree/internal/config"
	"github.com/dukerupert/familytree/internal/database"
	"github.com/dukerupert/familytree/internal/metrics"
	"github.com/dukerupert/familytree/internal/middleware"
)

func setupServer(t *testing.T, limit int) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()

	cfg := config.New()
	cfg.DataFile = filepath.Join(dir, "family-data.json")
	cfg.DBPath = filepath.Join(dir, "ledger.db")
	cfg.BulkRateLimit = limit

	if err := os.WriteFile(cfg.DataFile, []byte(`[{"id":1,"externalId":"a","name":"Alice"}]`), 0o644); err != nil {
		t.Fatalf("write store: %v", err)
	}
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, db, metrics.New(), logger)
	t.Cleanup(srv.Hub().Close)
	return srv.Router(), dir
}

func TestRoutes(t *testing.T) {
	router, _ := setupServer(t, 30)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/family-members", "", http.StatusOK},
		{http.MethodGet, "/debug-deployment", "", http.StatusOK},
		{http.MethodGet, "/archives", "", http.StatusOK},
		{http.MethodGet, "/archives/family-data.backup.1.json", "", http.StatusServiceUnavailable},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/family-members/bulk-update", "", http.StatusMethodNotAllowed},
		{http.MethodPost, "/family-members/bulk-update", `{"members":[]}`, http.StatusOK},
		{http.MethodPost, "/family-members", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	router, _ := setupServer(t, 30)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected request id header")
	}
}

func TestBulkUpdateRateLimited(t *testing.T) {
	router, _ := setupServer(t, 2)

	var last int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/family-members/bulk-update", strings.NewReader(`{"members":[]}`))
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}

	// Reads are not limited.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/family-members", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("list status = %d, want 200", rec.Code)
	}
}

func TestBulkUpdateNonPostIgnoresRateLimit(t *testing.T) {
	router, _ := setupServer(t, 2)

	send := func(method string) int {
		req := httptest.NewRequest(method, "/family-members/bulk-update", strings.NewReader(`{"members":[]}`))
		req.RemoteAddr = "192.0.2.7:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		if got := send(http.MethodGet); got != http.StatusMethodNotAllowed {
			t.Errorf("GET %d: status = %d, want 405", i+1, got)
		}
	}

	for i := 0; i < 2; i++ {
		if got := send(http.MethodPost); got != http.StatusOK {
			t.Fatalf("POST %d: status = %d, want 200", i+1, got)
		}
	}
	if got := send(http.MethodPost); got != http.StatusTooManyRequests {
		t.Errorf("third POST: status = %d, want 429", got)
	}
	if got := send(http.MethodPut); got != http.StatusMethodNotAllowed {
		t.Errorf("PUT after limit: status = %d, want 405", got)
	}
}

func TestBulkUpdateThroughRouter(t *testing.T) {
	router, dir := setupServer(t, 30)

	body := `{"members":[{"id":1,"externalId":"a","name":"Alice","birth":"1990"}]}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/family-members/bulk-update", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		BackupPath string `json:"backupPath"`
	}
	json.NewDecoder(rec.Body).Decode(&resp)
	if _, err := os.Stat(filepath.Join(dir, resp.BackupPath)); err != nil {
		t.Errorf("backup %q not found: %v", resp.BackupPath, err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/family-members", nil))
	if !strings.Contains(rec.Body.String(), `"birth":"1990"`) {
		t.Errorf("list body = %s, want updated member", rec.Body.String())
	}
}
