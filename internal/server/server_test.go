package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/server/api"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "posts.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	post := &models.Post{PostID: "1", Content: "hello", PublishedDate: now, SourceURL: "https://t.me/alpha/1", CreatedAt: now}
	if _, err := db.InsertPost(context.Background(), post); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestAPIKey(t *testing.T) {
	h := NewHandler(newTestDB(t), config.Analytics{}, zerolog.Nop(), "secret")

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "guess", http.StatusUnauthorized},
		{"valid key", "secret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-01-01T00:00:00Z", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRoutes(t *testing.T) {
	h := NewHandler(newTestDB(t), config.DefaultSettings().Analytics, zerolog.Nop(), "")

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/v1/posts?since=2025-01-01T00:00:00Z", http.StatusOK},
		{http.MethodGet, "/v1/stats", http.StatusOK},
		{http.MethodGet, "/v1/export", http.StatusOK},
		{http.MethodPost, "/v1/posts", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Header().Get("Request-Id") == "" {
				t.Error("Request-Id header missing")
			}
		})
	}
}

func TestPostsEndToEnd(t *testing.T) {
	h := NewHandler(newTestDB(t), config.Analytics{}, zerolog.Nop(), "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-01-01T00:00:00Z", nil))

	var page api.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].PostID != "1" || page.NextCursor != nil {
		t.Errorf("page = %+v", page)
	}
}

func TestHealthFailsOnClosedDB(t *testing.T) {
	db := newTestDB(t)
	h := NewHandler(db, config.Analytics{}, zerolog.Nop(), "")
	db.Close()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestRunServerStopsOnCancel(t *testing.T) {
	db := newTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- RunServer(ctx, db, config.Analytics{}, "127.0.0.1:0", zerolog.Nop(), "")
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("RunServer() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RunServer did not return after cancel")
	}
}
