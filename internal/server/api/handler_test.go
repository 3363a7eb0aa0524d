package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/report"
	"tgwatch/collector/internal/server/pagination"
)

type fakeRepo struct {
	posts []models.Post
	err   error

	gotLimit  int
	gotSince  *time.Time
	gotCursor *int64
}

func (r *fakeRepo) FetchPosts(_ context.Context, limit int, since, cursorTS *time.Time, cursorID *int64) ([]models.Post, error) {
	r.gotLimit, r.gotSince, r.gotCursor = limit, since, cursorID
	if r.err != nil {
		return nil, r.err
	}
	var out []models.Post
	for _, p := range r.posts {
		if cursorID != nil && p.ID <= *cursorID {
			continue
		}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRepo) Stats(_ context.Context, now time.Time) (*report.Stats, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &report.Stats{GeneratedAt: now, TotalPosts: len(r.posts)}, nil
}

func (r *fakeRepo) EachPost(_ context.Context, fn func(*models.Post) error) error {
	for i := range r.posts {
		if err := fn(&r.posts[i]); err != nil {
			return err
		}
	}
	return r.err
}

func threePosts() []models.Post {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var posts []models.Post
	for i := int64(1); i <= 3; i++ {
		posts = append(posts, models.Post{
			ID:            i,
			PostID:        string(rune('a' + i - 1)),
			Content:       "text, with comma",
			PublishedDate: base,
			SourceURL:     "https://t.me/alpha/x",
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		})
	}
	return posts
}

func TestGetPostsValidation(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing since and cursor", "", http.StatusBadRequest},
		{"bad since", "since=yesterday", http.StatusBadRequest},
		{"limit zero", "since=2025-03-01T00:00:00Z&limit=0", http.StatusBadRequest},
		{"limit too large", "since=2025-03-01T00:00:00Z&limit=5000", http.StatusBadRequest},
		{"bad cursor", "cursor=@@@", http.StatusBadRequest},
		{"valid since", "since=2025-03-01T00:00:00Z", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewPostsHandler(&fakeRepo{posts: threePosts()})
			rec := httptest.NewRecorder()
			h.GetPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?"+tt.query, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestGetPostsPagination(t *testing.T) {
	repo := &fakeRepo{posts: threePosts()}
	h := NewPostsHandler(repo)

	rec := httptest.NewRecorder()
	h.GetPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-03-01T00:00:00%2B03:00&limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if repo.gotLimit != 3 {
		t.Errorf("repository asked for %d rows, want limit+1", repo.gotLimit)
	}
	if want := time.Date(2025, 2, 28, 21, 0, 0, 0, time.UTC); repo.gotSince == nil || !repo.gotSince.Equal(want) {
		t.Errorf("since = %v, want %v", repo.gotSince, want)
	}

	var page Response
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.NextCursor == nil {
		t.Fatalf("page = %+v, want 2 items and a cursor", page)
	}
	ts, id, err := pagination.DecodeCursor(*page.NextCursor)
	if err != nil {
		t.Fatal(err)
	}
	if id != 2 || !ts.Equal(page.Items[1].CreatedAt) {
		t.Errorf("cursor = %v/%d, want position of the last item", ts, id)
	}

	rec = httptest.NewRecorder()
	h.GetPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?limit=2&cursor="+*page.NextCursor, nil))
	page = Response{}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 || page.Items[0].ID != 3 || page.NextCursor != nil {
		t.Errorf("last page = %+v", page)
	}
	if repo.gotCursor == nil || *repo.gotCursor != 2 {
		t.Errorf("cursor id passed = %v, want 2", repo.gotCursor)
	}
}

func TestGetPostsEmptyIsArray(t *testing.T) {
	h := NewPostsHandler(&fakeRepo{posts: []models.Post{}})
	rec := httptest.NewRecorder()
	h.GetPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-03-01T00:00:00Z", nil))
	if !strings.Contains(rec.Body.String(), `"items":[]`) {
		t.Errorf("body = %s, want an empty items array", rec.Body.String())
	}
}

func TestRepositoryFailure(t *testing.T) {
	h := NewPostsHandler(&fakeRepo{err: errors.New("disk gone")})

	rec := httptest.NewRecorder()
	h.GetPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/posts?since=2025-03-01T00:00:00Z", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("GetPosts status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("GetStats status = %d", rec.Code)
	}
}

func TestGetStats(t *testing.T) {
	h := NewPostsHandler(&fakeRepo{posts: threePosts()})
	h.now = func() time.Time { return time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var s report.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatal(err)
	}
	if s.TotalPosts != 3 || !s.GeneratedAt.Equal(time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("stats = %+v", s)
	}
}

func TestExportPosts(t *testing.T) {
	h := NewPostsHandler(&fakeRepo{posts: threePosts()})
	rec := httptest.NewRecorder()
	h.ExportPosts(rec, httptest.NewRequest(http.MethodGet, "/v1/export", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q", ct)
	}
	rows, err := csv.NewReader(rec.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid CSV: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("got %d rows, want header plus 3", len(rows))
	}
	if rows[0][0] != "post_id" || rows[1][0] != "a" || rows[1][4] != "text, with comma" {
		t.Errorf("rows = %q", rows)
	}
	if rows[1][2] != "2025-03-01T12:01:00Z" {
		t.Errorf("created_at = %q", rows[1][2])
	}
}
