package api

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/server/pagination"
	"tgwatch/collector/internal/server/storage"
)

const (
	defaultLimit  = 100
	maxLimit      = 1000
	iso8601Format = time.RFC3339
)

// Response structure for the posts endpoint
type Response struct {
	Items      []models.Post `json:"items"`
	NextCursor *string       `json:"next_cursor,omitempty"`
}

// PostsHandler serves the stored posts. The logger comes from the request context.
type PostsHandler struct {
	repo storage.PostRepository
	now  func() time.Time
}

// NewPostsHandler creates a new handler instance.
func NewPostsHandler(repo storage.PostRepository) *PostsHandler {
	return &PostsHandler{
		repo: repo,
		now:  time.Now,
	}
}

// pageRequest is a validated /v1/posts query.
type pageRequest struct {
	limit    int
	since    *time.Time
	cursorTS *time.Time
	cursorID *int64
}

// badRequest is a query error whose message goes back to the client.
type badRequest string

func (e badRequest) Error() string { return string(e) }

// parsePageRequest reads limit and either cursor or since. A cursor wins over since.
func parsePageRequest(q url.Values) (pageRequest, error) {
	req := pageRequest{limit: defaultLimit}

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxLimit {
			return req, badRequest(fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit))
		}
		req.limit = n
	}

	if raw := q.Get("cursor"); raw != "" {
		ts, id, err := pagination.DecodeCursor(raw)
		if err != nil {
			return req, badRequest("Invalid 'cursor' parameter")
		}
		req.cursorTS, req.cursorID = &ts, &id
		return req, nil
	}

	raw := q.Get("since")
	if raw == "" {
		return req, badRequest("Missing required parameter: 'since' or 'cursor'")
	}
	since, err := time.Parse(iso8601Format, raw)
	if err != nil {
		return req, badRequest("Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)")
	}
	since = since.UTC()
	req.since = &since
	return req, nil
}

// GetPosts pages through posts in ingestion order, starting after since or a cursor.
func (h *PostsHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	req, err := parsePageRequest(r.URL.Query())
	if err != nil {
		log.Warn().Err(err).Str("query", r.URL.RawQuery).Msg("Rejected posts request")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// One extra row tells whether another page exists.
	items, err := h.repo.FetchPosts(r.Context(), req.limit+1, req.since, req.cursorTS, req.cursorID)
	if err != nil {
		log.Error().Err(err).Int("limit", req.limit).Msg("Error fetching posts from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if items == nil {
		items = []models.Post{}
	}
	resp := Response{Items: items}
	if len(items) > req.limit {
		resp.Items = items[:req.limit]
		next := pagination.After(resp.Items[req.limit-1]).Encode()
		resp.NextCursor = &next
	}
	log.Debug().Int("items", len(resp.Items)).Bool("more", resp.NextCursor != nil).Msg("Posts page served")

	writeJSON(w, r, resp)
}

// GetStats handles requests for the store statistics.
func (h *PostsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Processing stats request")

	stats, err := h.repo.Stats(r.Context(), h.now())
	if err != nil {
		log.Error().Err(err).Msg("Error computing statistics")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, stats)
}

// ExportPosts streams every post as CSV.
func (h *PostsHandler) ExportPosts(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)
	log.Debug().Msg("Export posts request received")

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=posts.csv")

	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write([]string{"post_id", "published_date", "created_at", "source_url", "content"}); err != nil {
		log.Error().Err(err).Msg("Failed to write CSV header")
		http.Error(w, "Error generating CSV", http.StatusInternalServerError)
		return
	}

	var count int
	err := h.repo.EachPost(r.Context(), func(p *models.Post) error {
		count++
		return csvWriter.Write([]string{
			p.PostID,
			p.PublishedDate.UTC().Format(time.RFC3339),
			p.CreatedAt.UTC().Format(time.RFC3339),
			p.SourceURL,
			p.Content,
		})
	})
	if err != nil {
		// Headers are already out; the client sees a truncated file.
		log.Error().Err(err).Int("post_count", count).Msg("Error exporting posts")
		return
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		log.Error().Err(err).Msg("Error flushing CSV data")
		return
	}
	log.Info().Int("post_count", count).Msg("Exported posts as CSV")
}

// writeJSON marshals before writing so an encoding failure can still become a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing JSON response body to client")
	}
}
