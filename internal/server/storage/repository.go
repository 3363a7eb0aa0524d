package storage

import (
	"context"
	"fmt"
	"time"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/report"
)

// PostRepository defines the read operations the API serves.
type PostRepository interface {
	FetchPosts(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Post, error)
	Stats(ctx context.Context, now time.Time) (*report.Stats, error)
	EachPost(ctx context.Context, fn func(*models.Post) error) error
}

// sqlxRepository implements PostRepository over the post store.
type sqlxRepository struct {
	db        *database.DB
	analytics config.Analytics
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB, analytics config.Analytics) PostRepository {
	return &sqlxRepository{db: db, analytics: analytics}
}

// FetchPosts retrieves posts ingested after since, or after the cursor
// position (timestamp and id of the last post of the previous page).
func (r *sqlxRepository) FetchPosts(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Post, error) {
	var posts []models.Post
	var err error

	switch {
	case cursorTimestamp != nil && cursorID != nil:
		posts, err = r.db.PostsCreatedAfter(ctx, *cursorTimestamp, cursorID, limit)
	case since != nil:
		posts, err = r.db.PostsCreatedAfter(ctx, *since, nil, limit)
	default:
		return nil, fmt.Errorf("either 'since' or cursor parameters must be provided")
	}
	if err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	if posts == nil {
		posts = []models.Post{}
	}
	return posts, nil
}

// Stats computes the report statistics over the whole store.
func (r *sqlxRepository) Stats(ctx context.Context, now time.Time) (*report.Stats, error) {
	return report.Load(ctx, r.db, r.analytics, now)
}

// EachPost streams every post in id order.
func (r *sqlxRepository) EachPost(ctx context.Context, fn func(*models.Post) error) error {
	return r.db.EachPost(ctx, fn)
}
