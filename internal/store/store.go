// Package store is the post store used by the collector: the SQLite posts
// table plus its flat-text mirror, kept in step on every successful insert.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/textlog"
)

// PostStore wraps the database with the mirror side effect and the boolean
// error boundary the ingestion loop relies on.
type PostStore struct {
	db     *database.DB
	mirror *textlog.Mirror
}

// New creates a PostStore. mirror may be nil to disable the text file.
func New(db *database.DB, mirror *textlog.Mirror) *PostStore {
	return &PostStore{db: db, mirror: mirror}
}

// Exists reports whether postID is stored. Lookup failures are logged and
// reported as false; Insert stays idempotent either way.
func (s *PostStore) Exists(ctx context.Context, postID string) bool {
	exists, err := s.db.PostExists(ctx, postID)
	if err != nil {
		log.Warn().Err(err).Str("post_id", postID).Msg("Duplicate check failed")
		return false
	}
	return exists
}

// Insert stores post and reports whether it was new. A duplicate post_id and
// a failed write both yield false. New posts are mirrored to the text file.
func (s *PostStore) Insert(ctx context.Context, post *models.Post) bool {
	inserted, err := s.db.InsertPost(ctx, post)
	if err != nil {
		log.Error().Err(err).Str("post_id", post.PostID).Msg("Failed to save post")
		return false
	}
	if !inserted {
		log.Debug().Str("post_id", post.PostID).Msg("Duplicate post ignored")
		return false
	}

	if s.mirror != nil {
		s.appendToMirror(ctx, post)
	}
	return true
}

func (s *PostStore) appendToMirror(ctx context.Context, post *models.Post) {
	summary, err := s.Summary(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to build mirror summary")
	}
	if err := s.mirror.Append(post, summary); err != nil {
		log.Warn().Err(err).Str("post_id", post.PostID).Str("path", s.mirror.Path()).Msg("Failed to update text mirror")
	}
}

// Summary returns the totals written at the end of the text mirror.
func (s *PostStore) Summary(ctx context.Context) (textlog.Summary, error) {
	total, err := s.db.CountPosts(ctx)
	if err != nil {
		return textlog.Summary{}, err
	}
	channels, err := s.db.ChannelCounts(ctx)
	if err != nil {
		return textlog.Summary{Total: total}, err
	}
	return textlog.Summary{Total: total, Channels: channels}, nil
}

// PostsByDay returns per-day counts for the last days days, newest first.
func (s *PostStore) PostsByDay(ctx context.Context, now time.Time, days int) []models.DayCount {
	counts, err := s.db.PostsByDay(ctx, now.AddDate(0, 0, -days), days)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load per-day statistics")
		return nil
	}
	return counts
}

// Latest returns the newest posts by publication date.
func (s *PostStore) Latest(ctx context.Context, limit int) []models.Post {
	posts, err := s.db.LatestPosts(ctx, limit)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load latest posts")
		return nil
	}
	return posts
}
