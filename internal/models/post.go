package models

import (
	"net/url"
	"strings"
	"time"
)

// Post represents a row in the posts table
type Post struct {
	ID            int64     `db:"id" json:"id"`
	PostID        string    `db:"post_id" json:"post_id"` // trailing path segment of SourceURL
	Content       string    `db:"content" json:"content"`
	PublishedDate time.Time `db:"published_date" json:"published_date"`
	SourceURL     string    `db:"source_url" json:"source_url"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"` // ingestion instant
}

// NewPost creates a new Post stamped with the current ingestion time
func NewPost() *Post {
	return &Post{
		CreatedAt: time.Now().UTC(),
	}
}

// ChannelCount is a per-channel post tally
type ChannelCount struct {
	Channel string `db:"channel" json:"channel"`
	Count   int    `db:"count" json:"count"`
}

// DayCount is a per-day post tally
type DayCount struct {
	Day   string `db:"day" json:"day"`
	Count int    `db:"count" json:"count"`
}

// ChannelOf derives the channel name from a post link: the path segment after
// "t.me/" when present, the URL host otherwise.
func ChannelOf(sourceURL string) string {
	if i := strings.Index(sourceURL, "t.me/"); i >= 0 {
		rest := sourceURL[i+len("t.me/"):]
		if j := strings.Index(rest, "/"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	if u, err := url.Parse(sourceURL); err == nil && u.Host != "" {
		return u.Host
	}
	return sourceURL
}
