package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"tgwatch/collector/internal/models"
)

const postColumns = `id, COALESCE(post_id, '') AS post_id, COALESCE(content, '') AS content,
	published_date, COALESCE(source_url, '') AS source_url, created_at`

// InsertPost adds a post unless one with the same post_id exists. It reports
// whether a row was written; the uniqueness check and the write are a single
// statement, so repeated or concurrent calls never produce duplicate rows.
func (db *DB) InsertPost(ctx context.Context, post *models.Post) (bool, error) {
	return insertPost(ctx, db, post)
}

// InsertPostTx is InsertPost inside an open transaction.
func InsertPostTx(ctx context.Context, tx *sqlx.Tx, post *models.Post) (bool, error) {
	return insertPost(ctx, tx, post)
}

func insertPost(ctx context.Context, exec sqlx.ExecerContext, post *models.Post) (bool, error) {
	res, err := exec.ExecContext(ctx, `
		INSERT INTO posts (post_id, content, published_date, source_url, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(post_id) DO NOTHING`,
		post.PostID,
		post.Content,
		post.PublishedDate.UTC(),
		post.SourceURL,
		post.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert post %s: %w", post.PostID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for post %s: %w", post.PostID, err)
	}
	return rowsAffected > 0, nil
}

// PostExists reports whether a post with the given post_id is stored.
func (db *DB) PostExists(ctx context.Context, postID string) (bool, error) {
	var exists bool
	err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM posts WHERE post_id = ?)`, postID)
	if err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", postID, err)
	}
	return exists, nil
}

// CountPosts returns the number of stored posts.
func (db *DB) CountPosts(ctx context.Context) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM posts`); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return n, nil
}

// ChannelCounts tallies posts per channel, busiest channel first.
func (db *DB) ChannelCounts(ctx context.Context) ([]models.ChannelCount, error) {
	var urls []string
	if err := db.SelectContext(ctx, &urls, `SELECT COALESCE(source_url, '') FROM posts`); err != nil {
		return nil, fmt.Errorf("failed to load source urls: %w", err)
	}

	tally := make(map[string]int)
	for _, u := range urls {
		tally[models.ChannelOf(u)]++
	}

	counts := make([]models.ChannelCount, 0, len(tally))
	for ch, n := range tally {
		counts = append(counts, models.ChannelCount{Channel: ch, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Channel < counts[j].Channel
	})
	return counts, nil
}

// PostsByDay counts posts per publication day on or after since, newest day first.
func (db *DB) PostsByDay(ctx context.Context, since time.Time, limit int) ([]models.DayCount, error) {
	var days []models.DayCount
	err := db.SelectContext(ctx, &days, `
		SELECT DATE(published_date) AS day, COUNT(*) AS count
		FROM posts
		WHERE DATE(published_date) >= DATE(?)
		GROUP BY DATE(published_date)
		ORDER BY day DESC
		LIMIT ?`,
		since.UTC().Format("2006-01-02"), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to count posts by day: %w", err)
	}
	return days, nil
}

// LatestPosts returns the newest posts by publication date.
func (db *DB) LatestPosts(ctx context.Context, limit int) ([]models.Post, error) {
	posts, err := db.selectPosts(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY published_date DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load latest posts: %w", err)
	}
	return posts, nil
}

// AllPosts loads every stored post ordered by publication date, newest first.
func (db *DB) AllPosts(ctx context.Context) ([]models.Post, error) {
	posts, err := db.selectPosts(ctx,
		`SELECT `+postColumns+` FROM posts ORDER BY published_date DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load posts: %w", err)
	}
	return posts, nil
}

// PostsCreatedAfter returns up to limit posts ingested after since, oldest first.
// With a cursor id, posts ingested at exactly since with a greater id are included.
func (db *DB) PostsCreatedAfter(ctx context.Context, since time.Time, cursorID *int64, limit int) ([]models.Post, error) {
	const orderBy = ` ORDER BY created_at ASC, id ASC LIMIT ?`

	var posts []models.Post
	var err error
	if cursorID != nil {
		posts, err = db.selectPosts(ctx,
			`SELECT `+postColumns+` FROM posts WHERE (created_at > ?) OR (created_at = ? AND id > ?)`+orderBy,
			since.UTC(), since.UTC(), *cursorID, limit)
	} else {
		posts, err = db.selectPosts(ctx,
			`SELECT `+postColumns+` FROM posts WHERE created_at > ?`+orderBy,
			since.UTC(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load posts created after %s: %w", since.Format(time.RFC3339), err)
	}
	return posts, nil
}

func (db *DB) selectPosts(ctx context.Context, query string, args ...any) ([]models.Post, error) {
	var rows []postRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	posts := make([]models.Post, len(rows))
	for i, r := range rows {
		posts[i] = *r.post()
	}
	return posts, nil
}

// EachPost calls fn for every stored post in id order, stopping at the first
// error fn returns. NULL dates are passed as the zero time.
func (db *DB) EachPost(ctx context.Context, fn func(*models.Post) error) error {
	rows, err := db.QueryxContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY id`)
	if err != nil {
		return fmt.Errorf("failed to query posts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r postRow
		if err := rows.StructScan(&r); err != nil {
			return fmt.Errorf("failed to scan post: %w", err)
		}
		if err := fn(r.post()); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpdateContent rewrites the content of a single post.
func (db *DB) UpdateContent(ctx context.Context, id int64, content string) error {
	return updateContent(ctx, db, id, content)
}

// UpdateContentTx is UpdateContent inside an open transaction.
func UpdateContentTx(ctx context.Context, tx *sqlx.Tx, id int64, content string) error {
	return updateContent(ctx, tx, id, content)
}

func updateContent(ctx context.Context, exec sqlx.ExecerContext, id int64, content string) error {
	if _, err := exec.ExecContext(ctx, `UPDATE posts SET content = ? WHERE id = ?`, content, id); err != nil {
		return fmt.Errorf("failed to update content of post %d: %w", id, err)
	}
	return nil
}

// postRow tolerates NULL dates in stores written by other tools.
type postRow struct {
	ID            int64        `db:"id"`
	PostID        string       `db:"post_id"`
	Content       string       `db:"content"`
	PublishedDate sql.NullTime `db:"published_date"`
	SourceURL     string       `db:"source_url"`
	CreatedAt     sql.NullTime `db:"created_at"`
}

func (r postRow) post() *models.Post {
	return &models.Post{
		ID:            r.ID,
		PostID:        r.PostID,
		Content:       r.Content,
		PublishedDate: r.PublishedDate.Time.UTC(),
		SourceURL:     r.SourceURL,
		CreatedAt:     r.CreatedAt.Time.UTC(),
	}
}
