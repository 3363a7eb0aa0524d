// Package consolidate merges independently grown post stores into one and
// re-applies the text cleanup rules to stored content.
package consolidate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/normalize"
)

// SourceResult is the outcome of merging one source store.
type SourceResult struct {
	Path       string
	Read       int
	Merged     int
	Duplicates int
	Err        error
}

// Result summarizes a merge.
type Result struct {
	Target    string
	Sources   []SourceResult
	BackupDir string
	Removed   []string
}

// Read returns the number of rows read across all sources.
func (r *Result) Read() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Read
	}
	return n
}

// Merged returns the number of rows written to the target.
func (r *Result) Merged() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Merged
	}
	return n
}

// Processed returns the sources that were read without error.
func (r *Result) Processed() []string {
	var paths []string
	for _, s := range r.Sources {
		if s.Err == nil {
			paths = append(paths, s.Path)
		}
	}
	return paths
}

// Merger copies posts from source stores into a target store.
type Merger struct {
	target     *database.DB
	normalizer *normalize.Normalizer
	now        func() time.Time
}

// NewMerger creates a Merger writing into target.
func NewMerger(target *database.DB, normalizer *normalize.Normalizer) *Merger {
	return &Merger{target: target, normalizer: normalizer, now: time.Now}
}

// Merge reads every source store and inserts its posts into the target,
// cleaning content on the way. post_id, dates and source_url are kept; rows
// whose post_id is already in the target are skipped. A source that cannot
// be opened or read is logged and skipped.
func (m *Merger) Merge(ctx context.Context, sources []string) *Result {
	res := &Result{Target: m.target.Path()}

	for _, path := range sources {
		if samePath(path, m.target.Path()) {
			continue
		}
		sr := m.mergeSource(ctx, path)
		if sr.Err != nil {
			log.Error().Err(sr.Err).Str("source", path).Msg("Failed to merge store")
		} else {
			log.Info().
				Str("source", path).
				Int("read", sr.Read).
				Int("merged", sr.Merged).
				Int("duplicates", sr.Duplicates).
				Msg("Store merged")
		}
		res.Sources = append(res.Sources, sr)
	}

	log.Info().
		Int("sources", len(res.Sources)).
		Int("read", res.Read()).
		Int("merged", res.Merged()).
		Msg("Merge summary")
	return res
}

func (m *Merger) mergeSource(ctx context.Context, path string) (sr SourceResult) {
	sr.Path = path

	src, err := database.Open(path, true)
	if err != nil {
		sr.Err = err
		return sr
	}
	defer src.Close()

	tx, err := m.target.BeginTxx(ctx, nil)
	if err != nil {
		sr.Err = fmt.Errorf("failed to begin transaction: %w", err)
		return sr
	}
	defer func() {
		if sr.Err != nil {
			tx.Rollback()
			sr.Merged = 0
			log.Debug().Str("source", path).Msg("Transaction rolled back")
			return
		}
		if err := tx.Commit(); err != nil {
			sr.Err = fmt.Errorf("failed to commit transaction: %w", err)
			sr.Merged = 0
		}
	}()

	sr.Err = src.EachPost(ctx, func(p *models.Post) error {
		sr.Read++
		if p.PostID == "" {
			log.Warn().Str("source", path).Int64("id", p.ID).Msg("Skipping row without post_id")
			return nil
		}

		p.Content = m.normalizer.Clean(p.Content)
		if p.CreatedAt.IsZero() {
			p.CreatedAt = m.now().UTC()
		}
		if p.PublishedDate.IsZero() {
			p.PublishedDate = p.CreatedAt
		}

		inserted, err := database.InsertPostTx(ctx, tx, p)
		if err != nil {
			return err
		}
		if inserted {
			sr.Merged++
		} else {
			sr.Duplicates++
		}
		return nil
	})
	return sr
}

// BackupAndRemove copies every processed source of res into a fresh backup
// directory under dir and deletes the originals. Nothing happens unless at
// least one row was merged.
func BackupAndRemove(res *Result, dir string, now time.Time) error {
	if res.Merged() == 0 {
		log.Info().Msg("No rows merged, keeping source stores")
		return nil
	}

	backupDir := filepath.Join(dir, fmt.Sprintf("db_backup_%s_%s",
		now.Format("20060102_150405"), uuid.NewString()[:8]))
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	res.BackupDir = backupDir

	for _, path := range res.Processed() {
		if err := backupStore(path, backupDir); err != nil {
			log.Error().Err(err).Str("source", path).Msg("Backup failed, keeping source store")
			continue
		}
		if err := database.DeleteDB(path); err != nil {
			log.Error().Err(err).Str("source", path).Msg("Failed to remove source store")
			continue
		}
		res.Removed = append(res.Removed, path)
		log.Info().Str("source", path).Str("backup", backupDir).Msg("Source store removed")
	}
	return nil
}

// Discover lists the *.db files in dir other than target.
func Discover(dir, target string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.db"))
	if err != nil {
		return nil, err
	}
	var sources []string
	for _, m := range matches {
		if !samePath(m, target) {
			sources = append(sources, m)
		}
	}
	return sources, nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

// backupStore copies a store file and its WAL side files into dir.
func backupStore(path, dir string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if _, err := os.Stat(p); err != nil {
			if p == path {
				return err
			}
			continue
		}
		if err := copyFile(p, filepath.Join(dir, filepath.Base(p))); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
