package consolidate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/normalize"
)

const progressEvery = 100

type contentUpdate struct {
	id      int64
	content string
}

// Rescrub re-applies the cleanup rules to every post in db and returns the
// number of rows whose content changed. All updates commit together.
func Rescrub(ctx context.Context, db *database.DB, normalizer *normalize.Normalizer) (int, error) {
	var updates []contentUpdate
	total := 0

	err := db.EachPost(ctx, func(p *models.Post) error {
		total++
		if cleaned := normalizer.Clean(p.Content); cleaned != p.Content {
			updates = append(updates, contentUpdate{id: p.ID, content: cleaned})
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read posts: %w", err)
	}

	if len(updates) == 0 {
		log.Info().Int("total", total).Msg("Content already clean")
		return 0, nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	for i, u := range updates {
		if err := database.UpdateContentTx(ctx, tx, u.id, u.content); err != nil {
			tx.Rollback()
			return 0, err
		}
		if (i+1)%progressEvery == 0 {
			log.Debug().Int("updated", i+1).Int("pending", len(updates)).Msg("Rescrub progress")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().Int("total", total).Int("updated", len(updates)).Msg("Rescrub completed")
	return len(updates), nil
}
