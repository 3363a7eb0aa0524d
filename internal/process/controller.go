package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/dates"
	"tgwatch/collector/internal/fanout"
	"tgwatch/collector/internal/models"
	"tgwatch/collector/internal/normalize"
)

const statsDays = 7

// FeedSource returns the merged feed of one channel.
type FeedSource interface {
	Fetch(ctx context.Context, channel string) (*fanout.Feed, error)
}

// PostStore is the part of the post store the controller writes to.
type PostStore interface {
	Exists(ctx context.Context, postID string) bool
	Insert(ctx context.Context, post *models.Post) bool
	PostsByDay(ctx context.Context, now time.Time, days int) []models.DayCount
}

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeExisting
	outcomeCovered
	outcomeFailed
)

// Controller runs the polling loop: one tick fetches every channel in turn,
// stores new posts and adapts the interval to the next tick.
type Controller struct {
	source     FeedSource
	store      PostStore
	normalizer *normalize.Normalizer
	resolver   *dates.Resolver
	channels   []string
	bounds     config.Intervals

	interval int                  // seconds until the next tick
	cursors  map[string]time.Time // start of the last tick that stored a post, per channel

	now   func() time.Time
	sleep SleepFunc

	inserted   atomic.Int64
	duplicates atomic.Int64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithClock replaces the wall clock used for tick start and ingestion times.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleeper replaces the end-of-tick sleep.
func WithSleeper(sleep SleepFunc) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// NewController creates a controller for the channels and cleanup rules in settings.
func NewController(source FeedSource, store PostStore, settings *config.Settings, opts ...Option) (*Controller, error) {
	if source == nil {
		return nil, fmt.Errorf("feed source cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("post store cannot be nil")
	}
	if settings == nil {
		settings = config.DefaultSettings()
	}

	c := &Controller{
		source:     source,
		store:      store,
		normalizer: normalize.FromSettings(settings.TextCleanup),
		channels:   settings.Channels,
		bounds:     settings.CheckIntervals,
		interval:   settings.CheckIntervals.Initial,
		cursors:    make(map[string]time.Time),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.resolver = dates.NewResolverWithClock(c.now)
	return c, nil
}

// Interval returns the wait before the next tick.
func (c *Controller) Interval() time.Duration {
	return time.Duration(c.interval) * time.Second
}

// Cursor returns the last check time of channel, if one is set.
func (c *Controller) Cursor(channel string) (time.Time, bool) {
	t, ok := c.cursors[channel]
	return t, ok
}

// Stats returns the number of inserted and already-known posts since start.
func (c *Controller) Stats() (inserted, duplicates int64) {
	return c.inserted.Load(), c.duplicates.Load()
}

// Run ticks until ctx is cancelled. It only returns nil: every failure inside
// a tick is absorbed by the tick.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().
		Int("channels", len(c.channels)).
		Int("interval", c.interval).
		Msg("Starting collection loop")

	for {
		c.Tick(ctx)
		if ctx.Err() != nil {
			break
		}
		if err := c.sleep(ctx, c.Interval()); err != nil {
			break
		}
	}

	inserted, duplicates := c.Stats()
	log.Info().
		Int64("inserted", inserted).
		Int64("duplicates", duplicates).
		Msg("Collection loop stopped")
	return nil
}

// Tick polls every channel once and returns the number of new posts. A panic
// escaping the per-entry handling counts as a tick without new posts and
// backs the interval off to its maximum.
func (c *Controller) Tick(ctx context.Context) (total int) {
	cycleID := uuid.NewString()
	logger := log.With().Str("cycle_id", cycleID).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("Collection cycle failed")
			total = 0
			c.interval = c.bounds.Max
			logger.Info().Int("interval", c.interval).Msg("Backing off to maximum interval")
		}
	}()

	start := c.now().UTC()
	for _, channel := range c.channels {
		if ctx.Err() != nil {
			logger.Info().Err(ctx.Err()).Msg("Collection cycle cancelled")
			break
		}
		n := c.pollChannel(ctx, logger, channel)
		if n > 0 {
			c.cursors[channel] = start
		}
		total += n
	}

	c.adapt(total)
	c.logCycle(ctx, logger, start, total)
	return total
}

// adapt resets the interval to its minimum after a productive tick and grows
// it by one increment, up to the maximum, otherwise.
func (c *Controller) adapt(newPosts int) {
	if newPosts > 0 {
		c.interval = c.bounds.Min
		return
	}
	c.interval = min(c.interval+c.bounds.Increment, c.bounds.Max)
}

func (c *Controller) pollChannel(ctx context.Context, logger zerolog.Logger, channel string) int {
	feed, err := c.source.Fetch(ctx, channel)
	if err != nil {
		if errors.Is(err, fanout.ErrNoEntries) {
			logger.Warn().Str("channel", channel).Msg("No mirror returned entries")
		} else {
			logger.Warn().Err(err).Str("channel", channel).Msg("Failed to fetch channel")
		}
		return 0
	}

	counts := make(map[outcome]int)
	for _, entry := range feed.Entries {
		counts[c.processEntry(ctx, logger, channel, entry)]++
	}

	c.inserted.Add(int64(counts[outcomeInserted]))
	c.duplicates.Add(int64(counts[outcomeExisting]))

	logger.Debug().
		Str("channel", channel).
		Int("entries", len(feed.Entries)).
		Int("new", counts[outcomeInserted]).
		Int("existing", counts[outcomeExisting]).
		Int("covered", counts[outcomeCovered]).
		Int("failed", counts[outcomeFailed]).
		Msg("Channel processed")

	if n := counts[outcomeInserted]; n > 0 {
		logger.Info().Str("channel", channel).Int("new_posts", n).Msg("Stored new posts")
	}
	return counts[outcomeInserted]
}

// processEntry stores one entry. Failures, including panics, are logged and
// reported as outcomeFailed so the rest of the feed is still processed.
func (c *Controller) processEntry(ctx context.Context, logger zerolog.Logger, channel string, entry fanout.Entry) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Interface("panic", r).
				Str("channel", channel).
				Str("link", entry.Link).
				Msg("Failed to process entry")
			result = outcomeFailed
		}
	}()

	postID, err := fanout.PostID(entry.Link)
	if err != nil {
		logger.Warn().Err(err).Str("channel", channel).Msg("Dropping entry without identity")
		return outcomeFailed
	}

	if c.store.Exists(ctx, postID) {
		return outcomeExisting
	}

	content := c.normalizer.Clean(entry.Body)
	published := c.resolver.Resolve(entry.Published)

	if cursor, ok := c.cursors[channel]; ok && !published.After(cursor) {
		return outcomeCovered
	}

	post := &models.Post{
		PostID:        postID,
		Content:       content,
		PublishedDate: published,
		SourceURL:     entry.Link,
		CreatedAt:     c.now().UTC(),
	}
	if !c.store.Insert(ctx, post) {
		return outcomeFailed
	}

	logger.Debug().Str("channel", channel).Str("post_id", postID).Msg("Post stored")
	return outcomeInserted
}

func (c *Controller) logCycle(ctx context.Context, logger zerolog.Logger, start time.Time, total int) {
	if total > 0 {
		logger.Info().Str("new_posts", humanize.Comma(int64(total))).Msg("Collection cycle stored new posts")
		for _, day := range c.store.PostsByDay(ctx, start, statsDays) {
			logger.Info().Str("day", day.Day).Int("posts", day.Count).Msg("Posts per day")
		}
	} else {
		logger.Info().Msg("No new posts this cycle")
	}

	next := c.Interval()
	logger.Info().
		Int("interval", c.interval).
		Str("next_check", humanize.RelTime(start.Add(next), start, "ago", "from now")).
		Msg("Next check scheduled")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
