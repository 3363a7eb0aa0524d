// Package fanout fetches one channel from every configured RSS mirror and
// merges the results into a single deduplicated feed.
package fanout

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"tgwatch/collector/internal/config"
)

// ChannelPlaceholder is substituted with the channel identifier in mirror templates.
const ChannelPlaceholder = "{channel}"

var (
	// ErrNoEntries is returned when no mirror yielded a single entry.
	ErrNoEntries = errors.New("no entries")
	// ErrNoIdentity is returned for links without a trailing path segment.
	ErrNoIdentity = errors.New("link has no identity segment")
)

// Entry is one feed item as delivered by a mirror, before normalization.
type Entry struct {
	PostID    string // empty when the link has no identity segment
	Link      string
	Body      string
	Published string // raw date string, resolved later
	Source    string // mirror URL the entry was first seen on
}

// Feed is the union of all mirrors for one channel, in first-seen order.
type Feed struct {
	Channel string
	Entries []Entry
}

// PostID derives the identity key of an entry: the last '/'-separated segment
// of its link. Query strings and fragments are part of the key.
func PostID(link string) (string, error) {
	id := link[strings.LastIndex(link, "/")+1:]
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: %q", ErrNoIdentity, link)
	}
	return id, nil
}

// Options configures a Fanout.
type Options struct {
	Templates   []string
	Timeout     time.Duration
	HostDelay   time.Duration // minimum gap between two requests to one host
	InsecureTLS bool
	UserAgent   string
}

// DefaultOptions builds Options from the process configuration.
func DefaultOptions(cfg *config.Config) Options {
	return Options{
		Templates:   config.MirrorTemplates,
		Timeout:     cfg.FetchTimeout,
		HostDelay:   cfg.HostDelay,
		InsecureTLS: cfg.InsecureTLS,
		UserAgent:   config.UserAgent,
	}
}

// Fanout queries mirrors sequentially. It is safe for concurrent use.
type Fanout struct {
	templates []string
	client    *http.Client
	userAgent string
	hostDelay time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fanout.
func New(opts Options) *Fanout {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if opts.UserAgent == "" {
		opts.UserAgent = config.UserAgent
	}

	return &Fanout{
		templates: opts.Templates,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent: opts.UserAgent,
		hostDelay: opts.HostDelay,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Fetch queries every mirror for channel and returns the union of their
// entries, deduplicated by identity key with the first occurrence winning.
// A failing mirror is logged and skipped. ErrNoEntries is returned when no
// mirror produced anything.
func (f *Fanout) Fetch(ctx context.Context, channel string) (*Feed, error) {
	feed := &Feed{Channel: channel}
	seen := make(map[string]bool)

	for _, tpl := range f.templates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		source := strings.ReplaceAll(tpl, ChannelPlaceholder, channel)
		items, err := f.fetchSource(ctx, source)
		if err != nil {
			log.Warn().Err(err).Str("channel", channel).Str("source", source).Msg("Mirror failed")
			continue
		}
		log.Debug().Str("channel", channel).Str("source", source).Int("entries", len(items)).Msg("Mirror fetched")

		for _, item := range items {
			entry := entryFromItem(item, source)
			if entry.PostID != "" {
				if seen[entry.PostID] {
					continue
				}
				seen[entry.PostID] = true
			}
			feed.Entries = append(feed.Entries, entry)
		}
	}

	if len(feed.Entries) == 0 {
		return nil, ErrNoEntries
	}
	return feed, nil
}

func (f *Fanout) fetchSource(ctx context.Context, source string) ([]*gofeed.Item, error) {
	if err := f.limiter(source).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}
	if len(parsed.Items) == 0 {
		return nil, ErrNoEntries
	}
	return parsed.Items, nil
}

// limiter returns the rate limiter of the source's host, creating it on first use.
func (f *Fanout) limiter(source string) *rate.Limiter {
	host := source
	if u, err := url.Parse(source); err == nil && u.Host != "" {
		host = u.Host
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		limit := rate.Inf
		if f.hostDelay > 0 {
			limit = rate.Every(f.hostDelay)
		}
		l = rate.NewLimiter(limit, 1)
		f.limiters[host] = l
	}
	return l
}

func entryFromItem(item *gofeed.Item, source string) Entry {
	entry := Entry{
		Link:      item.Link,
		Body:      item.Description,
		Published: item.Published,
		Source:    source,
	}
	if entry.Body == "" {
		entry.Body = item.Content
	}
	if entry.Published == "" {
		entry.Published = item.Updated
	}
	entry.PostID, _ = PostID(item.Link)
	return entry
}
