// Package report computes descriptive statistics over the post store and
// renders them as a Markdown report.
package report

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"tgwatch/collector/internal/config"
	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
)

const (
	minWordLength = 4
	topWordsLimit = 20
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Stats is everything the report shows. All counts are over the whole store.
type Stats struct {
	GeneratedAt time.Time `json:"generated_at"`

	TotalPosts     int        `json:"total_posts"`
	UniqueChannels int        `json:"unique_channels"`
	FirstPost      *time.Time `json:"first_post,omitempty"`
	LastPost       *time.Time `json:"last_post,omitempty"`
	MeanLength     float64    `json:"mean_length"`
	MedianLength   float64    `json:"median_length"`

	ByChannel []models.ChannelCount `json:"by_channel"`
	ByHour    [24]int               `json:"by_hour"`
	ByDate    []models.DayCount     `json:"by_date"`
	TopWords  []WordCount           `json:"top_words"`

	Keywords  []Mention        `json:"keywords"`
	Locations []CategoryReport `json:"locations"`

	Delay *DelayStats `json:"delay,omitempty"`
}

// WordCount is a word and how often it occurs across all posts.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Mention is the number of posts containing a term.
type Mention struct {
	Term    string  `json:"term"`
	Posts   int     `json:"posts"`
	Percent float64 `json:"percent"`
}

// CategoryReport groups the regions of one location category.
type CategoryReport struct {
	Category string         `json:"category"`
	Regions  []RegionReport `json:"regions"`
}

// RegionReport holds mentions of a region and of its cities. Only cities
// mentioned at least once are listed.
type RegionReport struct {
	Mention
	Cities []Mention `json:"cities,omitempty"`
}

// DelayStats describes the time between publication and ingestion.
type DelayStats struct {
	Mean   time.Duration `json:"mean"`
	Median time.Duration `json:"median"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
}

// Load reads every post from db and computes the statistics.
func Load(ctx context.Context, db *database.DB, analytics config.Analytics, now time.Time) (*Stats, error) {
	posts, err := db.AllPosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load posts: %w", err)
	}
	return Compute(posts, analytics, now), nil
}

// Compute derives the statistics from posts. It accepts an empty slice.
func Compute(posts []models.Post, analytics config.Analytics, now time.Time) *Stats {
	s := &Stats{
		GeneratedAt: now.UTC(),
		TotalPosts:  len(posts),
	}
	if len(posts) == 0 {
		s.ByChannel = []models.ChannelCount{}
		s.ByDate = []models.DayCount{}
		s.TopWords = []WordCount{}
		s.Keywords = mentions(nil, analytics.Keywords, cases.Fold())
		s.Locations = locations(nil, analytics.Locations, cases.Fold())
		return s
	}

	fold := cases.Fold()
	folded := make([]string, len(posts))
	lengths := make([]float64, len(posts))
	delays := make([]time.Duration, 0, len(posts))
	channels := make(map[string]int)
	dates := make(map[string]int)

	for i, p := range posts {
		folded[i] = fold.String(p.Content)
		lengths[i] = float64(utf8.RuneCountInString(p.Content))

		published := p.PublishedDate.UTC()
		if s.FirstPost == nil || published.Before(*s.FirstPost) {
			t := published
			s.FirstPost = &t
		}
		if s.LastPost == nil || published.After(*s.LastPost) {
			t := published
			s.LastPost = &t
		}

		channels[models.ChannelOf(p.SourceURL)]++
		dates[published.Format(time.DateOnly)]++
		s.ByHour[published.Hour()]++

		if !p.CreatedAt.IsZero() {
			delays = append(delays, p.CreatedAt.Sub(p.PublishedDate))
		}
	}

	s.MeanLength = mean(lengths)
	s.MedianLength = median(lengths)

	s.ByChannel = make([]models.ChannelCount, 0, len(channels))
	for ch, n := range channels {
		s.ByChannel = append(s.ByChannel, models.ChannelCount{Channel: ch, Count: n})
	}
	sort.Slice(s.ByChannel, func(i, j int) bool {
		if s.ByChannel[i].Count != s.ByChannel[j].Count {
			return s.ByChannel[i].Count > s.ByChannel[j].Count
		}
		return s.ByChannel[i].Channel < s.ByChannel[j].Channel
	})
	s.UniqueChannels = len(s.ByChannel)

	s.ByDate = make([]models.DayCount, 0, len(dates))
	for day, n := range dates {
		s.ByDate = append(s.ByDate, models.DayCount{Day: day, Count: n})
	}
	sort.Slice(s.ByDate, func(i, j int) bool { return s.ByDate[i].Day < s.ByDate[j].Day })

	s.TopWords = topWords(posts, topWordsLimit)
	s.Keywords = mentions(folded, analytics.Keywords, fold)
	s.Locations = locations(folded, analytics.Locations, fold)
	s.Delay = delayStats(delays)
	return s
}

func topWords(posts []models.Post, limit int) []WordCount {
	counts := make(map[string]int)
	for _, p := range posts {
		for _, w := range wordRe.FindAllString(strings.ToLower(p.Content), -1) {
			if utf8.RuneCountInString(w) >= minWordLength {
				counts[w]++
			}
		}
	}

	words := make([]WordCount, 0, len(counts))
	for w, n := range counts {
		words = append(words, WordCount{Word: w, Count: n})
	}
	sort.Slice(words, func(i, j int) bool {
		if words[i].Count != words[j].Count {
			return words[i].Count > words[j].Count
		}
		return words[i].Word < words[j].Word
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// countPosts returns how many of the case-folded texts contain term.
func countPosts(folded []string, term string, fold cases.Caser) int {
	needle := fold.String(term)
	if needle == "" {
		return 0
	}
	n := 0
	for _, text := range folded {
		if strings.Contains(text, needle) {
			n++
		}
	}
	return n
}

func mention(folded []string, term string, fold cases.Caser) Mention {
	n := countPosts(folded, term, fold)
	return Mention{Term: term, Posts: n, Percent: percent(n, len(folded))}
}

func mentions(folded []string, terms []string, fold cases.Caser) []Mention {
	out := make([]Mention, 0, len(terms))
	for _, term := range terms {
		out = append(out, mention(folded, term, fold))
	}
	return out
}

// locations reports regions in configuration order, grouped by category.
// Regions with no mention of themselves or any of their cities are omitted.
func locations(folded []string, groups []config.LocationGroup, fold cases.Caser) []CategoryReport {
	var out []CategoryReport
	index := make(map[string]int)

	for _, g := range groups {
		i, ok := index[g.Category]
		if !ok {
			i = len(out)
			index[g.Category] = i
			out = append(out, CategoryReport{Category: g.Category})
		}

		region := RegionReport{Mention: mention(folded, g.Region, fold)}
		for _, city := range g.Cities {
			if m := mention(folded, city, fold); m.Posts > 0 {
				region.Cities = append(region.Cities, m)
			}
		}
		if region.Posts > 0 || len(region.Cities) > 0 {
			out[i].Regions = append(out[i].Regions, region)
		}
	}

	if out == nil {
		out = []CategoryReport{}
	}
	return out
}

func delayStats(delays []time.Duration) *DelayStats {
	if len(delays) == 0 {
		return nil
	}
	sorted := append([]time.Duration(nil), delays...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	mid := len(sorted) / 2
	med := sorted[mid]
	if len(sorted)%2 == 0 {
		med = (sorted[mid-1] + sorted[mid]) / 2
	}

	return &DelayStats{
		Mean:   sum / time.Duration(len(sorted)),
		Median: med,
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
