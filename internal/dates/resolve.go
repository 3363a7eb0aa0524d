// Package dates resolves the free-form publication dates found in mirror
// feeds into UTC instants.
package dates

import (
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Layouts are tried strictly in this order; the first that parses wins.
// The day is not zero-padded in the RFC-822 layouts so "1 Nov" and "01 Nov" both match.
var layouts = []string{
	"Mon, 2 Jan 2006 15:04:05 UTC",   // RFC-822, named zone (GMT is rewritten before parsing)
	"Mon, 2 Jan 2006 15:04:05 -0700", // RFC-822, numeric offset
	"2006-01-02T15:04:05.999999999Z", // ISO-8601, fractional seconds, Zulu
	"2006-01-02T15:04:05Z",           // ISO-8601, whole seconds, Zulu
	"2006-01-02 15:04:05",            // space separated, no zone
}

// Resolver parses dates with a fallback clock for unparseable input.
type Resolver struct {
	now func() time.Time
}

// NewResolver creates a Resolver falling back to the wall clock.
func NewResolver() *Resolver {
	return &Resolver{now: time.Now}
}

// NewResolverWithClock creates a Resolver falling back to now().
func NewResolverWithClock(now func() time.Time) *Resolver {
	return &Resolver{now: now}
}

// Resolve parses raw into a UTC instant. It never fails: input matching no
// known format resolves to the current instant. Zone-less layouts are read
// as UTC; zoned ones are converted to UTC.
func (r *Resolver) Resolve(raw string) (resolved time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Warn().Interface("panic", rec).Str("date", raw).Msg("Date parsing failed, using current time")
			resolved = r.now().UTC()
		}
	}()

	s := strings.TrimSpace(raw)
	// GMT is the only zone abbreviation understood; it is rewritten to an offset.
	s = strings.ReplaceAll(s, "GMT", "+0000")

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}

	log.Debug().Str("date", raw).Msg("Unrecognized date format, using current time")
	return r.now().UTC()
}

// Resolve parses raw with the wall-clock fallback.
func Resolve(raw string) time.Time {
	return defaultResolver.Resolve(raw)
}

var defaultResolver = NewResolver()
