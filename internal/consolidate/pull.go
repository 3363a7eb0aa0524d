package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"tgwatch/collector/internal/database"
	"tgwatch/collector/internal/models"
)

const (
	postsEndpoint  = "/v1/posts"
	pullPageLimit  = 500
	requestTimeout = 30 * time.Second

	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second
	backoffFactor  = 2.0
)

// statusError is a non-200 answer of the remote API.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned status %d: %s", e.status, e.body)
}

type postsPage struct {
	Items      []models.Post `json:"items"`
	NextCursor *string       `json:"next_cursor"`
}

// PullResult summarizes a pull.
type PullResult struct {
	Pages      int
	Received   int
	Merged     int
	Duplicates int
	// Latest is the newest created_at seen; pass it as since to resume.
	Latest time.Time
}

// Puller copies posts from the HTTP API of another collector into a local store.
type Puller struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	pageLimit int
	sleep     func(time.Duration)
}

// NewPuller creates a Puller for the API at baseURL. apiKey may be empty.
func NewPuller(client *http.Client, baseURL, apiKey string) *Puller {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Puller{
		client:    client,
		baseURL:   baseURL,
		apiKey:    apiKey,
		pageLimit: pullPageLimit,
		sleep:     time.Sleep,
	}
}

// Pull pages through every remote post ingested after since and inserts it
// into db. Posts are stored as received; existing post_ids are skipped.
func (p *Puller) Pull(ctx context.Context, db *database.DB, since time.Time) (*PullResult, error) {
	res := &PullResult{Latest: since}
	var cursor *string

	for {
		reqURL, err := p.pageURL(since, cursor)
		if err != nil {
			return res, err
		}

		var page postsPage
		err = p.retryWithBackoff(ctx, func() error {
			var fetchErr error
			page, fetchErr = p.fetchPage(ctx, reqURL)
			return fetchErr
		})
		if err != nil {
			return res, fmt.Errorf("failed to fetch posts: %w", err)
		}
		res.Pages++

		for i := range page.Items {
			post := &page.Items[i]
			res.Received++
			if post.CreatedAt.After(res.Latest) {
				res.Latest = post.CreatedAt.UTC()
			}

			inserted, err := db.InsertPost(ctx, post)
			if err != nil {
				return res, err
			}
			if inserted {
				res.Merged++
			} else {
				res.Duplicates++
			}
		}

		log.Debug().
			Int("page", res.Pages).
			Int("items", len(page.Items)).
			Msg("Remote page stored")

		if page.NextCursor == nil || *page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	log.Info().
		Str("remote", p.baseURL).
		Int("pages", res.Pages).
		Int("received", res.Received).
		Int("merged", res.Merged).
		Int("duplicates", res.Duplicates).
		Msg("Pull completed")
	return res, nil
}

func (p *Puller) pageURL(since time.Time, cursor *string) (string, error) {
	base, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base API URL: %w", err)
	}
	endpointURL, err := base.Parse(postsEndpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint path: %w", err)
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(p.pageLimit))
	if cursor != nil {
		query.Set("cursor", *cursor)
	} else {
		query.Set("since", since.UTC().Format(time.RFC3339))
	}
	endpointURL.RawQuery = query.Encode()
	return endpointURL.String(), nil
}

func (p *Puller) fetchPage(ctx context.Context, reqURL string) (postsPage, error) {
	var page postsPage

	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return page, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("X-API-Key", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return page, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return page, fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return page, &statusError{status: resp.StatusCode, body: string(body)}
	}

	if err := json.Unmarshal(body, &page); err != nil {
		return page, fmt.Errorf("failed to decode JSON response: %w", err)
	}
	return page, nil
}

// retryWithBackoff runs fn until it succeeds, fails permanently or the
// retries are exhausted, sleeping with jittered exponential backoff.
func (p *Puller) retryWithBackoff(ctx context.Context, fn func() error) error {
	var err error
	backoff := initialBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !isRetriable(err) || ctx.Err() != nil {
			break
		}

		delay := time.Duration(float64(backoff) * (1.0 + 0.2*rand.Float64()))
		log.Warn().
			Err(err).
			Dur("retry_in", delay.Round(time.Millisecond)).
			Int("attempt", attempt+1).
			Msg("Transient API error")
		p.sleep(delay)

		backoff = min(time.Duration(float64(backoff)*backoffFactor), maxBackoff)
	}
	return err
}

// isRetriable reports whether err is worth another attempt: timeouts, reset
// connections, 5xx and 429 answers.
func isRetriable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE)
}
