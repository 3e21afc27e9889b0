// Package fetch pages through a user's Last.fm history.
//
// A Worker performs exactly one page request and turns every outcome into a
// PageResult. An Orchestrator drives a Worker across a sync session: it
// schedules pages in order, paces them, and retries server errors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jfmyers9/scrollback/internal/metrics"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/jfmyers9/scrollback/pkg/lastfm"
	"github.com/rs/zerolog"
)

// DefaultPageSize is the number of tracks requested per page.
const DefaultPageSize = lastfm.MaxRecentTracksLimit

// PageResult is the outcome of a single page request.
//
// Err is nil on success. On failure StatusCode holds the HTTP status, or 0
// when the failure was not an HTTP error status (network, decoding or an
// error reported in the body).
type PageResult struct {
	Records    []scrobble.Record
	TotalPages int
	Page       int
	Err        error
	StatusCode int
}

// OK reports whether the request succeeded.
func (r PageResult) OK() bool {
	return r.Err == nil
}

// WorkerConfig configures the HTTP side of a Worker.
type WorkerConfig struct {
	HTTPClient *http.Client
	BaseURL    string  // Overrides the Last.fm endpoint, used for testing
	RateLimit  float64 // Requests per second, 0 disables limiting
	PageSize   int
}

// Worker fetches single pages of recent tracks.
type Worker struct {
	cfg    WorkerConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *lastfm.Client
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig, logger zerolog.Logger) *Worker {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PageSize <= 0 || cfg.PageSize > lastfm.MaxRecentTracksLimit {
		cfg.PageSize = DefaultPageSize
	}
	return &Worker{
		cfg:    cfg,
		logger: logger.With().Str("component", "fetch_worker").Logger(),
	}
}

// FetchPage requests one page of the user's history.
//
// When fromTimestamp is positive only scrobbles strictly newer than it are
// requested. Now-playing entries are skipped and entries without a
// positive timestamp are dropped. FetchPage never panics on remote
// failures; they are reported through the returned PageResult.
func (w *Worker) FetchPage(ctx context.Context, apiKey, user string, fromTimestamp int64, page int) PageResult {
	if apiKey == "" || user == "" {
		return PageResult{Page: page, Err: errors.New("API key or username not set")}
	}

	client, err := w.clientFor(apiKey)
	if err != nil {
		return PageResult{Page: page, Err: err}
	}

	params := lastfm.RecentTracksParams{
		User:  user,
		Page:  page,
		Limit: w.cfg.PageSize,
	}
	if fromTimestamp > 0 {
		params.From = fromTimestamp + 1
	}

	w.logger.Debug().
		Str("user", user).
		Int("page", page).
		Int64("from", params.From).
		Msg("Requesting page")

	start := time.Now()
	resp, err := client.User().GetRecentTracks(ctx, params)
	if err != nil {
		status := lastfm.StatusCode(err)
		metrics.RecordPageFetch(time.Since(start), status, failureClass(err))
		w.logger.Warn().
			Err(err).
			Int("page", page).
			Int("status", status).
			Msg("Page request failed")
		return PageResult{
			Page:       page,
			Err:        fmt.Errorf("page %d: %w", page, err),
			StatusCode: status,
		}
	}
	metrics.RecordPageFetch(time.Since(start), http.StatusOK, "ok")

	if resp.Page != page && page > 0 {
		w.logger.Warn().Int("requested", page).Int("received", resp.Page).Msg("Page mismatch")
	}

	records := make([]scrobble.Record, 0, len(resp.Tracks))
	for _, t := range resp.Tracks {
		if t.NowPlaying {
			continue
		}
		if t.Timestamp <= 0 {
			metrics.RecordsDropped.Inc()
			w.logger.Warn().
				Str("artist", t.Artist).
				Str("track", t.Name).
				Int("page", resp.Page).
				Msg("Dropping entry without a valid timestamp")
			continue
		}
		records = append(records, scrobble.New(t.Artist, t.Name, t.Album, t.Timestamp))
	}

	w.logger.Info().
		Int("page", resp.Page).
		Int("total_pages", resp.TotalPages).
		Int("records", len(records)).
		Msg("Fetched page")

	return PageResult{
		Records:    records,
		TotalPages: resp.TotalPages,
		Page:       resp.Page,
	}
}

// clientFor returns a client for apiKey, reusing the previous one when the
// key has not changed so the rate limiter state carries over.
func (w *Worker) clientFor(apiKey string) (*lastfm.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil && w.client.APIKey() == apiKey {
		return w.client, nil
	}

	client, err := lastfm.NewClient(lastfm.Config{
		APIKey:     apiKey,
		HTTPClient: w.cfg.HTTPClient,
		BaseURL:    w.cfg.BaseURL,
		RateLimit:  w.cfg.RateLimit,
		Logger:     debugLogger{w.logger},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Last.fm client: %w", err)
	}
	w.client = client
	return client, nil
}

func failureClass(err error) string {
	var httpErr *lastfm.HTTPError
	var apiErr *lastfm.Error
	switch {
	case errors.As(err, &httpErr):
		return "http_error"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "error"
	}
}

// debugLogger adapts zerolog to the SDK's Logger interface.
type debugLogger struct {
	logger zerolog.Logger
}

func (l debugLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug().Msgf(format, args...)
}
