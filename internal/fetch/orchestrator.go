package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfmyers9/scrollback/internal/metrics"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/rs/zerolog"
)

const (
	// DefaultRetryDelay is how long to wait before replaying a page that
	// failed with HTTP 500.
	DefaultRetryDelay = 60 * time.Second

	// DefaultMaxRetries is how many times a page is retried after HTTP 500.
	DefaultMaxRetries = 3

	// DefaultPageDelay is the pause between consecutive page requests.
	DefaultPageDelay = 500 * time.Millisecond

	defaultEventBuffer = 64
)

var (
	// ErrSessionActive is returned when a session is started while another
	// one is still running.
	ErrSessionActive = errors.New("fetch session already running")

	// ErrNotConfigured is returned when the API key or username is empty.
	ErrNotConfigured = errors.New("API key or username not set")

	// ErrRetriesExhausted is reported when HTTP 500 persists after every
	// retry.
	ErrRetriesExhausted = errors.New("API Internal Server Error (500) persisted after retries")
)

// Fetcher requests a single page.
type Fetcher interface {
	FetchPage(ctx context.Context, apiKey, user string, fromTimestamp int64, page int) PageResult
}

// Clock provides the timers used for retry and page delays.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// State is the orchestrator's position in a session.
type State int32

const (
	StateIdle State = iota
	StateFetchingPage
	StateAwaitingRetry
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetchingPage:
		return "fetching_page"
	case StateAwaitingRetry:
		return "awaiting_retry"
	default:
		return "unknown"
	}
}

// Mode distinguishes a full history fetch from an incremental update.
type Mode int

const (
	ModeFull Mode = iota
	ModeUpdate
)

func (m Mode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "full"
}

// EventKind identifies an orchestrator event.
type EventKind int

const (
	EventTotalPages EventKind = iota
	EventPageReady
	EventFinished
	EventError
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventTotalPages:
		return "total_pages"
	case EventPageReady:
		return "page_ready"
	case EventFinished:
		return "finished"
	case EventError:
		return "error"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event is emitted by a running session.
//
// EventPageReady carries Page and Records, EventTotalPages carries
// TotalPages, EventError carries Err and EventStatus carries Text. A
// terminal error is always followed by EventFinished.
type Event struct {
	Kind       EventKind
	Page       int
	Records    []scrobble.Record
	TotalPages int
	Err        error
	Text       string
}

// Config holds the session parameters. Zero durations and a zero retry
// count fall back to the defaults.
type Config struct {
	APIKey     string
	User       string
	RetryDelay time.Duration
	MaxRetries int
	PageDelay  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.PageDelay <= 0 {
		c.PageDelay = DefaultPageDelay
	}
	return c
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces the wall clock used for delays.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.events = make(chan Event, n)
		}
	}
}

// Orchestrator runs fetch sessions, one at a time.
//
// Each session is owned by a single goroutine, which is the only place
// requests are issued, so at most one request is in flight.
type Orchestrator struct {
	cfg     Config
	fetcher Fetcher
	clock   Clock
	logger  zerolog.Logger
	events  chan Event
	state   atomic.Int32

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

// session is the mutable state of one fetch session.
type session struct {
	mode       Mode
	from       int64
	page       int
	totalPages int

	retryCount int
	retryFrom  int64
	retryPage  int
}

func (s *session) resetRetry() {
	s.retryCount = 0
	s.retryFrom = 0
	s.retryPage = 0
}

// NewOrchestrator creates an orchestrator for one user.
func NewOrchestrator(cfg Config, fetcher Fetcher, logger zerolog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		fetcher: fetcher,
		clock:   realClock{},
		logger:  logger.With().Str("component", "orchestrator").Str("user", cfg.User).Logger(),
		events:  make(chan Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Events returns the channel sessions report on.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// State returns the current state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Running reports whether a session is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// FetchSince starts an update session fetching every scrobble newer than
// lastSync, beginning at page 1 with an unknown page count.
func (o *Orchestrator) FetchSince(ctx context.Context, lastSync int64) error {
	return o.start(ctx, &session{
		mode: ModeUpdate,
		from: lastSync,
		page: 1,
	})
}

// FetchFromPage starts a full history session at startPage. A positive
// knownTotal is announced immediately and used until page 1 is seen.
func (o *Orchestrator) FetchFromPage(ctx context.Context, startPage, knownTotal int) error {
	if startPage < 1 {
		startPage = 1
	}
	if knownTotal < 0 {
		knownTotal = 0
	}
	return o.start(ctx, &session{
		mode:       ModeFull,
		page:       startPage,
		totalPages: knownTotal,
	})
}

// Wait blocks until the current session, if any, has ended.
func (o *Orchestrator) Wait() {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	if done != nil {
		<-done
	}
}

func (o *Orchestrator) start(ctx context.Context, s *session) error {
	if o.cfg.APIKey == "" || o.cfg.User == "" {
		return ErrNotConfigured
	}

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrSessionActive
	}
	o.running = true
	done := make(chan struct{})
	o.done = done
	o.mu.Unlock()

	go o.run(ctx, s, done)
	return nil
}

func (o *Orchestrator) run(ctx context.Context, s *session, done chan struct{}) {
	defer func() {
		o.setState(StateIdle)
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(done)
	}()

	logger := o.logger.With().Str("mode", s.mode.String()).Logger()
	logger.Info().
		Int("page", s.page).
		Int64("from", s.from).
		Int("known_total", s.totalPages).
		Msg("Starting fetch session")

	if s.totalPages > 0 {
		if !o.emit(ctx, Event{Kind: EventTotalPages, TotalPages: s.totalPages}) {
			return
		}
	}

	from, page := s.from, s.page
	for {
		o.setState(StateFetchingPage)
		o.emit(ctx, Event{Kind: EventStatus, Page: page, Text: progressText(page, s.totalPages)})

		res := o.fetcher.FetchPage(ctx, o.cfg.APIKey, o.cfg.User, from, page)
		if ctx.Err() != nil {
			logger.Info().Int("page", page).Msg("Fetch session cancelled")
			return
		}

		if !res.OK() {
			if res.StatusCode == http.StatusInternalServerError && s.retryCount < o.cfg.MaxRetries {
				s.retryCount++
				s.retryFrom, s.retryPage = from, page
				metrics.FetchRetries.Inc()

				logger.Warn().
					Int("page", page).
					Int("attempt", s.retryCount).
					Int("max_retries", o.cfg.MaxRetries).
					Dur("delay", o.cfg.RetryDelay).
					Msg("Server error, retry scheduled")
				o.emit(ctx, Event{
					Kind: EventStatus,
					Page: page,
					Text: fmt.Sprintf("Server error on page %d, retry %d/%d in %s", page, s.retryCount, o.cfg.MaxRetries, o.cfg.RetryDelay),
				})

				o.setState(StateAwaitingRetry)
				if !o.sleep(ctx, o.cfg.RetryDelay) {
					logger.Info().Msg("Fetch session cancelled during retry delay")
					return
				}
				from, page = s.retryFrom, s.retryPage
				continue
			}

			err := res.Err
			if res.StatusCode == http.StatusInternalServerError {
				err = fmt.Errorf("%w: %v", ErrRetriesExhausted, res.Err)
				logger.Error().Int("page", page).Int("retries", s.retryCount).Msg("Server error persisted after retries, giving up")
			} else {
				logger.Warn().Err(res.Err).Int("page", page).Int("status", res.StatusCode).Msg("Fetch failed, not retrying")
			}
			s.resetRetry()
			o.emit(ctx, Event{Kind: EventError, Page: page, Err: err})
			o.emit(ctx, Event{Kind: EventFinished})
			return
		}

		if s.retryCount > 0 {
			logger.Info().Int("page", page).Int("retries", s.retryCount).Msg("Page succeeded after retries")
			s.resetRetry()
		}

		if res.Page > 0 {
			s.page = res.Page
		} else {
			s.page = page
		}

		if s.page == 1 || s.mode == ModeUpdate || s.totalPages <= 0 {
			if res.TotalPages != s.totalPages {
				s.totalPages = res.TotalPages
				logger.Info().Int("total_pages", s.totalPages).Msg("Total pages determined")
				if !o.emit(ctx, Event{Kind: EventTotalPages, TotalPages: s.totalPages}) {
					return
				}
			}
		} else if res.TotalPages != s.totalPages {
			logger.Warn().
				Int("expected", s.totalPages).
				Int("reported", res.TotalPages).
				Msg("API reported a different page count during full fetch")
		}

		if s.mode == ModeUpdate && s.page == 1 && len(res.Records) == 0 {
			logger.Info().Msg("Empty first page, already caught up")
			o.emit(ctx, Event{Kind: EventFinished})
			return
		}

		if !o.emit(ctx, Event{Kind: EventPageReady, Page: s.page, Records: res.Records}) {
			return
		}

		// A pending retry always re-enters the loop above, so reaching this
		// point means no retry is outstanding.
		if s.totalPages > 0 && s.page < s.totalPages {
			s.page++
			from, page = s.from, s.page
			if !o.sleep(ctx, o.cfg.PageDelay) {
				return
			}
			continue
		}

		logger.Info().
			Int("last_page", s.page).
			Int("total_pages", s.totalPages).
			Msg("Finished fetching all pages")
		o.emit(ctx, Event{Kind: EventFinished})
		return
	}
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

// emit delivers ev unless ctx is done first.
func (o *Orchestrator) emit(ctx context.Context, ev Event) bool {
	select {
	case o.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-o.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func progressText(page, total int) string {
	if total > 0 {
		return fmt.Sprintf("Fetching page %d of %d", page, total)
	}
	return fmt.Sprintf("Fetching page %d", page)
}
