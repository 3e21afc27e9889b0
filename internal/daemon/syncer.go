package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jfmyers9/scrollback/internal/fetch"
	"github.com/jfmyers9/scrollback/internal/metrics"
	"github.com/jfmyers9/scrollback/internal/progress"
	"github.com/jfmyers9/scrollback/internal/savequeue"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/rs/zerolog"
)

const defaultCompletionPoll = 100 * time.Millisecond

// ErrSyncActive is returned when Run is called while a sync is running.
var ErrSyncActive = errors.New("sync already running")

// ScrobbleStore is the part of the shard store a sync needs.
type ScrobbleStore interface {
	Save(user string, records []scrobble.Record) error
	FindLastTimestamp(user string) int64
}

// SyncerConfig holds the account and pacing for sync runs.
type SyncerConfig struct {
	APIKey     string
	User       string
	RetryDelay time.Duration
	MaxRetries int
	PageDelay  time.Duration
}

// Phase is the coarse position of a sync run, for display.
type Phase int

const (
	PhaseFetching Phase = iota
	PhaseSaving
	PhaseDone
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseSaving:
		return "saving"
	case PhaseDone:
		return "done"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SyncUpdate is a snapshot of a running sync.
type SyncUpdate struct {
	Session       string
	Mode          fetch.Mode
	Phase         Phase
	Page          int
	TotalPages    int
	LastSavedPage int
	Records       int
	Pending       int // pages waiting to be written
	Text          string
	Err           error
}

// Result summarises a finished sync run.
type Result struct {
	Session       string
	Mode          fetch.Mode
	PagesFetched  int
	PagesSaved    int
	Records       int
	TotalPages    int
	LastSavedPage int
	// Complete reports whether the full history is now stored locally.
	Complete  bool
	StartedAt time.Time
	Duration  time.Duration
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// WithObserver registers a callback receiving every SyncUpdate. It is
// called from the goroutine running Run.
func WithObserver(fn func(SyncUpdate)) SyncerOption {
	return func(s *Syncer) {
		s.observer = fn
	}
}

// WithFetchClock replaces the clock used for fetch delays.
func WithFetchClock(c fetch.Clock) SyncerOption {
	return func(s *Syncer) {
		s.fetchOpts = append(s.fetchOpts, fetch.WithClock(c))
	}
}

// Syncer runs one fetch-and-save session at a time for a single user and
// keeps the resume bookkeeping in the progress store.
type Syncer struct {
	cfg       SyncerConfig
	store     ScrobbleStore
	progress  *progress.Store
	queue     *savequeue.Queue
	orch      *fetch.Orchestrator
	logger    zerolog.Logger
	observer  func(SyncUpdate)
	fetchOpts []fetch.Option
	poll      time.Duration
	now       func() time.Time

	mu      sync.Mutex
	running bool
}

// NewSyncer creates a syncer writing through st and tracking resume state
// in prog.
func NewSyncer(cfg SyncerConfig, st ScrobbleStore, prog *progress.Store, fetcher fetch.Fetcher, logger zerolog.Logger, opts ...SyncerOption) *Syncer {
	s := &Syncer{
		cfg:      cfg,
		store:    st,
		progress: prog,
		logger:   logger.With().Str("component", "syncer").Str("user", cfg.User).Logger(),
		poll:     defaultCompletionPoll,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.queue = savequeue.New(st, logger)
	s.orch = fetch.NewOrchestrator(fetch.Config{
		APIKey:     cfg.APIKey,
		User:       cfg.User,
		RetryDelay: cfg.RetryDelay,
		MaxRetries: cfg.MaxRetries,
		PageDelay:  cfg.PageDelay,
	}, fetcher, logger, s.fetchOpts...)

	return s
}

// User returns the account this syncer works on.
func (s *Syncer) User() string {
	return s.cfg.User
}

// Running reports whether a sync is in progress.
func (s *Syncer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RestartFull discards the resume state so the next Run fetches the whole
// history again from page 1. Stored records are kept; saving is idempotent.
func (s *Syncer) RestartFull(ctx context.Context) error {
	if err := s.progress.SetInitialFetchComplete(ctx, s.cfg.User, false); err != nil {
		return err
	}
	if err := s.progress.ClearResume(ctx, s.cfg.User); err != nil {
		return err
	}
	s.logger.Info().Msg("Resume state cleared, next sync fetches full history")
	return nil
}

// Close waits for queued pages to be written and stops the save queue.
func (s *Syncer) Close() {
	s.queue.Close()
}

// syncRun is the bookkeeping of one Run.
type syncRun struct {
	session  string
	mode     fetch.Mode
	logger   zerolog.Logger
	cancel   context.CancelFunc
	finished bool

	totalPages    int
	lastSavedPage int
	pagesFetched  int
	pagesSaved    int
	records       int
	deferredEmpty []int

	saveFailed     bool
	droppedBase    uint64
	eventsLost     bool
	cancelled      bool
	waitingOnSaves bool
	errs           []error
}

// Run performs one sync: an incremental update when the full history is
// already stored, otherwise a full fetch resuming after the last saved
// page. It returns once fetching has finished and every fetched page has
// been written.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return Result{}, ErrSyncActive
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// Bookkeeping writes must land even when ctx is cancelled mid run.
	bg := context.WithoutCancel(ctx)

	prog, err := s.progress.Get(ctx, s.cfg.User)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load progress: %w", err)
	}

	r := &syncRun{session: newSessionID()}
	r.mode = fetch.ModeFull
	if prog.InitialFetchComplete {
		r.mode = fetch.ModeUpdate
	}
	r.logger = s.logger.With().Str("session", r.session).Str("mode", r.mode.String()).Logger()

	started := s.now()
	runID, err := s.progress.StartRun(bg, s.cfg.User, r.mode.String())
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to record sync run start")
	}

	s.discardStaleEvents()
	r.droppedBase = s.queue.DroppedEvents()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.cancel = cancel

	if r.mode == fetch.ModeUpdate {
		lastSync := s.store.FindLastTimestamp(s.cfg.User)
		r.logger.Info().Int64("since", lastSync).Msg("Starting incremental sync")
		err = s.orch.FetchSince(fetchCtx, lastSync)
	} else {
		r.lastSavedPage = prog.LastSavedPage
		r.totalPages = prog.ExpectedTotalPages
		r.logger.Info().
			Int("start_page", prog.LastSavedPage+1).
			Int("known_total", prog.ExpectedTotalPages).
			Msg("Starting full history sync")
		err = s.orch.FetchFromPage(fetchCtx, prog.LastSavedPage+1, prog.ExpectedTotalPages)
	}
	if err != nil {
		r.errs = append(r.errs, err)
		r.finished = true
	} else {
		s.notify(r, PhaseFetching, 0, "Sync started", nil)
		s.loop(ctx, r)
		s.orch.Wait()
	}

	s.complete(bg, r)

	res := Result{
		Session:       r.session,
		Mode:          r.mode,
		PagesFetched:  r.pagesFetched,
		PagesSaved:    r.pagesSaved,
		Records:       r.records,
		TotalPages:    r.totalPages,
		LastSavedPage: r.lastSavedPage,
		StartedAt:     started,
		Duration:      s.now().Sub(started),
	}

	runErr := errors.Join(r.errs...)
	if runErr == nil && r.cancelled {
		runErr = ctx.Err()
	}

	if r.mode == fetch.ModeUpdate {
		res.Complete = runErr == nil
	} else {
		res.Complete = runErr == nil && r.totalPages > 0 && r.lastSavedPage >= r.totalPages
	}

	if runID > 0 {
		if err := s.progress.FinishRun(bg, runID, progress.RunResult{
			Pages:   r.pagesSaved,
			Records: r.records,
			Err:     runErr,
		}); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to record sync run result")
		}
	}
	metrics.RecordSync(r.mode.String(), res.Duration, runErr)

	if runErr != nil {
		r.logger.Error().Err(runErr).Int("records", r.records).Msg("Sync failed")
		s.notify(r, PhaseFailed, 0, "Sync failed", runErr)
		return res, runErr
	}

	r.logger.Info().
		Int("pages", r.pagesSaved).
		Int("records", r.records).
		Dur("duration", res.Duration).
		Msg("Sync complete")
	s.notify(r, PhaseDone, 0, fmt.Sprintf("Sync complete: %d new scrobbles", r.records), nil)
	return res, nil
}

// loop consumes fetch and save events until fetching has finished and the
// save queue is idle.
func (s *Syncer) loop(ctx context.Context, r *syncRun) {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			r.logger.Info().Msg("Sync cancelled, waiting for pending saves")
			r.cancelled = true
			r.finished = true
			r.cancel()
			done = nil
		case ev := <-s.orch.Events():
			s.handleFetchEvent(ctx, r, ev)
		case ev := <-s.queue.Events():
			s.handleSaveEvent(ctx, r, ev)
		case <-ticker.C:
		}

		if r.finished && !s.queue.IsDrainActive() {
			// The drain emits before it goes idle, so whatever it
			// reported is already buffered.
			for {
				select {
				case ev := <-s.queue.Events():
					s.handleSaveEvent(ctx, r, ev)
				default:
					return
				}
			}
		}

		if r.finished && !r.waitingOnSaves {
			r.waitingOnSaves = true
			s.notify(r, PhaseSaving, 0, "Waiting for pending saves", nil)
		}
	}
}

func (s *Syncer) handleFetchEvent(ctx context.Context, r *syncRun, ev fetch.Event) {
	bg := context.WithoutCancel(ctx)

	switch ev.Kind {
	case fetch.EventTotalPages:
		if r.totalPages <= 0 || ev.TotalPages != r.totalPages {
			r.totalPages = ev.TotalPages
			if r.mode == fetch.ModeFull {
				if err := s.progress.SetExpectedTotalPages(bg, s.cfg.User, r.totalPages); err != nil {
					r.logger.Warn().Err(err).Msg("Failed to persist expected total pages")
				}
			}
		}

	case fetch.EventPageReady:
		if r.saveFailed {
			return
		}
		r.pagesFetched++
		if len(ev.Records) > 0 {
			err := s.queue.Enqueue(savequeue.WorkItem{
				Page:    ev.Page,
				User:    s.cfg.User,
				Records: ev.Records,
			})
			if err != nil {
				s.failSave(bg, r, ev.Page, err)
			}
			return
		}
		if r.mode != fetch.ModeFull {
			return
		}
		r.logger.Warn().Int("page", ev.Page).Msg("Empty page during full fetch, counting it as saved")
		if s.queue.IsDrainActive() {
			r.deferredEmpty = append(r.deferredEmpty, ev.Page)
		} else {
			s.markSaved(bg, r, ev.Page)
		}

	case fetch.EventStatus:
		s.notify(r, PhaseFetching, ev.Page, ev.Text, nil)

	case fetch.EventError:
		r.errs = append(r.errs, ev.Err)
		s.markIncomplete(bg, r)
		s.notify(r, PhaseFetching, ev.Page, ev.Err.Error(), ev.Err)

	case fetch.EventFinished:
		r.finished = true
	}
}

func (s *Syncer) handleSaveEvent(ctx context.Context, r *syncRun, ev savequeue.Event) {
	bg := context.WithoutCancel(ctx)

	switch ev.Kind {
	case savequeue.EventSaveCompleted:
		r.pagesSaved++
		r.records += ev.Count
		if !r.saveFailed {
			s.markSaved(bg, r, ev.Page)
		}
	case savequeue.EventSaveFailed:
		s.failSave(bg, r, ev.Page, ev.Err)
	case savequeue.EventStatus:
		s.notify(r, PhaseSaving, ev.Page, ev.Text, nil)
	}
}

// failSave records a failed page write and stops the fetch. Pages after a
// failed one are not counted towards the resume watermark.
func (s *Syncer) failSave(ctx context.Context, r *syncRun, page int, err error) {
	r.errs = append(r.errs, fmt.Errorf("failed to save page %d: %w", page, err))
	if !r.saveFailed {
		r.saveFailed = true
		r.deferredEmpty = nil
		r.finished = true
		r.cancel()
	}
	s.markIncomplete(ctx, r)
	s.notify(r, PhaseFailed, page, fmt.Sprintf("Failed to save page %d", page), err)
}

func (s *Syncer) markSaved(ctx context.Context, r *syncRun, page int) {
	if page <= r.lastSavedPage || s.lostEvents(r) {
		return
	}
	r.lastSavedPage = page
	if r.mode != fetch.ModeFull {
		return
	}
	if err := s.progress.SetLastSavedPage(ctx, s.cfg.User, page); err != nil {
		r.logger.Warn().Err(err).Int("page", page).Msg("Failed to persist last saved page")
	}
}

// lostEvents reports whether the save queue dropped events during this
// run. A dropped failure cannot be told apart from a dropped success, so
// the watermark stays where it is for the rest of the run.
func (s *Syncer) lostEvents(r *syncRun) bool {
	if !r.eventsLost && s.queue.DroppedEvents() != r.droppedBase {
		r.eventsLost = true
		r.logger.Warn().
			Int("last_saved_page", r.lastSavedPage).
			Msg("Save events were dropped, resume watermark frozen for this run")
	}
	return r.eventsLost
}

func (s *Syncer) markIncomplete(ctx context.Context, r *syncRun) {
	if err := s.progress.SetInitialFetchComplete(ctx, s.cfg.User, false); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to mark initial fetch incomplete")
	}
}

// complete settles the resume state once fetching and saving are done.
func (s *Syncer) complete(ctx context.Context, r *syncRun) {
	if !r.saveFailed {
		for _, page := range r.deferredEmpty {
			s.markSaved(ctx, r, page)
		}
	}
	r.deferredEmpty = nil

	if r.mode != fetch.ModeFull || len(r.errs) > 0 || r.cancelled {
		return
	}

	if r.totalPages > 0 && r.lastSavedPage >= r.totalPages && !s.lostEvents(r) {
		r.logger.Info().Int("pages", r.totalPages).Msg("Initial fetch fully completed")
		if err := s.progress.SetInitialFetchComplete(ctx, s.cfg.User, true); err != nil {
			r.errs = append(r.errs, err)
			return
		}
		if err := s.progress.ClearResume(ctx, s.cfg.User); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to clear resume state")
		}
		return
	}

	r.logger.Warn().
		Int("saved", r.lastSavedPage).
		Int("expected", r.totalPages).
		Msg("Fetch finished but history is incomplete")
	s.markIncomplete(ctx, r)
}

// discardStaleEvents drops events left over from a cancelled session.
func (s *Syncer) discardStaleEvents() {
	for {
		select {
		case <-s.orch.Events():
		case <-s.queue.Events():
		default:
			return
		}
	}
}

func (s *Syncer) notify(r *syncRun, phase Phase, page int, text string, err error) {
	if s.observer == nil {
		return
	}
	s.observer(SyncUpdate{
		Session:       r.session,
		Mode:          r.mode,
		Phase:         phase,
		Page:          page,
		TotalPages:    r.totalPages,
		LastSavedPage: r.lastSavedPage,
		Records:       r.records,
		Pending:       s.queue.Len(),
		Text:          text,
		Err:           err,
	})
}

func newSessionID() string {
	return uuid.New().String()[:8]
}
