package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/jfmyers9/scrollback/pkg/lastfm"
	"github.com/rs/zerolog"
)

type call struct {
	from int64
	page int
}

// scriptedFetcher answers each page from a per-page list of results,
// consumed in order. The last result of a page repeats once exhausted.
type scriptedFetcher struct {
	mu      sync.Mutex
	results map[int][]PageResult
	calls   []call
	block   chan struct{}
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, apiKey, user string, from int64, page int) PageResult {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return PageResult{Page: page, Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{from: from, page: page})

	rs := f.results[page]
	if len(rs) == 0 {
		return PageResult{Page: page, Err: errors.New("unexpected page"), StatusCode: 404}
	}
	r := rs[0]
	if len(rs) > 1 {
		f.results[page] = rs[1:]
	}
	return r
}

func (f *scriptedFetcher) recorded() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

// instantClock fires every timer immediately and records the delays.
type instantClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (c *instantClock) count(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, got := range c.delays {
		if got == d {
			n++
		}
	}
	return n
}

func ok(page, total int, timestamps ...int64) PageResult {
	records := make([]scrobble.Record, 0, len(timestamps))
	for _, ts := range timestamps {
		records = append(records, scrobble.New("artist", "track", "", ts))
	}
	return PageResult{Records: records, Page: page, TotalPages: total}
}

func serverError(page int) PageResult {
	return PageResult{Page: page, Err: &lastfm.HTTPError{StatusCode: 500}, StatusCode: 500}
}

func newTestOrchestrator(f Fetcher, clock Clock) *Orchestrator {
	return NewOrchestrator(Config{APIKey: "key", User: "rj"}, f, zerolog.Nop(), WithClock(clock))
}

// collect reads events until EventFinished.
func collect(t *testing.T, o *Orchestrator) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-o.Events():
			events = append(events, ev)
			if ev.Kind == EventFinished {
				return events
			}
		case <-timeout:
			t.Fatalf("timed out waiting for finished event; got %d events", len(events))
		}
	}
}

func ofKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestOrchestrator_RetryBound(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {serverError(1), serverError(1), serverError(1), serverError(1)},
	}}
	clock := &instantClock{}
	o := newTestOrchestrator(f, clock)

	if err := o.FetchFromPage(context.Background(), 1, 0); err != nil {
		t.Fatalf("FetchFromPage() error = %v", err)
	}
	events := collect(t, o)
	o.Wait()

	if got := len(f.recorded()); got != 4 {
		t.Errorf("requests = %d, want 4 (1 + 3 retries)", got)
	}
	if got := clock.count(DefaultRetryDelay); got != 3 {
		t.Errorf("retry delays = %d, want 3", got)
	}

	errs := ofKind(events, EventError)
	if len(errs) != 1 {
		t.Fatalf("error events = %d, want 1", len(errs))
	}
	if !errors.Is(errs[0].Err, ErrRetriesExhausted) {
		t.Errorf("error = %v, want ErrRetriesExhausted", errs[0].Err)
	}
	if events[len(events)-1].Kind != EventFinished || events[len(events)-2].Kind != EventError {
		t.Error("error event must be immediately followed by finished")
	}
	if len(ofKind(events, EventPageReady)) != 0 {
		t.Error("no page should be ready")
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want idle", o.State())
	}
}

func TestOrchestrator_RecoversAfterRetries(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {ok(1, 3, 300)},
		2: {ok(2, 3, 200)},
		3: {serverError(3), serverError(3), serverError(3), ok(3, 3, 100)},
	}}
	clock := &instantClock{}
	o := newTestOrchestrator(f, clock)

	if err := o.FetchFromPage(context.Background(), 1, 3); err != nil {
		t.Fatalf("FetchFromPage() error = %v", err)
	}
	events := collect(t, o)

	pages := ofKind(events, EventPageReady)
	if len(pages) != 3 {
		t.Fatalf("page events = %d, want 3", len(pages))
	}
	for i, ev := range pages {
		if ev.Page != i+1 {
			t.Errorf("pages[%d].Page = %d, want %d", i, ev.Page, i+1)
		}
	}
	if errs := ofKind(events, EventError); len(errs) != 0 {
		t.Errorf("unexpected error events: %v", errs[0].Err)
	}

	want := []call{{0, 1}, {0, 2}, {0, 3}, {0, 3}, {0, 3}, {0, 3}}
	got := f.recorded()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("calls[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOrchestrator_RetryCounterResetsAfterSuccess(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {serverError(1), serverError(1), ok(1, 2, 200)},
		2: {serverError(2), serverError(2), serverError(2), ok(2, 2, 100)},
	}}
	o := newTestOrchestrator(f, &instantClock{})

	if err := o.FetchFromPage(context.Background(), 1, 0); err != nil {
		t.Fatalf("FetchFromPage() error = %v", err)
	}
	events := collect(t, o)

	if errs := ofKind(events, EventError); len(errs) != 0 {
		t.Fatalf("retry budget should reset after a success: %v", errs[0].Err)
	}
	if got := len(ofKind(events, EventPageReady)); got != 2 {
		t.Errorf("page events = %d, want 2", got)
	}
}

func TestOrchestrator_RetryReplaysExactRequest(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {ok(1, 2, 900)},
		2: {serverError(2), ok(2, 2, 800)},
	}}
	o := newTestOrchestrator(f, &instantClock{})

	if err := o.FetchSince(context.Background(), 500); err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	collect(t, o)

	want := []call{{500, 1}, {500, 2}, {500, 2}}
	got := f.recorded()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("calls[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestOrchestrator_NonRetryableError(t *testing.T) {
	tests := []struct {
		name   string
		result PageResult
	}{
		{name: "not found", result: PageResult{Page: 1, Err: &lastfm.HTTPError{StatusCode: 404}, StatusCode: 404}},
		{name: "bad gateway", result: PageResult{Page: 1, Err: &lastfm.HTTPError{StatusCode: 502}, StatusCode: 502}},
		{name: "api error", result: PageResult{Page: 1, Err: &lastfm.Error{Code: 6, Message: "User not found"}}},
		{name: "network", result: PageResult{Page: 1, Err: errors.New("connection refused")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{results: map[int][]PageResult{1: {tt.result}}}
			clock := &instantClock{}
			o := newTestOrchestrator(f, clock)

			if err := o.FetchSince(context.Background(), 0); err != nil {
				t.Fatalf("FetchSince() error = %v", err)
			}
			events := collect(t, o)

			if got := len(f.recorded()); got != 1 {
				t.Errorf("requests = %d, want 1", got)
			}
			if clock.count(DefaultRetryDelay) != 0 {
				t.Error("no retry expected")
			}
			errs := ofKind(events, EventError)
			if len(errs) != 1 || !errors.Is(errs[0].Err, tt.result.Err) {
				t.Errorf("error events = %v, want the worker error", errs)
			}
		})
	}
}

func TestOrchestrator_UpdateEmptyFirstPage(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{1: {ok(1, 0)}}}
	o := newTestOrchestrator(f, &instantClock{})

	if err := o.FetchSince(context.Background(), 1698055200); err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	events := collect(t, o)

	if got := len(ofKind(events, EventPageReady)); got != 0 {
		t.Errorf("page events = %d, want 0", got)
	}
	if got := len(ofKind(events, EventError)); got != 0 {
		t.Errorf("error events = %d, want 0", got)
	}
	if calls := f.recorded(); len(calls) != 1 || calls[0].from != 1698055200 {
		t.Errorf("calls = %v", calls)
	}
}

func TestOrchestrator_UpdateFetchesAllPages(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {ok(1, 2, 400, 300)},
		2: {ok(2, 2, 200)},
	}}
	clock := &instantClock{}
	o := newTestOrchestrator(f, clock)

	if err := o.FetchSince(context.Background(), 100); err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	events := collect(t, o)

	totals := ofKind(events, EventTotalPages)
	if len(totals) != 1 || totals[0].TotalPages != 2 {
		t.Errorf("total page events = %v, want one with 2", totals)
	}
	if got := len(ofKind(events, EventPageReady)); got != 2 {
		t.Errorf("page events = %d, want 2", got)
	}
	if got := clock.count(DefaultPageDelay); got != 1 {
		t.Errorf("page delays = %d, want 1", got)
	}
}

func TestOrchestrator_TotalPagesRules(t *testing.T) {
	t.Run("announces known total", func(t *testing.T) {
		f := &scriptedFetcher{results: map[int][]PageResult{4: {ok(4, 4, 1)}}}
		o := newTestOrchestrator(f, &instantClock{})

		if err := o.FetchFromPage(context.Background(), 4, 4); err != nil {
			t.Fatalf("FetchFromPage() error = %v", err)
		}
		events := collect(t, o)

		if events[0].Kind != EventTotalPages || events[0].TotalPages != 4 {
			t.Errorf("first event = %+v, want total pages 4", events[0])
		}
	})

	t.Run("later pages keep known total", func(t *testing.T) {
		f := &scriptedFetcher{results: map[int][]PageResult{
			2: {ok(2, 5, 50)},
			3: {ok(3, 6, 40)},
		}}
		o := newTestOrchestrator(f, &instantClock{})

		if err := o.FetchFromPage(context.Background(), 2, 3); err != nil {
			t.Fatalf("FetchFromPage() error = %v", err)
		}
		events := collect(t, o)

		if got := len(ofKind(events, EventPageReady)); got != 2 {
			t.Errorf("page events = %d, want 2 (pages 2..3)", got)
		}
		if got := len(ofKind(events, EventTotalPages)); got != 1 {
			t.Errorf("total page events = %d, want only the initial one", got)
		}
	})

	t.Run("page one overrides known total", func(t *testing.T) {
		f := &scriptedFetcher{results: map[int][]PageResult{
			1: {ok(1, 2, 50)},
			2: {ok(2, 2, 40)},
		}}
		o := newTestOrchestrator(f, &instantClock{})

		if err := o.FetchFromPage(context.Background(), 0, 9); err != nil {
			t.Fatalf("FetchFromPage() error = %v", err)
		}
		events := collect(t, o)

		totals := ofKind(events, EventTotalPages)
		if len(totals) != 2 || totals[1].TotalPages != 2 {
			t.Errorf("total page events = %v, want 9 then 2", totals)
		}
		if got := len(f.recorded()); got != 2 {
			t.Errorf("requests = %d, want 2", got)
		}
	})
}

func TestOrchestrator_APIPageIsAuthoritative(t *testing.T) {
	f := &scriptedFetcher{results: map[int][]PageResult{
		1: {ok(2, 3, 50)},
		3: {ok(3, 3, 40)},
	}}
	o := newTestOrchestrator(f, &instantClock{})

	if err := o.FetchFromPage(context.Background(), 1, 0); err != nil {
		t.Fatalf("FetchFromPage() error = %v", err)
	}
	events := collect(t, o)

	pages := ofKind(events, EventPageReady)
	if len(pages) != 2 || pages[0].Page != 2 || pages[1].Page != 3 {
		t.Errorf("page events = %+v, want pages 2 and 3", pages)
	}
}

func TestOrchestrator_SessionLifecycle(t *testing.T) {
	f := &scriptedFetcher{
		results: map[int][]PageResult{1: {ok(1, 1, 10)}},
		block:   make(chan struct{}),
	}
	o := newTestOrchestrator(f, &instantClock{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.FetchSince(ctx, 0); err != nil {
		t.Fatalf("FetchSince() error = %v", err)
	}
	if err := o.FetchFromPage(ctx, 1, 0); !errors.Is(err, ErrSessionActive) {
		t.Errorf("second start error = %v, want ErrSessionActive", err)
	}
	if !o.Running() {
		t.Error("Running() = false during a session")
	}

	cancel()
	o.Wait()

	if o.Running() {
		t.Error("Running() = true after cancellation")
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %v, want idle", o.State())
	}
	if err := o.FetchSince(context.Background(), 0); err != nil {
		t.Errorf("restart after cancellation error = %v", err)
	}
	close(f.block)
	collect(t, o)
}

func TestOrchestrator_NotConfigured(t *testing.T) {
	for _, cfg := range []Config{{APIKey: "key"}, {User: "rj"}} {
		o := NewOrchestrator(cfg, &scriptedFetcher{}, zerolog.Nop())
		if err := o.FetchSince(context.Background(), 0); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("FetchSince() error = %v, want ErrNotConfigured", err)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.RetryDelay != DefaultRetryDelay || cfg.MaxRetries != DefaultMaxRetries || cfg.PageDelay != DefaultPageDelay {
		t.Errorf("withDefaults() = %+v", cfg)
	}

	custom := Config{RetryDelay: time.Second, MaxRetries: 5, PageDelay: time.Millisecond}.withDefaults()
	if custom.RetryDelay != time.Second || custom.MaxRetries != 5 || custom.PageDelay != time.Millisecond {
		t.Errorf("withDefaults() overwrote custom values: %+v", custom)
	}
}
