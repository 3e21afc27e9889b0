// Package savequeue serializes page writes to the shard store.
//
// Pages are written strictly in the order they were enqueued by a single
// background drain goroutine. The drain starts on demand and exits when the
// queue is empty, so an idle queue holds no goroutine.
package savequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfmyers9/scrollback/internal/metrics"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/rs/zerolog"
)

const defaultEventBuffer = 64

var (
	// ErrEmptyUser is returned by Enqueue for items without a username.
	ErrEmptyUser = errors.New("work item has no username")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("save queue is closed")
)

// Saver persists a batch of records for a user.
type Saver interface {
	Save(user string, records []scrobble.Record) error
}

// WorkItem is one fetched page waiting to be written.
type WorkItem struct {
	Page    int
	User    string
	Records []scrobble.Record
}

// EventKind identifies a queue event.
type EventKind int

const (
	EventSaveCompleted EventKind = iota
	EventSaveFailed
	EventStatus
)

func (k EventKind) String() string {
	switch k {
	case EventSaveCompleted:
		return "save_completed"
	case EventSaveFailed:
		return "save_failed"
	case EventStatus:
		return "status"
	default:
		return "unknown"
	}
}

// Event reports the outcome of a work item or a human readable status line.
type Event struct {
	Kind  EventKind
	Page  int
	User  string
	Count int
	Err   error
	Text  string
}

// Option configures a Queue.
type Option func(*Queue)

// WithEventBuffer sets the capacity of the events channel.
func WithEventBuffer(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.events = make(chan Event, n)
		}
	}
}

// Queue is a FIFO of work items drained by at most one goroutine.
type Queue struct {
	saver  Saver
	logger zerolog.Logger

	mu      sync.Mutex
	items   []WorkItem
	pending int // queued plus in flight
	idle    chan struct{}
	closed  bool

	running atomic.Bool
	wg      sync.WaitGroup

	events    chan Event
	dropped   atomic.Uint64
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a queue writing through saver.
func New(saver Saver, logger zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		saver:  saver,
		logger: logger.With().Str("component", "savequeue").Logger(),
		events: make(chan Event, defaultEventBuffer),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Events returns the channel on which item outcomes are delivered. The
// channel is never closed; stop reading once the queue is closed.
//
// Delivery never blocks the drain. When the buffer is full the event is
// dropped and counted in DroppedEvents.
func (q *Queue) Events() <-chan Event {
	return q.events
}

// Enqueue appends an item and starts a drain if none is running.
//
// An item without records is dropped silently. An item without a user is
// rejected with ErrEmptyUser and reported as a failed save.
func (q *Queue) Enqueue(item WorkItem) error {
	if item.User == "" {
		q.logger.Error().Int("page", item.Page).Msg("Rejected work item without username")
		q.emit(Event{Kind: EventSaveFailed, Page: item.Page, Err: ErrEmptyUser})
		return ErrEmptyUser
	}
	if len(item.Records) == 0 {
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	depth := len(q.items)
	q.mu.Unlock()

	metrics.SaveQueueDepth.Set(float64(depth))
	q.logger.Debug().Int("page", item.Page).Int("records", len(item.Records)).Int("depth", depth).Msg("Enqueued page")

	q.startDrain()
	return nil
}

// IsDrainActive reports whether a drain is running or items are waiting.
func (q *Queue) IsDrainActive() bool {
	if q.running.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) > 0
}

// Len returns the number of items waiting to be written.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DroppedEvents returns how many events were discarded because the events
// buffer was full.
func (q *Queue) DroppedEvents() uint64 {
	return q.dropped.Load()
}

// Wait blocks until every enqueued item has been written or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further items, stops event delivery and returns once the
// items already queued have been written.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.closeOnce.Do(func() { close(q.done) })

	_ = q.Wait(context.Background())
	q.wg.Wait()
}

func (q *Queue) startDrain() {
	if !q.running.CompareAndSwap(false, true) {
		return
	}
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running.Store(false)
			q.mu.Unlock()
			break
		}
		item := q.items[0]
		q.items[0] = WorkItem{}
		q.items = q.items[1:]
		depth := len(q.items)
		q.mu.Unlock()

		metrics.SaveQueueDepth.Set(float64(depth))
		q.process(item)
	}

	// Items enqueued between the empty check and the flag clear would
	// otherwise wait for the next Enqueue.
	q.mu.Lock()
	stranded := len(q.items) > 0
	q.mu.Unlock()
	if stranded {
		q.startDrain()
	}
}

func (q *Queue) process(item WorkItem) {
	start := time.Now()
	err := q.saver.Save(item.User, item.Records)
	metrics.RecordSaveItem(err)

	if err != nil {
		q.logger.Error().
			Err(err).
			Int("page", item.Page).
			Str("user", item.User).
			Msg("Failed to save page")
		q.emit(Event{Kind: EventSaveFailed, Page: item.Page, User: item.User, Err: err})
		q.emit(Event{Kind: EventStatus, Page: item.Page, User: item.User, Text: fmt.Sprintf("Failed to save page %d: %v", item.Page, err)})
	} else {
		q.logger.Debug().
			Int("page", item.Page).
			Int("records", len(item.Records)).
			Dur("duration", time.Since(start)).
			Msg("Saved page")
		q.emit(Event{Kind: EventSaveCompleted, Page: item.Page, User: item.User, Count: len(item.Records)})
		q.emit(Event{Kind: EventStatus, Page: item.Page, User: item.User, Text: fmt.Sprintf("Saved page %d (%d tracks)", item.Page, len(item.Records))})
	}

	q.mu.Lock()
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
	q.mu.Unlock()
}

// emit delivers an event unless the queue has been closed. A full buffer
// drops the event rather than stalling the drain.
func (q *Queue) emit(ev Event) {
	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.events <- ev:
	default:
		n := q.dropped.Add(1)
		metrics.SaveEventsDropped.WithLabelValues(ev.Kind.String()).Inc()
		q.logger.Warn().
			Str("kind", ev.Kind.String()).
			Int("page", ev.Page).
			Uint64("dropped", n).
			Msg("Event buffer full, dropping event")
	}
}
