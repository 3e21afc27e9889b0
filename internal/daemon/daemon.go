package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jfmyers9/scrollback/internal/progress"
	"github.com/rs/zerolog"
)

// Config holds daemon configuration
type Config struct {
	SyncInterval time.Duration // How often to sync with Last.fm
	StatusFile   string        // Path to status persistence file
	MetricsAddr  string        // Listen address for /metrics and /status; empty disables
	RunRetention time.Duration // How long sync run history is kept
}

// Daemon runs the syncer on a schedule and publishes its status
type Daemon struct {
	config    Config
	syncer    *Syncer
	progress  *progress.Store
	status    *StatusFile
	scheduler *Scheduler
	logger    zerolog.Logger
}

// New creates a new Daemon instance
func New(cfg Config, syncer *Syncer, prog *progress.Store, logger zerolog.Logger) (*Daemon, error) {
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("sync interval must be positive, got %s", cfg.SyncInterval)
	}

	logger = logger.With().Str("component", "daemon").Logger()

	status, err := NewStatusFile(cfg.StatusFile)
	if err != nil {
		// Not fatal - the daemon can start with an empty status
		logger.Warn().Err(err).Str("path", cfg.StatusFile).Msg("Failed to restore status, starting fresh")
	}

	d := &Daemon{
		config:    cfg,
		syncer:    syncer,
		progress:  prog,
		status:    status,
		scheduler: NewScheduler(cfg.SyncInterval, logger),
		logger:    logger,
	}

	prev := syncer.observer
	syncer.observer = func(u SyncUpdate) {
		if prev != nil {
			prev(u)
		}
		d.observe(u)
	}

	return d, nil
}

// Status returns the daemon's current status.
func (d *Daemon) Status() Status {
	st := d.status.Get()
	st.NextSyncAt = d.scheduler.Next()
	return st
}

// Run starts the daemon and blocks until shutdown signal received
func (d *Daemon) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	// SIGUSR1 requests an immediate sync
	syncChan := make(chan os.Signal, 1)
	signal.Notify(syncChan, syscall.SIGUSR1)
	defer signal.Stop(syncChan)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-syncChan:
				d.logger.Info().Msg("Sync requested by signal")
				d.scheduler.Trigger()
			}
		}
	}()

	// Handle first signal gracefully, second signal forces exit
	go func() {
		<-sigChan
		d.logger.Info().Msg("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Second signal forces exit
		<-sigChan
		d.logger.Warn().Msg("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()

	if err := d.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// run is the main daemon loop
func (d *Daemon) run(ctx context.Context) error {
	d.logger.Info().
		Str("user", d.syncer.User()).
		Dur("interval", d.config.SyncInterval).
		Msg("Starting daemon")

	if err := d.status.Update(func(st *Status) {
		st.User = d.syncer.User()
		st.PID = os.Getpid()
		st.StartedAt = time.Now()
		st.StoppedAt = time.Time{}
		st.Syncing = false
	}); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to write status")
	}

	var wg sync.WaitGroup

	if d.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := serveHTTP(ctx, d.config.MetricsAddr, d.Router(), d.logger); err != nil {
				d.logger.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := d.scheduler.Run(ctx, d.syncOnce); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("Scheduler error")
		}
	}()

	wg.Wait()

	d.logger.Info().Msg("Daemon stopped")
	return ctx.Err()
}

// syncOnce runs a single sync and records its outcome in the status file
func (d *Daemon) syncOnce(ctx context.Context) {
	res, err := d.syncer.Run(ctx)
	if errors.Is(err, ErrSyncActive) {
		d.logger.Debug().Msg("Sync already running, skipping")
		return
	}

	if updateErr := d.status.Update(func(st *Status) {
		st.Syncing = false
		st.Session = res.Session
		st.LastSyncAt = time.Now()
		st.LastMode = res.Mode.String()
		st.LastRecords = res.Records
		st.LastDuration = res.Duration
		st.TotalPages = res.TotalPages
		st.LastSavedPage = res.LastSavedPage
		st.NextSyncAt = time.Now().Add(d.config.SyncInterval)
		if err != nil {
			st.LastError = err.Error()
			st.Phase = PhaseFailed.String()
			return
		}
		st.LastError = ""
		st.LastSuccessAt = st.LastSyncAt
		st.HistoryComplete = res.Complete
		st.Phase = PhaseDone.String()
	}); updateErr != nil {
		d.logger.Warn().Err(updateErr).Msg("Failed to write status")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Error().Err(err).Str("session", res.Session).Msg("Scheduled sync failed")
	}
}

// observe feeds sync progress into the status
func (d *Daemon) observe(u SyncUpdate) {
	if err := d.status.ApplySync(u); err != nil {
		d.logger.Debug().Err(err).Msg("Failed to write status")
	}
}

// Shutdown gracefully shuts down the daemon
func (d *Daemon) Shutdown() error {
	d.logger.Info().Msg("Shutting down daemon")

	// Pages already fetched are written before exit
	d.syncer.Close()

	if d.config.RunRetention > 0 {
		removed, err := d.progress.Cleanup(context.Background(), d.config.RunRetention)
		if err != nil {
			d.logger.Warn().Err(err).Msg("Failed to cleanup sync history")
		} else if removed > 0 {
			d.logger.Info().Int64("removed", removed).Msg("Cleaned up old sync runs")
		}
	}

	if err := d.status.Update(func(st *Status) {
		st.Syncing = false
		st.StoppedAt = time.Now()
	}); err != nil {
		return fmt.Errorf("failed to write status: %w", err)
	}

	return nil
}
