package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/jfmyers9/scrollback/internal/config"
	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/jfmyers9/scrollback/internal/fetch"
	"github.com/jfmyers9/scrollback/internal/progress"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/rs/zerolog"
)

// backend bundles the local storage every data command works against.
type backend struct {
	cfg      *config.Config
	store    *store.Store
	progress *progress.Store
	logger   zerolog.Logger
}

// loadConfig loads configuration and applies the global flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, nil
}

// targetUser returns the user named by --user or the configured one.
func targetUser(cfg *config.Config) (string, error) {
	if userFlag != "" {
		return userFlag, nil
	}
	if cfg.LastFM.Username == "" {
		return "", config.ErrMissingCredentials
	}
	return cfg.LastFM.Username, nil
}

func openBackend(cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(cfg.ShardDir(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open scrobble store: %w", err)
	}

	prog, err := progress.Open(cfg.ProgressDBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open progress database: %w", err)
	}

	return &backend{cfg: cfg, store: st, progress: prog, logger: logger}, nil
}

// newSyncer builds a syncer for the configured account.
func (b *backend) newSyncer(opts ...daemon.SyncerOption) (*daemon.Syncer, error) {
	if err := b.cfg.RequireCredentials(); err != nil {
		return nil, err
	}

	worker := fetch.NewWorker(fetch.WorkerConfig{
		RateLimit: b.cfg.RequestsPerSecond,
	}, b.logger)

	return daemon.NewSyncer(daemon.SyncerConfig{
		APIKey:     b.cfg.LastFM.APIKey,
		User:       b.cfg.LastFM.Username,
		RetryDelay: b.cfg.RetryDelayDuration(),
		MaxRetries: b.cfg.MaxRetries,
		PageDelay:  b.cfg.PageDelayDuration(),
	}, b.store, b.progress, worker, b.logger, opts...), nil
}

func (b *backend) Close() {
	if err := b.progress.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		b.logger.Warn().Err(err).Msg("Failed to close progress database")
	}
}
