package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/jfmyers9/scrollback/internal/stats"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/jfmyers9/scrollback/internal/tui"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// tuiCmd represents the tui command
var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Sync with a terminal dashboard",
	Long: `Run a sync inside a terminal dashboard.

The TUI includes:
- Sync phase, mode and page progress of the running sync
- A summary of the stored library with top artists
- Recent sync activity and errors

A sync starts when the TUI opens. Press 's' to sync again and 'q' to quit.
Logs are discarded unless --log-file is set.`,
	RunE: runTUI,
}

func init() {
	rootCmd.AddCommand(tuiCmd)
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger := zerolog.Nop()
	if logFile != "" {
		logger = setupLogger(logFile, logLevel)
	}

	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	app := tui.New()

	syncer, err := b.newSyncer(daemon.WithObserver(app.Observe))
	if err != nil {
		return err
	}
	defer syncer.Close()

	refreshSummary := func() {
		records, err := b.store.LoadAll(cfg.LastFM.Username)
		var loadErr *store.LoadError
		if err != nil && !errors.As(err, &loadErr) {
			logger.Warn().Err(err).Msg("Failed to load library summary")
			return
		}
		app.SetSummary(stats.Summarize(records, tui.DefaultConfig().TopN, time.Now()))
	}
	go refreshSummary()

	app.SetSyncFunc(func(ctx context.Context) {
		if _, err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("Sync failed")
		}
		refreshSummary()
	})

	return app.Run(context.Background())
}
