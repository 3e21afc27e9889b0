package cmd

import (
	"fmt"
	"time"

	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/spf13/cobra"
)

// Finished runs older than this are pruned from the progress database on
// shutdown.
const runRetention = 30 * 24 * time.Hour

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the sync daemon that keeps the local history up to date.

The daemon will:
- Sync immediately on start, then every sync_interval minutes
- Resume an interrupted full fetch from the last saved page
- Write its state to status.json in the data directory
- Sync on demand on SIGUSR1 or POST /sync when metrics_addr is set
- Serve Prometheus metrics on /metrics when metrics_addr is set
- Handle graceful shutdown on SIGINT/SIGTERM

The daemon runs in the foreground and logs to stderr by default.
Use the --log-file flag to log to a file (useful for launchd).`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger := setupLogger(logFile, logLevel)

	logger.Info().
		Str("version", version).
		Str("user", cfg.LastFM.Username).
		Str("data_dir", cfg.DataDir).
		Msg("Starting scrollback daemon")

	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	syncer, err := b.newSyncer()
	if err != nil {
		return err
	}

	d, err := daemon.New(daemon.Config{
		SyncInterval: cfg.SyncIntervalDuration(),
		StatusFile:   cfg.StatusPath(),
		MetricsAddr:  cfg.MetricsAddr,
		RunRetention: runRetention,
	}, syncer, b.progress, logger)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Run daemon (blocks until shutdown signal)
	if err := d.Run(); err != nil {
		return fmt.Errorf("daemon error: %w", err)
	}

	// Graceful shutdown
	if err := d.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
		return err
	}

	logger.Info().Msg("Daemon stopped")
	return nil
}
