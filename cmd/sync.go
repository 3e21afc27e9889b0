package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/jfmyers9/scrollback/internal/fetch"
	"github.com/spf13/cobra"
)

var syncFull bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync listening history once",
	Long: `Fetch new scrobbles from Last.fm into the local store and exit.

The first sync walks the whole history, oldest page last. If it is
interrupted it resumes from the page after the last one saved. Once the
full history is stored, syncs only fetch scrobbles newer than the newest
stored one.

Use --full to walk the whole history again, e.g. after scrobbles were
imported into Last.fm with old timestamps. Stored scrobbles are kept and
duplicates are merged.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "Fetch the whole history again")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	logger := setupLogger(logFile, logLevel)

	b, err := openBackend(cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	syncer, err := b.newSyncer(daemon.WithObserver(func(u daemon.SyncUpdate) {
		if u.Phase == daemon.PhaseFetching && u.TotalPages > 0 && u.Page > 0 {
			fmt.Fprintf(os.Stderr, "\rpage %d of %d", u.Page, u.TotalPages)
		}
	}))
	if err != nil {
		return err
	}
	defer syncer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if syncFull {
		if err := syncer.RestartFull(ctx); err != nil {
			return fmt.Errorf("failed to restart full fetch: %w", err)
		}
	}

	res, err := syncer.Run(ctx)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		if res.Records > 0 {
			fmt.Printf("Saved %s scrobbles before the sync stopped\n", humanize.Comma(int64(res.Records)))
		}
		if res.Mode == fetch.ModeFull && res.LastSavedPage > 0 {
			fmt.Printf("Run 'scrollback sync' again to resume after page %d of %d\n", res.LastSavedPage, res.TotalPages)
		}
		return fmt.Errorf("sync failed: %w", err)
	}

	fmt.Printf("✓ %s new scrobbles (%s sync, %d pages, %s)\n",
		humanize.Comma(int64(res.Records)), res.Mode, res.PagesFetched, res.Duration.Round(10*time.Millisecond))
	if res.Complete {
		fmt.Println("✓ Full history stored")
	}
	return nil
}
