package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jfmyers9/scrollback/internal/config"
	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/jfmyers9/scrollback/internal/progress"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync progress and recent runs",
	Long: `Show how much of the history is stored, whether a full fetch is
waiting to resume, the most recent sync runs, and what the daemon is
doing if one is running.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().IntP("runs", "r", 5, "Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("runs")

	st, err := store.New(cfg.ShardDir(), zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open scrobble store: %w", err)
	}

	user, err := targetUser(cfg)
	if errors.Is(err, config.ErrMissingCredentials) {
		// Status works without credentials when the store holds one user.
		users, lerr := st.Users()
		if lerr != nil {
			return lerr
		}
		user, err = pickStoredUser(users)
	}
	if err != nil {
		return err
	}

	shards, err := st.ShardCount(user)
	if err != nil {
		return err
	}

	prog, err := progress.Open(cfg.ProgressDBPath())
	if err != nil {
		return fmt.Errorf("failed to open progress database: %w", err)
	}
	defer prog.Close()

	ctx := context.Background()
	p, err := prog.Get(ctx, user)
	if err != nil {
		return err
	}
	runs, err := prog.RecentRuns(ctx, user, limit)
	if err != nil {
		return err
	}

	var ds *daemon.Status
	if s, err := daemon.ReadStatus(cfg.StatusPath()); err == nil {
		ds = &s
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	printStatus(os.Stdout, user, shards, st.FindLastTimestamp(user), p, runs, ds, time.Now())
	return nil
}

// pickStoredUser chooses the user to report on when none is configured.
func pickStoredUser(users []string) (string, error) {
	switch len(users) {
	case 0:
		return "", config.ErrMissingCredentials
	case 1:
		return users[0], nil
	default:
		return "", fmt.Errorf("store holds several users (%s), choose one with --user", strings.Join(users, ", "))
	}
}

func printStatus(w io.Writer, user string, shards int, newest int64, p progress.Progress, runs []progress.Run, ds *daemon.Status, now time.Time) {
	fmt.Fprintf(w, "User:     %s\n", user)
	fmt.Fprintf(w, "Stored:   %s week files", humanize.Comma(int64(shards)))
	if newest > 0 {
		fmt.Fprintf(w, ", newest scrobble %s", humanize.RelTime(time.Unix(newest, 0), now, "ago", "from now"))
	}
	fmt.Fprintln(w)

	switch {
	case p.InitialFetchComplete:
		fmt.Fprintln(w, "History:  complete, syncing new scrobbles only")
	case p.Resumable():
		fmt.Fprintf(w, "History:  incomplete, resumes after page %d of %d\n", p.LastSavedPage, p.ExpectedTotalPages)
	default:
		fmt.Fprintln(w, "History:  not fetched yet")
	}

	if ds != nil && ds.User == user {
		if ds.Running() {
			line := fmt.Sprintf("running since %s (pid %d)", humanize.RelTime(ds.StartedAt, now, "ago", "from now"), ds.PID)
			if ds.Syncing {
				line += fmt.Sprintf(", %s page %d of %d", ds.Phase, ds.Page, ds.TotalPages)
			} else if !ds.NextSyncAt.IsZero() {
				line += ", next sync " + humanize.RelTime(ds.NextSyncAt, now, "ago", "from now")
			}
			fmt.Fprintf(w, "Daemon:   %s\n", line)
		} else {
			fmt.Fprintln(w, "Daemon:   stopped")
		}
		if ds.LastError != "" {
			fmt.Fprintf(w, "          last error: %s\n", ds.LastError)
		}
	}

	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(w, "\nRecent runs")
	for _, r := range runs {
		outcome := "running"
		switch {
		case r.Error != "":
			outcome = "failed: " + r.Error
		case r.Finished():
			outcome = fmt.Sprintf("%s scrobbles in %s", humanize.Comma(int64(r.Records)), r.Duration().Round(time.Second))
		}
		fmt.Fprintf(w, "  %-16s %-6s %s\n", humanize.RelTime(r.StartedAt, now, "ago", "from now"), r.Mode, outcome)
	}
}
