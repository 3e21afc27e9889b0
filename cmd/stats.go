package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jfmyers9/scrollback/internal/stats"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const dateLayout = "2006-01-02"

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the stored listening history",
	Long: `Print statistics over the stored scrobbles: totals, mean plays per day,
top artists and tracks, listening by hour and weekday, and streaks.

Use --since and --until (YYYY-MM-DD, local time, --until exclusive) to
restrict the range.`,
	RunE: runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().String("since", "", "First day to include (YYYY-MM-DD)")
	statsCmd.Flags().String("until", "", "Day to stop before (YYYY-MM-DD)")
	statsCmd.Flags().IntP("top", "t", 10, "Number of top artists and tracks")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user, err := targetUser(cfg)
	if err != nil {
		return err
	}

	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	top, _ := cmd.Flags().GetInt("top")

	now := time.Now()
	from, to, err := parseRange(since, until, now)
	if err != nil {
		return err
	}

	st, err := store.New(cfg.ShardDir(), zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open scrobble store: %w", err)
	}

	records, err := st.LoadRange(user, from, to)
	var loadErr *store.LoadError
	if errors.As(err, &loadErr) {
		fmt.Fprintf(os.Stderr, "Warning: %d unreadable week files skipped\n", len(loadErr.Failures))
	} else if err != nil {
		return fmt.Errorf("failed to load scrobbles: %w", err)
	}

	s := stats.Summarize(records, top, now)
	if s.Total > 0 && (since != "" || until != "") {
		start := from
		if since == "" {
			start = s.First
		}
		s.MeanPerDay = stats.MeanPerDay(records, start, minTime(to, now))
	}

	printSummary(os.Stdout, user, s)
	return nil
}

// parseRange turns the --since/--until flags into a [from, to) range.
// Missing bounds cover the whole history.
func parseRange(since, until string, now time.Time) (from, to time.Time, err error) {
	from = historyStart
	to = now.Add(24 * time.Hour)

	if since != "" {
		from, err = time.ParseInLocation(dateLayout, since, now.Location())
		if err != nil {
			return from, to, fmt.Errorf("invalid --since date %q: %w", since, err)
		}
	}
	if until != "" {
		to, err = time.ParseInLocation(dateLayout, until, now.Location())
		if err != nil {
			return from, to, fmt.Errorf("invalid --until date %q: %w", until, err)
		}
	}
	if !from.Before(to) {
		return from, to, fmt.Errorf("--since must be before --until")
	}
	return from, to, nil
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func printSummary(w io.Writer, user string, s stats.Summary) {
	if s.Total == 0 {
		fmt.Fprintf(w, "No scrobbles stored for %s in this range\n", user)
		return
	}

	fmt.Fprintf(w, "%s: %s scrobbles\n", user, humanize.Comma(int64(s.Total)))
	fmt.Fprintf(w, "  %s to %s, %.1f per day\n", s.First.Local().Format(dateLayout), s.Last.Local().Format(dateLayout), s.MeanPerDay)
	fmt.Fprintf(w, "  current streak %s, longest %s\n", days(s.Streak.CurrentDays), days(s.Streak.LongestDays))
	if !s.Streak.LongestEnd.IsZero() {
		fmt.Fprintf(w, "  longest streak ended %s\n", s.Streak.LongestEnd.Format(dateLayout))
	}

	printCounts(w, "Top artists", s.TopArtists)
	printCounts(w, "Top tracks", s.TopTracks)

	fmt.Fprintln(w, "\nBy hour")
	hours := s.PerHour[:]
	for h, n := range hours {
		fmt.Fprintf(w, "  %02d  %s %s\n", h, bar(n, maxOf(hours), 30), humanize.Comma(int64(n)))
	}

	fmt.Fprintln(w, "\nBy weekday")
	weekdays := s.PerWeekday[:]
	names := []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
	for i, n := range weekdays {
		fmt.Fprintf(w, "  %s %s %s\n", names[i], bar(n, maxOf(weekdays), 30), humanize.Comma(int64(n)))
	}
}

func printCounts(w io.Writer, title string, counts []stats.Count) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", title)
	for i, c := range counts {
		fmt.Fprintf(w, "  %2d. %s %s\n", i+1, padToWidth(c.Name, 40), humanize.Comma(int64(c.Plays)))
	}
}

func days(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

// bar renders n relative to max as a fixed width run of blocks
func bar(n, peak, width int) string {
	if peak <= 0 {
		return strings.Repeat(" ", width)
	}
	filled := n * width / peak
	return strings.Repeat("█", filled) + strings.Repeat(" ", width-filled)
}

func maxOf(values []int) int {
	m := 0
	for _, v := range values {
		m = max(m, v)
	}
	return m
}
