package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/jfmyers9/scrollback/internal/store"
	"github.com/mattn/go-runewidth"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// historyStart bounds backwards searches; Last.fm has no older scrobbles.
var historyStart = time.Date(2002, time.January, 1, 0, 0, 0, 0, time.UTC)

// recentCmd represents the recent command
var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent stored scrobbles",
	Long: `Print the newest scrobbles from the local store, newest first.

The output format can be customized in ~/.config/scrollback/config.yaml
using a Go template. Available fields: .Time, .Ago, .Artist, .Track,
.Album, .Timestamp`,
	RunE: runRecent,
}

func init() {
	rootCmd.AddCommand(recentCmd)

	recentCmd.Flags().IntP("count", "n", 10, "Number of scrobbles to show")
	recentCmd.Flags().StringP("format", "f", "", "Output format template (overrides config)")
	recentCmd.Flags().IntP("width", "w", 0, "Fixed output width (0=disabled)")
}

// recentEntry is the template data for one output line
type recentEntry struct {
	Time      string
	Ago       string
	Artist    string
	Track     string
	Album     string
	Timestamp time.Time
}

func runRecent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	user, err := targetUser(cfg)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "" {
		format = cfg.OutputFormat
	}
	tmpl, err := template.New("output").Parse(format)
	if err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}

	count, _ := cmd.Flags().GetInt("count")
	width, _ := cmd.Flags().GetInt("width")

	st, err := store.New(cfg.ShardDir(), zerolog.Nop())
	if err != nil {
		return fmt.Errorf("failed to open scrobble store: %w", err)
	}

	now := time.Now()
	records, err := loadRecent(st, user, count, now)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no scrobbles stored for %s, run 'scrollback sync' first", user)
	}

	for i := len(records) - 1; i >= 0; i-- {
		line, err := formatRecord(tmpl, records[i], now)
		if err != nil {
			return err
		}
		fmt.Println(padToWidth(line, width))
	}
	return nil
}

// loadRecent returns up to n of the newest records, oldest first. The
// search window grows backwards until enough records are found.
func loadRecent(st *store.Store, user string, n int, now time.Time) ([]scrobble.Record, error) {
	if n <= 0 {
		return nil, nil
	}

	to := now.Add(24 * time.Hour)
	span := 4 * scrobble.Week
	for {
		from := to.Add(-span)
		if from.Before(historyStart) {
			from = historyStart
		}

		records, err := st.LoadRange(user, from, to)
		var loadErr *store.LoadError
		if err != nil && !errors.As(err, &loadErr) {
			return nil, fmt.Errorf("failed to load scrobbles: %w", err)
		}

		if len(records) >= n || !from.After(historyStart) {
			if len(records) > n {
				records = records[len(records)-n:]
			}
			return records, nil
		}
		span *= 4
	}
}

// formatRecord applies the template to one record
func formatRecord(tmpl *template.Template, r scrobble.Record, now time.Time) (string, error) {
	entry := recentEntry{
		Time:      r.Timestamp.Local().Format("2006-01-02 15:04"),
		Ago:       humanize.RelTime(r.Timestamp, now, "ago", "from now"),
		Artist:    r.Artist,
		Track:     r.Track,
		Album:     r.Album,
		Timestamp: r.Timestamp,
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, entry); err != nil {
		return "", fmt.Errorf("template execution failed: %w", err)
	}

	return buf.String(), nil
}

// padToWidth pads or truncates text to a fixed display width.
// Width is measured in display columns, accounting for Unicode characters.
// If width <= 0, returns text unchanged.
// If text is longer than width, truncates with "..." suffix.
// If text is shorter than width, pads with spaces.
func padToWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	currentWidth := runewidth.StringWidth(text)
	if currentWidth == width {
		return text
	}
	if currentWidth < width {
		return text + strings.Repeat(" ", width-currentWidth)
	}

	const ellipsis = "..."
	ellipsisWidth := runewidth.StringWidth(ellipsis)
	if width <= ellipsisWidth {
		return runewidth.Truncate(ellipsis, width, "")
	}

	// Wide runes may leave the truncated text one column short
	result := runewidth.Truncate(text, width-ellipsisWidth, "") + ellipsis
	if w := runewidth.StringWidth(result); w < width {
		result += strings.Repeat(" ", width-w)
	}
	return result
}
