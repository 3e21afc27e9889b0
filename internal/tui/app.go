package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/jfmyers9/scrollback/internal/daemon"
	"github.com/jfmyers9/scrollback/internal/stats"
	"github.com/rivo/tview"
)

const maxLogLines = 8

// Config holds TUI configuration options
type Config struct {
	RefreshRate time.Duration // How often to refresh the display
	TopN        int           // Entries shown in the library panel
}

// DefaultConfig returns the default TUI configuration
func DefaultConfig() Config {
	return Config{
		RefreshRate: 500 * time.Millisecond,
		TopN:        5,
	}
}

// LogLine is one entry of the activity panel
type LogLine struct {
	At   time.Time
	Text string
	Err  bool
}

// App is the TUI sync dashboard
type App struct {
	app      *tview.Application
	sync     *tview.TextView
	progress *tview.TextView
	library  *tview.TextView
	activity *tview.TextView
	status   *tview.TextView

	// Configuration
	config Config

	// Starts a sync; set with SetSyncFunc
	syncFn func(context.Context)

	// Mutex protects state written by the sync goroutine and read by the
	// refresh ticker.
	mu sync.Mutex

	// Current state (guarded by mu)
	update     daemon.SyncUpdate
	haveUpdate bool
	syncing    bool
	summary    *stats.Summary

	// Session stats (guarded by mu)
	sessionStart time.Time
	syncsRun     int
	recordsAdded int

	// Ring buffer for activity lines
	logBuf   [maxLogLines]LogLine
	logCount int // total lines added (logCount % maxLogLines = next write index)

	// Last-rendered content for change detection
	lastSync     string
	lastProgress string
	lastLibrary  string
	lastActivity string

	// Cached progress bar width to stabilize change detection.
	// Updated only when GetInnerRect returns a positive value.
	lastBarWidth int

	ctx        context.Context
	cancelFunc context.CancelFunc
}

// New creates a new TUI application with default config
func New() *App {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates a new TUI application with the given config
func NewWithConfig(cfg Config) *App {
	if cfg.TopN <= 0 {
		cfg.TopN = DefaultConfig().TopN
	}
	a := &App{
		app:          tview.NewApplication(),
		config:       cfg,
		sessionStart: time.Now(),
	}
	a.setupUI()
	return a
}

// SetSyncFunc sets the function run when a sync is requested. It blocks
// until the sync is over.
func (a *App) SetSyncFunc(fn func(context.Context)) {
	a.syncFn = fn
}

// setupUI creates the UI layout
func (a *App) setupUI() {
	a.sync = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.sync.SetBorder(true).
		SetTitle(" Sync ").
		SetTitleAlign(tview.AlignLeft)

	a.progress = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.progress.SetBorder(true)

	a.library = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.library.SetBorder(true).
		SetTitle(" Library ").
		SetTitleAlign(tview.AlignLeft)

	a.activity = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	a.activity.SetBorder(true).
		SetTitle(" Activity ").
		SetTitleAlign(tview.AlignLeft)

	a.status = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]q:quit  s:sync now[-]")

	// Top row: sync state | library summary
	// Middle row: page progress bar
	// Bottom row: activity log
	// Footer: status bar

	topRow := tview.NewFlex().
		SetDirection(tview.FlexColumn).
		AddItem(a.sync, 0, 1, false).
		AddItem(a.library, 0, 1, false)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 3, false).
		AddItem(a.progress, 3, 1, false).
		AddItem(a.activity, maxLogLines+2, 1, false).
		AddItem(a.status, 1, 1, false)

	a.app.SetInputCapture(a.handleKeyEvent)
	a.app.SetRoot(flex, true)
}

// handleKeyEvent processes keyboard input
func (a *App) handleKeyEvent(event *tcell.EventKey) *tcell.EventKey {
	switch event.Rune() {
	case 'q', 'Q':
		a.Stop()
		return nil
	case 's', 'S':
		a.triggerSync()
		return nil
	}
	return event
}

// Run starts the TUI, runs a first sync and blocks until the user quits
// or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.ctx, a.cancelFunc = context.WithCancel(ctx)

	go a.refreshLoop(a.ctx)
	a.triggerSync()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// triggerSync starts a sync unless one is running
func (a *App) triggerSync() {
	if a.syncFn == nil || a.ctx == nil {
		return
	}

	a.mu.Lock()
	if a.syncing {
		a.mu.Unlock()
		return
	}
	a.syncing = true
	a.mu.Unlock()

	go func() {
		a.syncFn(a.ctx)

		a.mu.Lock()
		a.syncing = false
		a.syncsRun++
		a.mu.Unlock()
	}()
}

// Observe records a sync update. Pass it to the syncer with
// daemon.WithObserver.
func (a *App) Observe(u daemon.SyncUpdate) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.update = u
	a.haveUpdate = true

	switch {
	case u.Err != nil:
		a.addLog(LogLine{At: time.Now(), Text: u.Err.Error(), Err: true})
	case u.Phase == daemon.PhaseDone:
		a.recordsAdded += u.Records
		a.addLog(LogLine{At: time.Now(), Text: u.Text})
	case u.Text != "":
		a.addLog(LogLine{At: time.Now(), Text: u.Text})
	}
}

// SetSummary replaces the library summary
func (a *App) SetSummary(s stats.Summary) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summary = &s
}

// refreshLoop is the only source of redraws
func (a *App) refreshLoop(ctx context.Context) {
	refreshRate := a.config.RefreshRate
	if refreshRate <= 0 {
		refreshRate = 500 * time.Millisecond
	}
	ticker := time.NewTicker(refreshRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.app.Stop()
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// addLog adds a line to the activity ring buffer.
// Must be called with a.mu held.
func (a *App) addLog(line LogLine) {
	// Status lines repeat while a page is retried; keep one copy
	if a.logCount > 0 {
		prev := a.logBuf[(a.logCount-1)%maxLogLines]
		if prev.Text == line.Text {
			return
		}
	}
	a.logBuf[a.logCount%maxLogLines] = line
	a.logCount++
}

// getLog returns activity lines in most-recent-first order.
// Must be called with a.mu held.
func (a *App) getLog() []LogLine {
	n := a.logCount
	if n > maxLogLines {
		n = maxLogLines
	}
	result := make([]LogLine, n)
	for i := 0; i < n; i++ {
		idx := (a.logCount - 1 - i) % maxLogLines
		result[i] = a.logBuf[idx]
	}
	return result
}

// refresh updates all UI components
func (a *App) refresh() {
	a.app.QueueUpdateDraw(func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		_, _, width, _ := a.progress.GetInnerRect()
		barWidth := width - 16
		if barWidth > 0 {
			a.lastBarWidth = barWidth
		}
		if a.lastBarWidth < 10 {
			a.lastBarWidth = 10
		}

		syncText := renderSync(a.update, a.haveUpdate, a.syncing, a.syncsRun, a.recordsAdded, time.Since(a.sessionStart))
		if syncText != a.lastSync {
			a.lastSync = syncText
			a.sync.SetText(syncText)
		}

		progText := renderProgress(a.update, a.lastBarWidth)
		if progText != a.lastProgress {
			a.lastProgress = progText
			a.progress.SetText(progText)
		}

		libText := renderLibrary(a.summary, a.config.TopN, time.Now())
		if libText != a.lastLibrary {
			a.lastLibrary = libText
			a.library.SetText(libText)
		}

		actText := renderActivity(a.getLog())
		if actText != a.lastActivity {
			a.lastActivity = actText
			a.activity.SetText(actText)
		}
	})
}

// Stop stops the TUI application
func (a *App) Stop() {
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	a.app.Stop()
}

func renderSync(u daemon.SyncUpdate, have, syncing bool, runs, added int, uptime time.Duration) string {
	var sb strings.Builder

	if !have {
		sb.WriteString("[gray]Waiting for first sync...[-]\n")
	} else {
		state := "[green]idle[-]"
		switch {
		case syncing && u.Phase == daemon.PhaseSaving:
			state = "[yellow]saving[-]"
		case syncing:
			state = "[yellow]fetching[-]"
		case u.Phase == daemon.PhaseFailed:
			state = "[red]failed[-]"
		}
		sb.WriteString(fmt.Sprintf("State:   %s\n", state))
		sb.WriteString(fmt.Sprintf("Mode:    %s\n", u.Mode))
		sb.WriteString(fmt.Sprintf("Session: %s\n", u.Session))
		if u.TotalPages > 0 {
			sb.WriteString(fmt.Sprintf("Page:    %d of %d\n", u.Page, u.TotalPages))
		}
		sb.WriteString(fmt.Sprintf("New:     %s scrobbles\n", humanize.Comma(int64(u.Records))))
		if syncing && u.Pending > 0 {
			sb.WriteString(fmt.Sprintf("Queue:   %d pages waiting\n", u.Pending))
		}
	}

	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Syncs:   %d (%s added)\n", runs, humanize.Comma(int64(added))))
	sb.WriteString(fmt.Sprintf("Uptime:  %s", formatDuration(uptime)))

	return sb.String()
}

func renderProgress(u daemon.SyncUpdate, width int) string {
	if u.TotalPages <= 0 {
		return strings.Repeat("-", max(width, 0))
	}
	bar := buildProgressBar(u.LastSavedPage, u.TotalPages, width)
	return fmt.Sprintf("%5d %s %-5d", u.LastSavedPage, bar, u.TotalPages)
}

func renderLibrary(s *stats.Summary, topN int, now time.Time) string {
	if s == nil {
		return "[gray]Loading...[-]"
	}
	if s.Total == 0 {
		return "[gray]No scrobbles stored yet[-]"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[white::b]%s[-:-:-] scrobbles\n", humanize.Comma(int64(s.Total))))
	sb.WriteString(fmt.Sprintf("[gray]since %s, last %s[-]\n", s.First.Format("2006-01-02"), humanize.RelTime(s.Last, now, "ago", "from now")))
	sb.WriteString(fmt.Sprintf("%.1f per day, streak %d days\n", s.MeanPerDay, s.Streak.CurrentDays))

	if len(s.TopArtists) > 0 {
		sb.WriteString("\n[yellow]Top artists[-]\n")
		for i, c := range s.TopArtists {
			if i >= topN {
				break
			}
			sb.WriteString(fmt.Sprintf("%2d. %s [gray](%s)[-]\n", i+1, tview.Escape(truncate(c.Name, 28)), humanize.Comma(int64(c.Plays))))
		}
	}

	return strings.TrimRight(sb.String(), "\n")
}

func renderActivity(lines []LogLine) string {
	if len(lines) == 0 {
		return "[gray]No activity yet[-]"
	}

	var sb strings.Builder
	for i, line := range lines {
		if i > 0 {
			sb.WriteString("\n")
		}
		color := "white"
		if line.Err {
			color = "red"
		}
		sb.WriteString(fmt.Sprintf("[gray]%s[-] [%s]%s[-]", line.At.Format("15:04:05"), color, tview.Escape(line.Text)))
	}
	return sb.String()
}

// buildProgressBar creates a text-based progress bar
func buildProgressBar(done, total, width int) string {
	if total <= 0 || width <= 0 {
		return strings.Repeat("-", max(width, 0))
	}

	progress := float64(done) / float64(total)
	if progress > 1 {
		progress = 1
	}
	if progress < 0 {
		progress = 0
	}

	filled := int(progress * float64(width))
	empty := width - filled

	bar := "[green]" + strings.Repeat("█", filled) + "[-]" +
		"[gray]" + strings.Repeat("░", empty) + "[-]"

	return bar
}

// truncate shortens s to n runes with a trailing ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatDuration formats a duration as MM:SS or HH:MM:SS for longer durations
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}
