package cmd

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/jfmyers9/scrollback/internal/stats"
)

func TestParseRange(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	from, to, err := parseRange("", "", now)
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if !from.Equal(historyStart) || !to.After(now) {
		t.Errorf("open range = [%v, %v)", from, to)
	}

	from, to, err = parseRange("2024-01-01", "2024-02-01", now)
	if err != nil {
		t.Fatalf("parseRange: %v", err)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !from.Equal(want) {
		t.Errorf("from = %v, want %v", from, want)
	}
	if want := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC); !to.Equal(want) {
		t.Errorf("to = %v, want %v", to, want)
	}

	for _, tt := range []struct{ since, until string }{
		{"yesterday", ""},
		{"", "2024-13-01"},
		{"2024-02-01", "2024-01-01"},
		{"2024-02-01", "2024-02-01"},
	} {
		if _, _, err := parseRange(tt.since, tt.until, now); err == nil {
			t.Errorf("parseRange(%q, %q) accepted an invalid range", tt.since, tt.until)
		}
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, "alice", stats.Summary{})
	if !strings.Contains(buf.String(), "No scrobbles stored for alice") {
		t.Errorf("empty summary output:\n%s", buf.String())
	}

	buf.Reset()
	s := stats.Summary{
		Total:      12345,
		First:      time.Date(2015, 1, 2, 12, 0, 0, 0, time.UTC),
		Last:       time.Date(2024, 5, 9, 12, 0, 0, 0, time.UTC),
		MeanPerDay: 3.7,
		TopArtists: []stats.Count{{Name: "Radiohead", Plays: 1200}},
		TopTracks:  []stats.Count{{Name: "Radiohead - Airbag", Plays: 40}},
		Streak:     stats.Streak{CurrentDays: 1, LongestDays: 30},
	}
	s.PerHour[21] = 10
	s.PerWeekday[0] = 4

	printSummary(&buf, "alice", s)
	out := buf.String()
	for _, want := range []string{
		"alice: 12,345 scrobbles",
		"3.7 per day",
		"current streak 1 day, longest 30 days",
		"Top artists",
		"Radiohead",
		"1,200",
		"Top tracks",
		"By hour",
		"By weekday",
		"Mon",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestBar(t *testing.T) {
	if got := bar(5, 10, 10); got != "█████     " {
		t.Errorf("bar(5, 10, 10) = %q", got)
	}
	if got := bar(0, 0, 4); got != "    " {
		t.Errorf("bar with no data = %q", got)
	}
}
