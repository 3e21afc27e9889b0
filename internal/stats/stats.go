// Package stats computes listening statistics over loaded records.
//
// Every function is pure and takes records in any order. Functions that
// bucket by clock time take the location to bucket in.
package stats

import (
	"sort"
	"strings"
	"time"

	"github.com/jfmyers9/scrollback/internal/scrobble"
)

// Count is a name with its play count.
type Count struct {
	Name  string
	Plays int
}

// Streak describes consecutive listening days.
type Streak struct {
	LongestDays  int
	LongestEnd   time.Time // day the longest streak ended, zero if none
	CurrentDays  int
	CurrentStart time.Time // first day of the current streak, zero if none
}

// Summary bundles the statistics shown by the stats command.
type Summary struct {
	Total      int
	First      time.Time
	Last       time.Time
	MeanPerDay float64
	TopArtists []Count
	TopTracks  []Count
	PerHour    [24]int
	PerWeekday [7]int // Monday first
	Streak     Streak
}

// Summarize computes a Summary over records. now decides the location for
// clock-time buckets and which streak is current.
func Summarize(records []scrobble.Record, topN int, now time.Time) Summary {
	s := Summary{
		Total:      len(records),
		TopArtists: TopArtists(records, topN),
		TopTracks:  TopTracks(records, topN),
		PerHour:    PerHourOfDay(records, now.Location()),
		PerWeekday: PerDayOfWeek(records, now.Location()),
		Streak:     Streaks(records, now),
	}

	first, last, ok := FirstAndLast(records)
	if ok {
		s.First, s.Last = first, last
		s.MeanPerDay = MeanPerDay(records, first, now)
	}
	return s
}

// ArtistPlayCounts returns plays per artist.
func ArtistPlayCounts(records []scrobble.Record) map[string]int {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Artist]++
	}
	return counts
}

// TopArtists returns the n most played artists. n <= 0 returns all.
func TopArtists(records []scrobble.Record, n int) []Count {
	return top(ArtistPlayCounts(records), n)
}

// TopTracks returns the n most played tracks, named "Artist - Track".
// n <= 0 returns all.
func TopTracks(records []scrobble.Record, n int) []Count {
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Artist+" - "+r.Track]++
	}
	return top(counts, n)
}

// top sorts by plays descending, then name ascending.
func top(counts map[string]int, n int) []Count {
	list := make([]Count, 0, len(counts))
	for name, plays := range counts {
		list = append(list, Count{Name: name, Plays: plays})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Plays != list[j].Plays {
			return list[i].Plays > list[j].Plays
		}
		return list[i].Name < list[j].Name
	})
	if n > 0 && len(list) > n {
		list = list[:n]
	}
	return list
}

// LastPlayed returns when a track was last played, matching artist and
// track case-insensitively.
func LastPlayed(records []scrobble.Record, artist, track string) (time.Time, bool) {
	var last time.Time
	found := false
	for _, r := range records {
		if !strings.EqualFold(r.Artist, artist) || !strings.EqualFold(r.Track, track) {
			continue
		}
		if !found || r.Timestamp.After(last) {
			last = r.Timestamp
			found = true
		}
	}
	return last, found
}

// FirstAndLast returns the oldest and newest valid timestamps.
func FirstAndLast(records []scrobble.Record) (first, last time.Time, ok bool) {
	for _, r := range records {
		if !r.Valid() {
			continue
		}
		if !ok || r.Timestamp.Before(first) {
			first = r.Timestamp
		}
		if !ok || r.Timestamp.After(last) {
			last = r.Timestamp
		}
		ok = true
	}
	return first, last, ok
}

// MeanPerDay returns the average plays per day over [from, to).
func MeanPerDay(records []scrobble.Record, from, to time.Time) float64 {
	if !from.Before(to) {
		return 0
	}

	n := 0
	for _, r := range records {
		if r.Valid() && !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			n++
		}
	}
	if n == 0 {
		return 0
	}

	days := to.Sub(from).Hours() / 24
	return float64(n) / days
}

// PerHourOfDay counts plays per hour of the day in loc.
func PerHourOfDay(records []scrobble.Record, loc *time.Location) [24]int {
	var counts [24]int
	for _, r := range records {
		if r.Valid() {
			counts[r.Timestamp.In(loc).Hour()]++
		}
	}
	return counts
}

// PerDayOfWeek counts plays per weekday in loc, Monday at index 0.
func PerDayOfWeek(records []scrobble.Record, loc *time.Location) [7]int {
	var counts [7]int
	for _, r := range records {
		if r.Valid() {
			wd := r.Timestamp.In(loc).Weekday()
			counts[(int(wd)+6)%7]++
		}
	}
	return counts
}

// Streaks finds the longest run of consecutive listening days and the
// current one, in the location of today.
//
// The current streak only counts when the most recent listening day is
// today or yesterday; a streak that ended yesterday is still current.
func Streaks(records []scrobble.Record, today time.Time) Streak {
	loc := today.Location()

	seen := make(map[time.Time]struct{})
	for _, r := range records {
		if r.Valid() {
			seen[day(r.Timestamp, loc)] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return Streak{}
	}

	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	var result Streak
	run := 0
	for i, d := range days {
		if i > 0 && nextDay(days[i-1]).Equal(d) {
			run++
		} else {
			run = 1
		}
		if run > result.LongestDays {
			result.LongestDays = run
			result.LongestEnd = d
		}
	}

	todayDay := day(today, loc)
	yesterday := todayDay.AddDate(0, 0, -1)
	lastDay := days[len(days)-1]
	if !lastDay.Equal(todayDay) && !lastDay.Equal(yesterday) {
		return result
	}

	expected := lastDay
	for i := len(days) - 1; i >= 0 && days[i].Equal(expected); i-- {
		result.CurrentDays++
		result.CurrentStart = days[i]
		expected = expected.AddDate(0, 0, -1)
	}
	return result
}

// day truncates t to midnight in loc.
func day(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func nextDay(d time.Time) time.Time {
	return d.AddDate(0, 0, 1)
}
