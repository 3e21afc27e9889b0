// Package scrobble defines the play record shared by the fetcher, the
// save queue and the weekly shard store.
package scrobble

import (
	"sort"
	"time"
)

// Week is the span covered by one shard.
const Week = 7 * 24 * time.Hour

// Record is a single play event.
//
// Two records belonging to the same user with the same Unix timestamp are
// the same scrobble, whatever their text fields say.
type Record struct {
	Artist    string
	Track     string
	Album     string
	Timestamp time.Time
}

// New creates a record from an epoch-seconds timestamp.
func New(artist, track, album string, uts int64) Record {
	return Record{
		Artist:    artist,
		Track:     track,
		Album:     album,
		Timestamp: time.Unix(uts, 0).UTC(),
	}
}

// Unix returns the timestamp in epoch seconds.
func (r Record) Unix() int64 {
	return r.Timestamp.Unix()
}

// Valid reports whether the record has a usable timestamp.
func (r Record) Valid() bool {
	return !r.Timestamp.IsZero() && r.Timestamp.Unix() > 0
}

// WeekStart returns Monday 00:00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	// time.Weekday has Sunday = 0; shift so Monday = 0.
	offset := (int(t.Weekday()) + 6) % 7
	y, m, d := t.Date()
	return time.Date(y, m, d-offset, 0, 0, 0, 0, time.UTC)
}

// SortByTime sorts records ascending by timestamp.
func SortByTime(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
