package store

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/jfmyers9/scrollback/internal/scrobble"
)

// ErrCorruptShard is returned when a shard file is not a JSON array.
var ErrCorruptShard = errors.New("corrupt shard")

// shardEntry is the on-disk representation of one record.
type shardEntry struct {
	Artist *string `json:"artist"`
	Track  *string `json:"track"`
	Album  string  `json:"album"`
	UTS    *int64  `json:"uts"`
}

// EncodeWeek encodes a week's records as a compact JSON array.
func EncodeWeek(records []scrobble.Record) ([]byte, error) {
	entries := make([]shardEntry, 0, len(records))
	for _, r := range records {
		artist, track, uts := r.Artist, r.Track, r.Unix()
		entries = append(entries, shardEntry{
			Artist: &artist,
			Track:  &track,
			Album:  r.Album,
			UTS:    &uts,
		})
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shard: %w", err)
	}
	return data, nil
}

// DecodeWeek decodes a shard file.
//
// Elements that are not objects, lack artist/track/uts, or carry a
// non-positive uts are skipped. Anything that is not a JSON array yields
// ErrCorruptShard.
func DecodeWeek(data []byte) ([]scrobble.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, ErrCorruptShard
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptShard, err)
	}

	records := make([]scrobble.Record, 0, len(raw))
	for _, msg := range raw {
		var e shardEntry
		if err := json.Unmarshal(msg, &e); err != nil {
			continue
		}
		if e.Artist == nil || e.Track == nil || e.UTS == nil || *e.UTS <= 0 {
			continue
		}
		records = append(records, scrobble.New(*e.Artist, *e.Track, e.Album, *e.UTS))
	}

	return records, nil
}
