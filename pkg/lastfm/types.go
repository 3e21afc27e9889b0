package lastfm

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"
)

// RecentTracksParams are the arguments of user.getRecentTracks.
type RecentTracksParams struct {
	User  string // Required: Last.fm username
	Page  int    // Optional: 1-based page number (defaults to 1)
	Limit int    // Optional: tracks per page, 1..MaxRecentTracksLimit (defaults to 50)
	From  int64  // Optional: only tracks scrobbled at or after this epoch second
	To    int64  // Optional: only tracks scrobbled before this epoch second
}

// RecentTracks is one page of a user's listening history.
type RecentTracks struct {
	User       string
	Page       int
	PerPage    int
	TotalPages int
	Total      int
	Tracks     []RecentTrack
}

// RecentTrack is one entry of a recent tracks page.
type RecentTrack struct {
	Artist     string
	Name       string
	Album      string
	Timestamp  int64 // Epoch seconds; 0 when the entry carries no usable date
	NowPlaying bool
}

// UserInfo is the subset of user.getInfo that callers use.
type UserInfo struct {
	Name       string
	RealName   string
	PlayCount  int64
	Registered int64 // Epoch seconds
	URL        string
}

// Wire types. Last.fm encodes every number as a string.

type recentTracksResponse struct {
	RecentTracks *recentTracksBody `json:"recenttracks" validate:"required"`
}

type recentTracksBody struct {
	Attr  *recentTracksAttr `json:"@attr" validate:"required"`
	Track trackList         `json:"track"`
}

type recentTracksAttr struct {
	User       string `json:"user"`
	Page       string `json:"page" validate:"required,number"`
	PerPage    string `json:"perPage" validate:"omitempty,number"`
	TotalPages string `json:"totalPages" validate:"required,number"`
	Total      string `json:"total" validate:"omitempty,number"`
}

type rawTrack struct {
	Artist textField   `json:"artist"`
	Name   string      `json:"name"`
	Album  textField   `json:"album"`
	Date   *rawDate    `json:"date"`
	Attr   *rawNowPlay `json:"@attr"`
}

type rawDate struct {
	UTS string `json:"uts"`
}

type rawNowPlay struct {
	NowPlaying string `json:"nowplaying"`
}

type textField struct {
	Text string `json:"#text"`
}

// trackList accepts both an array of tracks and the single bare object
// Last.fm sends when a page holds exactly one track.
type trackList []rawTrack

func (l *trackList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}
	if trimmed[0] == '{' {
		var one rawTrack
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return err
		}
		*l = trackList{one}
		return nil
	}
	var many []rawTrack
	if err := json.Unmarshal(trimmed, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

type userInfoResponse struct {
	User *rawUser `json:"user" validate:"required"`
}

type rawUser struct {
	Name       string        `json:"name" validate:"required"`
	RealName   string        `json:"realname"`
	PlayCount  string        `json:"playcount" validate:"omitempty,number"`
	URL        string        `json:"url"`
	Registered rawRegistered `json:"registered"`
}

type rawRegistered struct {
	Unixtime string `json:"unixtime"`
}

func (b *recentTracksBody) toRecentTracks() *RecentTracks {
	rt := &RecentTracks{
		User:       b.Attr.User,
		Page:       atoi(b.Attr.Page),
		PerPage:    atoi(b.Attr.PerPage),
		TotalPages: atoi(b.Attr.TotalPages),
		Total:      atoi(b.Attr.Total),
		Tracks:     make([]RecentTrack, 0, len(b.Track)),
	}

	for _, t := range b.Track {
		track := RecentTrack{
			Artist:     t.Artist.Text,
			Name:       t.Name,
			Album:      t.Album.Text,
			NowPlaying: t.Attr != nil && t.Attr.NowPlaying == "true",
		}
		if t.Date != nil {
			track.Timestamp, _ = strconv.ParseInt(t.Date.UTS, 10, 64)
		}
		rt.Tracks = append(rt.Tracks, track)
	}

	return rt
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
