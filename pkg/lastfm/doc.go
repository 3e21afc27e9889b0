// Package lastfm provides a client library for the read-only parts of the
// Last.fm API 2.0.
//
// # Overview
//
// The package covers what a history mirror needs: paging through a user's
// scrobbles and looking up a user's profile. Requests are unsigned GETs
// against the JSON flavour of the API, so only an API key is required.
//
// # Quick Start
//
//	import "github.com/jfmyers9/scrollback/pkg/lastfm"
//
//	client, err := lastfm.NewClient(lastfm.Config{
//	    APIKey: "your-api-key",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Recent Tracks
//
// user.getRecentTracks returns scrobbles newest first, up to 200 per page:
//
//	page, err := client.User().GetRecentTracks(ctx, lastfm.RecentTracksParams{
//	    User:  "rj",
//	    Page:  1,
//	    Limit: lastfm.MaxRecentTracksLimit,
//	    From:  lastSync + 1,
//	})
//	for _, t := range page.Tracks {
//	    if t.NowPlaying {
//	        continue
//	    }
//	    fmt.Println(t.Timestamp, t.Artist, t.Name)
//	}
//
// Numeric fields arrive as strings on the wire. The client validates the
// envelope (page and totalPages must be numeric strings, recenttracks must
// be present) and converts them before returning.
//
// # Error Handling
//
// Three error types cover the failure modes:
//
//	page, err := client.User().GetRecentTracks(ctx, params)
//	if err != nil {
//	    var httpErr *lastfm.HTTPError
//	    var apiErr *lastfm.Error
//	    switch {
//	    case errors.As(err, &httpErr):
//	        // HTTP status >= 400; lastfm.IsTransient(err) reports a 500
//	    case errors.As(err, &apiErr):
//	        // error/message pair in the body
//	    case errors.Is(err, lastfm.ErrMalformedResponse):
//	        // body did not decode or validate
//	    }
//	}
//
// The client never retries on its own; retry policy belongs to the caller.
//
// # Rate Limiting
//
// Config.RateLimit caps the request rate of a client using a token bucket.
// Waiting for a token honours the request context.
//
// # Configuration
//
//	client, err := lastfm.NewClient(lastfm.Config{
//	    APIKey:     "your-api-key",
//	    HTTPClient: &http.Client{Timeout: 30 * time.Second},
//	    RateLimit:  4,
//	    Logger:     myLogger, // Implements lastfm.Logger interface
//	})
//
// # API Coverage
//
// Currently implemented:
//   - user.getRecentTracks
//   - user.getInfo
//
// # Last.fm API Documentation
//
// https://www.last.fm/api/show/user.getRecentTracks
package lastfm
