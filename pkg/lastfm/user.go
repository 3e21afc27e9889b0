package lastfm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// MaxRecentTracksLimit is the largest page size Last.fm accepts.
const MaxRecentTracksLimit = 200

// UserService handles user.* API methods.
type UserService struct {
	client *Client
}

// GetRecentTracks fetches one page of a user's scrobbles, newest first.
//
// Entries currently playing are returned with NowPlaying set and no
// timestamp; callers that persist history should skip them.
//
// Failures are returned as *HTTPError for HTTP status >= 400, *Error for
// errors reported in the body and ErrMalformedResponse for bodies that do
// not match the expected shape.
func (s *UserService) GetRecentTracks(ctx context.Context, p RecentTracksParams) (*RecentTracks, error) {
	if p.User == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidParams)
	}
	if p.Page < 0 || p.Limit < 0 || p.Limit > MaxRecentTracksLimit {
		return nil, fmt.Errorf("%w: page %d, limit %d", ErrInvalidParams, p.Page, p.Limit)
	}

	params := url.Values{}
	params.Set("user", p.User)
	if p.Page > 0 {
		params.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		params.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.From > 0 {
		params.Set("from", strconv.FormatInt(p.From, 10))
	}
	if p.To > 0 {
		params.Set("to", strconv.FormatInt(p.To, 10))
	}

	var resp recentTracksResponse
	if err := s.client.get(ctx, "user.getrecenttracks", params, &resp); err != nil {
		return nil, err
	}

	return resp.RecentTracks.toRecentTracks(), nil
}

// GetInfo fetches a user's profile.
func (s *UserService) GetInfo(ctx context.Context, user string) (*UserInfo, error) {
	if user == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidParams)
	}

	params := url.Values{}
	params.Set("user", user)

	var resp userInfoResponse
	if err := s.client.get(ctx, "user.getinfo", params, &resp); err != nil {
		return nil, err
	}

	info := &UserInfo{
		Name:     resp.User.Name,
		RealName: resp.User.RealName,
		URL:      resp.User.URL,
	}
	info.PlayCount, _ = strconv.ParseInt(resp.User.PlayCount, 10, 64)
	info.Registered, _ = strconv.ParseInt(resp.User.Registered.Unixtime, 10, 64)

	return info, nil
}
