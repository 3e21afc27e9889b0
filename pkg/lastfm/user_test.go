package lastfm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const recentTracksPage = `{
	"recenttracks": {
		"track": [
			{
				"artist": {"mbid": "", "#text": "Boards of Canada"},
				"name": "Roygbiv",
				"album": {"mbid": "", "#text": "Music Has the Right to Children"},
				"@attr": {"nowplaying": "true"}
			},
			{
				"artist": {"mbid": "", "#text": "Aphex Twin"},
				"name": "Xtal",
				"album": {"mbid": "", "#text": "Selected Ambient Works 85-92"},
				"date": {"uts": "1698055200", "#text": "23 Oct 2023, 10:00"}
			},
			{
				"artist": {"mbid": "", "#text": "Autechre"},
				"name": "Bike",
				"album": {"mbid": "", "#text": ""},
				"date": {"uts": "1698051600", "#text": "23 Oct 2023, 09:00"}
			}
		],
		"@attr": {"user": "rj", "totalPages": "12", "page": "2", "perPage": "200", "total": "2345"}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Config{
		APIKey:  "test-api-key",
		BaseURL: server.URL,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

// TestUserService_GetRecentTracks tests response handling of GetRecentTracks.
func TestUserService_GetRecentTracks(t *testing.T) {
	tests := []struct {
		name           string
		response       string
		statusCode     int
		wantErr        bool
		errContains    string
		wantStatus     int
		wantMalformed  bool
		wantTracks     int
		wantPage       int
		wantTotalPages int
	}{
		{
			name:           "success",
			response:       recentTracksPage,
			statusCode:     http.StatusOK,
			wantTracks:     3,
			wantPage:       2,
			wantTotalPages: 12,
		},
		{
			name: "single track as object",
			response: `{"recenttracks": {
				"track": {"artist": {"#text": "Aphex Twin"}, "name": "Xtal", "album": {"#text": ""}, "date": {"uts": "1698055200"}},
				"@attr": {"page": "1", "totalPages": "1", "perPage": "200", "total": "1"}
			}}`,
			statusCode:     http.StatusOK,
			wantTracks:     1,
			wantPage:       1,
			wantTotalPages: 1,
		},
		{
			name:           "empty history",
			response:       `{"recenttracks": {"track": [], "@attr": {"page": "1", "totalPages": "0", "perPage": "200", "total": "0"}}}`,
			statusCode:     http.StatusOK,
			wantTracks:     0,
			wantPage:       1,
			wantTotalPages: 0,
		},
		{
			name:        "api error in body",
			response:    `{"error": 6, "message": "User not found"}`,
			statusCode:  http.StatusOK,
			wantErr:     true,
			errContains: "Last.fm API Error: User not found",
		},
		{
			name:        "server error",
			response:    `{"error": 8, "message": "Operation failed - Most likely the backend service failed. Please try again."}`,
			statusCode:  http.StatusInternalServerError,
			wantErr:     true,
			wantStatus:  http.StatusInternalServerError,
			errContains: "Status 500",
		},
		{
			name:        "not found with html body",
			response:    `<html>nope</html>`,
			statusCode:  http.StatusNotFound,
			wantErr:     true,
			wantStatus:  http.StatusNotFound,
			errContains: "Network/API Error (Status 404)",
		},
		{
			name:          "invalid json",
			response:      `{"recenttracks": `,
			statusCode:    http.StatusOK,
			wantErr:       true,
			wantMalformed: true,
			errContains:   "Failed to parse JSON",
		},
		{
			name:          "missing recenttracks",
			response:      `{"something": {}}`,
			statusCode:    http.StatusOK,
			wantErr:       true,
			wantMalformed: true,
			errContains:   "Invalid JSON structure",
		},
		{
			name:          "missing attr",
			response:      `{"recenttracks": {"track": []}}`,
			statusCode:    http.StatusOK,
			wantErr:       true,
			wantMalformed: true,
		},
		{
			name:          "non-numeric page",
			response:      `{"recenttracks": {"track": [], "@attr": {"page": "two", "totalPages": "3"}}}`,
			statusCode:    http.StatusOK,
			wantErr:       true,
			wantMalformed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET request, got %s", r.Method)
				}
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.response))
			})

			page, err := client.User().GetRecentTracks(context.Background(), RecentTracksParams{User: "rj", Page: 2, Limit: 200})

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
				}
				if got := StatusCode(err); got != tt.wantStatus {
					t.Errorf("StatusCode() = %d, want %d", got, tt.wantStatus)
				}
				if tt.wantMalformed && !errors.Is(err, ErrMalformedResponse) {
					t.Errorf("expected ErrMalformedResponse, got %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(page.Tracks) != tt.wantTracks {
				t.Errorf("got %d tracks, want %d", len(page.Tracks), tt.wantTracks)
			}
			if page.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", page.Page, tt.wantPage)
			}
			if page.TotalPages != tt.wantTotalPages {
				t.Errorf("TotalPages = %d, want %d", page.TotalPages, tt.wantTotalPages)
			}
		})
	}
}

func TestUserService_GetRecentTracksFields(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(recentTracksPage))
	})

	page, err := client.User().GetRecentTracks(context.Background(), RecentTracksParams{User: "rj"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !page.Tracks[0].NowPlaying {
		t.Error("first track should be now playing")
	}
	if page.Tracks[0].Timestamp != 0 {
		t.Errorf("now playing timestamp = %d, want 0", page.Tracks[0].Timestamp)
	}

	got := page.Tracks[1]
	if got.Artist != "Aphex Twin" || got.Name != "Xtal" || got.Album != "Selected Ambient Works 85-92" {
		t.Errorf("unexpected track fields: %+v", got)
	}
	if got.Timestamp != 1698055200 {
		t.Errorf("Timestamp = %d, want 1698055200", got.Timestamp)
	}
	if got.NowPlaying {
		t.Error("second track should not be now playing")
	}
	if page.Total != 2345 || page.PerPage != 200 || page.User != "rj" {
		t.Errorf("unexpected page attributes: %+v", page)
	}
}

func TestUserService_GetRecentTracksQuery(t *testing.T) {
	tests := []struct {
		name     string
		params   RecentTracksParams
		wantFrom string
		wantPage string
	}{
		{
			name:     "full history",
			params:   RecentTracksParams{User: "rj", Page: 3, Limit: 200},
			wantFrom: "",
			wantPage: "3",
		},
		{
			name:     "incremental",
			params:   RecentTracksParams{User: "rj", Page: 1, Limit: 200, From: 1698055201},
			wantFrom: "1698055201",
			wantPage: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				expect := map[string]string{
					"method":  "user.getrecenttracks",
					"user":    "rj",
					"api_key": "test-api-key",
					"format":  "json",
					"limit":   "200",
					"page":    tt.wantPage,
				}
				for k, v := range expect {
					if got := q.Get(k); got != v {
						t.Errorf("query %s = %q, want %q", k, got, v)
					}
				}
				if _, ok := q["from"]; ok != (tt.wantFrom != "") {
					t.Errorf("from present = %v, want %v", ok, tt.wantFrom != "")
				}
				if got := q.Get("from"); got != tt.wantFrom {
					t.Errorf("from = %q, want %q", got, tt.wantFrom)
				}
				if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
					t.Errorf("User-Agent = %q, want %q", ua, DefaultUserAgent)
				}
				_, _ = w.Write([]byte(recentTracksPage))
			})

			if _, err := client.User().GetRecentTracks(context.Background(), tt.params); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestUserService_GetRecentTracksInvalidParams(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for invalid params")
	})

	for _, p := range []RecentTracksParams{
		{User: ""},
		{User: "rj", Limit: MaxRecentTracksLimit + 1},
		{User: "rj", Page: -1},
	} {
		if _, err := client.User().GetRecentTracks(context.Background(), p); !errors.Is(err, ErrInvalidParams) {
			t.Errorf("GetRecentTracks(%+v) error = %v, want ErrInvalidParams", p, err)
		}
	}
}

func TestUserService_GetRecentTracksNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := server.URL
	server.Close()

	client, err := NewClient(Config{APIKey: "k", BaseURL: baseURL})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.User().GetRecentTracks(context.Background(), RecentTracksParams{User: "rj"})
	if err == nil {
		t.Fatal("expected error for closed server")
	}
	if StatusCode(err) != 0 {
		t.Errorf("StatusCode() = %d, want 0 for a network failure", StatusCode(err))
	}
	if IsTransient(err) {
		t.Error("network failure should not be transient")
	}
}

func TestUserService_GetInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("method"); got != "user.getinfo" {
			t.Errorf("method = %q, want user.getinfo", got)
		}
		_, _ = w.Write([]byte(`{"user": {
			"name": "rj",
			"realname": "Richard Jones",
			"playcount": "150316",
			"url": "https://www.last.fm/user/RJ",
			"registered": {"unixtime": "1037793040", "#text": 1037793040}
		}}`))
	})

	info, err := client.User().GetInfo(context.Background(), "rj")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Name != "rj" || info.PlayCount != 150316 || info.Registered != 1037793040 {
		t.Errorf("unexpected info: %+v", info)
	}
}

func TestUserService_GetInfoUnknownUser(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": 6, "message": "User not found", "links": []}`))
	})

	_, err := client.User().GetInfo(context.Background(), "nobody")
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if apiErr.Code != ErrCodeInvalidParameters {
		t.Errorf("Code = %d, want %d", apiErr.Code, ErrCodeInvalidParameters)
	}
}
