package lastfm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{APIKey: "key"}},
		{name: "with rate limit", cfg: Config{APIKey: "key", RateLimit: 5}},
		{name: "missing key", cfg: Config{}, wantErr: true},
		{name: "negative rate limit", cfg: Config{APIKey: "key", RateLimit: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if client.User() == nil {
				t.Error("User() returned nil")
			}
			if client.APIKey() != tt.cfg.APIKey {
				t.Errorf("APIKey() = %q, want %q", client.APIKey(), tt.cfg.APIKey)
			}
		})
	}
}

type recordingLogger struct {
	lines atomic.Int32
}

func (l *recordingLogger) Debugf(format string, args ...interface{}) {
	l.lines.Add(1)
}

func TestClient_Logger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(recentTracksPage))
	}))
	defer server.Close()

	logger := &recordingLogger{}
	client, err := NewClient(Config{APIKey: "key", BaseURL: server.URL, Logger: logger})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.User().GetRecentTracks(context.Background(), RecentTracksParams{User: "rj"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logger.lines.Load() == 0 {
		t.Error("expected debug output")
	}
}

func TestClient_RateLimitHonoursContext(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(recentTracksPage))
	}))
	defer server.Close()

	// One request per minute: the second call cannot get a token in time.
	client, err := NewClient(Config{APIKey: "key", BaseURL: server.URL, RateLimit: 1.0 / 60})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.User().GetRecentTracks(context.Background(), RecentTracksParams{User: "rj"}); err != nil {
		t.Fatalf("first call error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.User().GetRecentTracks(ctx, RecentTracksParams{User: "rj"}); err == nil {
		t.Fatal("second call should fail waiting for the limiter")
	}
	if calls.Load() != 1 {
		t.Errorf("server saw %d calls, want 1", calls.Load())
	}
}
