package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Status is the daemon's view of the last sync, persisted so the status
// command can read it while the daemon runs.
type Status struct {
	User          string    `json:"user"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	Syncing       bool      `json:"syncing"`
	Session       string    `json:"session,omitempty"`
	Phase         string    `json:"phase,omitempty"`
	Text          string    `json:"text,omitempty"`
	Page          int       `json:"page,omitempty"`
	TotalPages    int       `json:"total_pages,omitempty"`
	LastSavedPage int       `json:"last_saved_page,omitempty"`

	LastSyncAt      time.Time     `json:"last_sync_at,omitempty"`
	LastSuccessAt   time.Time     `json:"last_success_at,omitempty"`
	LastMode        string        `json:"last_mode,omitempty"`
	LastRecords     int           `json:"last_records"`
	LastDuration    time.Duration `json:"last_duration"`
	LastError       string        `json:"last_error,omitempty"`
	HistoryComplete bool          `json:"history_complete"`
	NextSyncAt      time.Time     `json:"next_sync_at,omitempty"`
	StoppedAt       time.Time     `json:"stopped_at,omitempty"`
}

// Running reports whether the daemon that wrote the status is still up.
func (s Status) Running() bool {
	return !s.StartedAt.IsZero() && s.StoppedAt.IsZero()
}

// StatusFile holds the current Status and mirrors every change to disk.
type StatusFile struct {
	mu       sync.RWMutex
	current  Status
	filePath string // empty disables persistence
}

// NewStatusFile creates a StatusFile, restoring the previous status from
// filePath if present. A restore failure is returned alongside a usable
// empty StatusFile.
func NewStatusFile(filePath string) (*StatusFile, error) {
	s := &StatusFile{filePath: filePath}

	if filePath != "" {
		st, err := ReadStatus(filePath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return s, err
		}
		s.current = st
	}

	return s, nil
}

// ReadStatus reads a persisted status file.
func ReadStatus(filePath string) (Status, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Status{}, err
	}

	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		return Status{}, fmt.Errorf("failed to parse status file: %w", err)
	}
	return st, nil
}

// Get returns a copy of the current status.
func (s *StatusFile) Get() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Update applies fn to the status and persists the result.
func (s *StatusFile) Update(fn func(*Status)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn(&s.current)
	return s.persist()
}

// ApplySync folds a sync update into the status without persisting it;
// updates arrive per page and only the phase changes are written.
func (s *StatusFile) ApplySync(u SyncUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	phaseChanged := s.current.Phase != u.Phase.String()
	s.current.Syncing = u.Phase == PhaseFetching || u.Phase == PhaseSaving
	s.current.Session = u.Session
	s.current.Phase = u.Phase.String()
	s.current.Text = u.Text
	if u.Page > 0 {
		s.current.Page = u.Page
	}
	s.current.TotalPages = u.TotalPages
	s.current.LastSavedPage = u.LastSavedPage

	if !phaseChanged {
		return nil
	}
	return s.persist()
}

// persist writes the status atomically via temp file + rename.
// Must be called with lock held.
func (s *StatusFile) persist() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.current, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return err
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.filePath)
}
