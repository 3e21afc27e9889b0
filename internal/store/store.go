// Package store persists scrobbles as one JSON file per user per week.
//
// Files live at <basePath>/<username>/<weekStartEpochSeconds>.json and hold
// a JSON array sorted ascending by timestamp with unique timestamps. Writes
// go through a temp file and an atomic rename so a reader never observes a
// half-written shard.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jfmyers9/scrollback/internal/metrics"
	"github.com/jfmyers9/scrollback/internal/scrobble"
	"github.com/rs/zerolog"
)

const shardExt = ".json"

var (
	// ErrEmptyUser is returned when an operation is given an empty username.
	ErrEmptyUser = errors.New("username cannot be empty")

	// ErrInvalidUser is returned for usernames that cannot be used as a
	// directory name.
	ErrInvalidUser = errors.New("invalid username")
)

// ShardError describes a failure on a single shard file.
type ShardError struct {
	Path string
	Err  error
}

func (e ShardError) Error() string {
	return fmt.Sprintf("%s: %v", filepath.Base(e.Path), e.Err)
}

func (e ShardError) Unwrap() error {
	return e.Err
}

// SaveError aggregates the per-shard failures of one Save call. Shards not
// listed were written (or needed no write).
type SaveError struct {
	User     string
	Failures []ShardError
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("failed to save %d shard(s) for %s: %s", len(e.Failures), e.User, joinFailures(e.Failures))
}

func (e *SaveError) Unwrap() []error {
	return unwrapFailures(e.Failures)
}

// LoadError lists shards that were skipped by a load because they could not
// be read or parsed. It accompanies the records that did load.
type LoadError struct {
	User     string
	Failures []ShardError
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("skipped %d shard(s) for %s: %s", len(e.Failures), e.User, joinFailures(e.Failures))
}

func (e *LoadError) Unwrap() []error {
	return unwrapFailures(e.Failures)
}

// Store is the weekly-sharded scrobble store.
type Store struct {
	basePath string
	logger   zerolog.Logger
	now      func() time.Time
}

// New creates a store rooted at basePath, creating the directory if needed.
func New(basePath string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &Store{
		basePath: basePath,
		logger:   logger.With().Str("component", "store").Logger(),
		now:      time.Now,
	}, nil
}

// BasePath returns the root directory of the store.
func (s *Store) BasePath() string {
	return s.basePath
}

// Save merges records into their weekly shards.
//
// Records whose timestamp already exists in the shard are ignored, which
// makes saving the same batch twice a no-op. A failing shard does not stop
// the others; all failures are returned together as a *SaveError.
func (s *Store) Save(user string, records []scrobble.Record) error {
	if err := checkUser(user); err != nil {
		return err
	}

	valid := make([]scrobble.Record, 0, len(records))
	for _, r := range records {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	userDir := s.userDir(user)
	if err := os.MkdirAll(userDir, 0755); err != nil {
		return fmt.Errorf("failed to create user directory: %w", err)
	}

	// Group by target shard
	byWeek := make(map[int64][]scrobble.Record)
	for _, r := range valid {
		ws := scrobble.WeekStart(r.Timestamp).Unix()
		byWeek[ws] = append(byWeek[ws], r)
	}

	weeks := make([]int64, 0, len(byWeek))
	for ws := range byWeek {
		weeks = append(weeks, ws)
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i] < weeks[j] })

	var failures []ShardError
	for _, ws := range weeks {
		path := shardPath(userDir, ws)
		added, err := s.mergeShard(path, byWeek[ws])
		if err != nil {
			s.logger.Error().Err(err).Str("shard", filepath.Base(path)).Msg("Failed to save shard")
			metrics.ShardWrites.WithLabelValues("error").Inc()
			failures = append(failures, ShardError{Path: path, Err: err})
			continue
		}
		if added == 0 {
			metrics.ShardWrites.WithLabelValues("skipped").Inc()
			continue
		}
		metrics.ShardWrites.WithLabelValues("written").Inc()
		metrics.RecordsStored.Add(float64(added))
	}

	if len(failures) > 0 {
		return &SaveError{User: user, Failures: failures}
	}
	return nil
}

// mergeShard adds the records with unseen timestamps to a shard and returns
// how many were added.
func (s *Store) mergeShard(path string, incoming []scrobble.Record) (int, error) {
	existing, err := readShard(path)
	corruptErr := err
	if errors.Is(err, ErrCorruptShard) {
		existing = nil
	} else if err != nil {
		return 0, fmt.Errorf("failed to read shard: %w", err)
	}

	seen := make(map[int64]struct{}, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Unix()] = struct{}{}
	}

	merged := existing
	added := 0
	for _, r := range incoming {
		if !r.Valid() {
			continue
		}
		ts := r.Unix()
		if _, ok := seen[ts]; ok {
			continue
		}
		seen[ts] = struct{}{}
		r.Timestamp = r.Timestamp.UTC()
		merged = append(merged, r)
		added++
	}

	if added == 0 {
		s.logger.Debug().Str("shard", filepath.Base(path)).Msg("No new records for shard, skipping write")
		return 0, nil
	}

	if corruptErr != nil {
		s.logger.Warn().
			Err(corruptErr).
			Str("shard", filepath.Base(path)).
			Msg("Shard is corrupt, existing data discarded")
	}
	s.removeStaleTemps(path)

	scrobble.SortByTime(merged)

	data, err := EncodeWeek(merged)
	if err != nil {
		return 0, err
	}
	if err := writeFileAtomic(path, data); err != nil {
		return 0, err
	}

	s.logger.Debug().
		Str("shard", filepath.Base(path)).
		Int("added", added).
		Int("total", len(merged)).
		Msg("Shard written")

	return added, nil
}

// LoadRange returns the records in [from, to) sorted ascending.
//
// Unreadable or corrupt shards are skipped; when that happens the returned
// error is a *LoadError and the records slice still holds everything that
// could be read.
func (s *Store) LoadRange(user string, from, to time.Time) ([]scrobble.Record, error) {
	if err := checkUser(user); err != nil {
		return nil, err
	}

	shards, err := s.listShards(user)
	if err != nil {
		return nil, err
	}

	var records []scrobble.Record
	var failures []ShardError
	for _, sh := range shards {
		weekStart := time.Unix(sh.weekStart, 0).UTC()
		weekEnd := weekStart.Add(scrobble.Week)
		if !weekEnd.After(from) || !weekStart.Before(to) {
			continue
		}

		shardRecords, err := readShard(sh.path)
		if err != nil {
			failures = append(failures, ShardError{Path: sh.path, Err: err})
			continue
		}

		for _, r := range shardRecords {
			if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
				records = append(records, r)
			}
		}
	}

	scrobble.SortByTime(records)

	if len(failures) > 0 {
		s.logger.Warn().Int("skipped", len(failures)).Str("user", user).Msg("Some shards could not be loaded")
		return records, &LoadError{User: user, Failures: failures}
	}
	return records, nil
}

// LoadAll returns every stored record for the user.
func (s *Store) LoadAll(user string) ([]scrobble.Record, error) {
	return s.LoadRange(user, time.Unix(0, 0).UTC(), s.now().UTC().AddDate(10, 0, 0))
}

// FindLastTimestamp returns the newest stored timestamp for the user, or 0.
//
// Shards are visited newest first and the scan stops at the first
// non-empty, parseable shard.
func (s *Store) FindLastTimestamp(user string) int64 {
	if checkUser(user) != nil {
		return 0
	}

	shards, err := s.listShards(user)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", user).Msg("Failed to list shards")
		return 0
	}

	for i := len(shards) - 1; i >= 0; i-- {
		records, err := readShard(shards[i].path)
		if err != nil || len(records) == 0 {
			continue
		}
		var last int64
		for _, r := range records {
			if ts := r.Unix(); ts > last {
				last = ts
			}
		}
		if last > 0 {
			return last
		}
	}

	return 0
}

// Users lists the usernames that have a directory in the store.
func (s *Store) Users() ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read store directory: %w", err)
	}

	var users []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			users = append(users, e.Name())
		}
	}
	return users, nil
}

// ShardCount returns the number of shard files for the user.
func (s *Store) ShardCount(user string) (int, error) {
	if err := checkUser(user); err != nil {
		return 0, err
	}
	shards, err := s.listShards(user)
	if err != nil {
		return 0, err
	}
	return len(shards), nil
}

// DeleteUser removes every shard of the user.
func (s *Store) DeleteUser(user string) error {
	if err := checkUser(user); err != nil {
		return err
	}
	if err := os.RemoveAll(s.userDir(user)); err != nil {
		return fmt.Errorf("failed to delete user data: %w", err)
	}
	return nil
}

type shardFile struct {
	weekStart int64
	path      string
}

// listShards returns the user's shard files sorted ascending by week start.
// A missing user directory yields no shards.
func (s *Store) listShards(user string) ([]shardFile, error) {
	dir := s.userDir(user)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list shards: %w", err)
	}

	shards := make([]shardFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, shardExt) {
			continue
		}
		ws, err := strconv.ParseInt(strings.TrimSuffix(name, shardExt), 10, 64)
		if err != nil {
			continue
		}
		shards = append(shards, shardFile{weekStart: ws, path: filepath.Join(dir, name)})
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].weekStart < shards[j].weekStart })
	return shards, nil
}

func (s *Store) userDir(user string) string {
	return filepath.Join(s.basePath, user)
}

func shardPath(userDir string, weekStart int64) string {
	return filepath.Join(userDir, strconv.FormatInt(weekStart, 10)+shardExt)
}

// readShard reads and decodes a shard. A missing file is an empty shard.
func readShard(path string) ([]scrobble.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return DecodeWeek(data)
}

// tempPattern matches the temp files writeFileAtomic creates for path.
func tempPattern(path string) string {
	return "." + filepath.Base(path) + ".tmp-*"
}

// removeStaleTemps deletes temp files a crashed write left next to path.
// Only the save queue writes shards, so none of them can be in use.
func (s *Store) removeStaleTemps(path string) {
	stale, err := filepath.Glob(filepath.Join(filepath.Dir(path), tempPattern(path)))
	if err != nil {
		return
	}
	for _, tmp := range stale {
		if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("file", filepath.Base(tmp)).Msg("Failed to remove stale temp file")
			continue
		}
		s.logger.Info().Str("file", filepath.Base(tmp)).Msg("Removed stale temp file")
	}
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPattern(path))
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set shard permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to commit shard: %w", err)
	}
	return nil
}

func checkUser(user string) error {
	if user == "" {
		return ErrEmptyUser
	}
	if user == "." || user == ".." || strings.ContainsAny(user, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return nil
}

func joinFailures(failures []ShardError) string {
	parts := make([]string, len(failures))
	for i, f := range failures {
		parts[i] = f.Error()
	}
	return strings.Join(parts, "; ")
}

func unwrapFailures(failures []ShardError) []error {
	errs := make([]error, len(failures))
	for i, f := range failures {
		errs[i] = f
	}
	return errs
}
