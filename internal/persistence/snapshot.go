// Package persistence saves the account registry and the last game id to a
// JSON snapshot file and restores them at startup.
package persistence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"wordle/server/internal/logging"
	"wordle/server/internal/registry"
)

// ErrCorrupt marks a snapshot file that exists but cannot be decoded.
var ErrCorrupt = errors.New("persistence: corrupt snapshot")

// State is the persisted server state.
type State struct {
	LastGameID int64                      `json:"lastGameId"`
	Users      map[string]registry.Record `json:"users"`
}

// Records returns the accounts sorted as stored, with usernames taken from the
// map keys.
func (s State) Records() []registry.Record {
	out := make([]registry.Record, 0, len(s.Users))
	for name, rec := range s.Users {
		rec.Username = name
		out = append(out, rec)
	}
	return out
}

// NewState builds a State from registry records.
func NewState(lastGameID int64, records []registry.Record) State {
	users := make(map[string]registry.Record, len(records))
	for _, rec := range records {
		users[rec.Username] = rec
	}
	return State{LastGameID: lastGameID, Users: users}
}

// Load reads the snapshot at path. A missing file yields an empty state.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return State{Users: map[string]registry.Record{}}, nil
		}
		return State{}, fmt.Errorf("read snapshot: %w", err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if state.LastGameID < 0 {
		return State{}, fmt.Errorf("%w: negative lastGameId %d", ErrCorrupt, state.LastGameID)
	}
	if state.Users == nil {
		state.Users = map[string]registry.Record{}
	}
	return state, nil
}

// Source produces the state to persist. It is called from the snapshot
// goroutine and must be safe for concurrent use.
type Source func() State

type Option func(*Snapshotter)

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Snapshotter) {
		if logger != nil {
			s.log = logger
		}
	}
}

// WithClock overrides the time source used in log fields; used in tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Snapshotter) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Snapshotter writes the state returned by a Source on a fixed interval, on
// request, and once more on Close.
type Snapshotter struct {
	mu       sync.Mutex
	path     string
	interval time.Duration
	source   Source
	log      *logging.Logger
	now      func() time.Time

	last    []byte
	savedAt time.Time

	flushCh   chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

// NewSnapshotter starts the background flush loop.
func NewSnapshotter(path string, interval time.Duration, source Source, opts ...Option) (*Snapshotter, error) {
	if path == "" {
		return nil, errors.New("persistence: empty snapshot path")
	}
	if interval <= 0 {
		return nil, errors.New("persistence: interval must be positive")
	}
	if source == nil {
		return nil, errors.New("persistence: nil source")
	}
	s := &Snapshotter{
		path:     path,
		interval: interval,
		source:   source,
		log:      logging.L(),
		now:      time.Now,
		flushCh:  make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.log = s.log.With(logging.String("component", "persistence"), logging.String("path", path))
	go s.loop()
	return s, nil
}

func (s *Snapshotter) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.doneCh)
	for {
		select {
		case <-ticker.C:
			s.flush()
		case <-s.flushCh:
			s.flush()
		case <-s.stopCh:
			s.flush()
			return
		}
	}
}

// RequestFlush schedules an immediate write without waiting for it.
func (s *Snapshotter) RequestFlush() {
	select {
	case s.flushCh <- struct{}{}:
	default:
	}
}

// SavedAt reports when the snapshot was last written.
func (s *Snapshotter) SavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedAt
}

// Flush writes the current state now. Unchanged state is not rewritten.
func (s *Snapshotter) Flush() error {
	state := s.source()
	if state.Users == nil {
		state.Users = map[string]registry.Record{}
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last != nil && bytes.Equal(s.last, data) {
		return nil
	}
	if err := writeAtomic(s.path, data); err != nil {
		return err
	}
	s.last = data
	s.savedAt = s.now()
	s.log.Debug("snapshot written", logging.Int("users", len(state.Users)), logging.Int64("last_game_id", state.LastGameID))
	return nil
}

// writeAtomic replaces path so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

func (s *Snapshotter) flush() {
	if err := s.Flush(); err != nil {
		s.log.Error("failed to persist snapshot", logging.Error(err))
	}
}

// Close stops the loop after a final flush. Later calls are no-ops.
func (s *Snapshotter) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}
