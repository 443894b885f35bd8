package persistence

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"wordle/server/internal/game"
	"wordle/server/internal/logging"
	"wordle/server/internal/registry"
)

func sampleState() State {
	stats := game.Stats{}
	stats.RecordWin(3)
	return NewState(7, []registry.Record{
		{Username: "alice", Password: "hunter2", Stats: stats, LastGame: &game.Descriptor{GameID: 7, TriesUsed: 3, MaxTries: game.MaxTries, WordLen: 5}},
		{Username: "bob", Password: "swordfish"},
	})
}

func TestLoadMissingFileReturnsEmptyState(t *testing.T) {
	state, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.LastGameID != 0 || len(state.Users) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestLoadCorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected corrupt snapshot error, got %v", err)
	}
}

func TestFlushRoundTripsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "server_state.json")
	want := sampleState()
	snap, err := NewSnapshotter(path, time.Hour, func() State { return want }, WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	defer snap.Close()

	if err := snap.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	//1.- The file uses the documented top-level keys.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := keys["lastGameId"]; !ok {
		t.Fatalf("missing lastGameId in %s", raw)
	}
	if _, ok := keys["users"]; !ok {
		t.Fatalf("missing users in %s", raw)
	}

	//2.- Loading restores the same accounts.
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.LastGameID != 7 || len(got.Users) != 2 {
		t.Fatalf("unexpected state %+v", got)
	}
	alice := got.Users["alice"]
	if alice.Stats.WonGames != 1 || alice.LastGame == nil || alice.LastGame.TriesUsed != 3 {
		t.Fatalf("alice not restored: %+v", alice)
	}
	for _, rec := range got.Records() {
		if rec.Username == "" {
			t.Fatal("records must carry usernames")
		}
	}
}

func TestCloseWritesFinalSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	var calls atomic.Int32
	snap, err := NewSnapshotter(path, time.Hour, func() State {
		calls.Add(1)
		return sampleState()
	}, WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	if err := snap.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := snap.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one final flush, got %d", calls.Load())
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot on disk: %v", err)
	}
}

func TestRequestFlushWritesInBackground(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	saved := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	snap, err := NewSnapshotter(path, time.Hour, sampleState,
		WithLogger(logging.NewTestLogger()),
		WithClock(func() time.Time { return saved }),
	)
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	defer snap.Close()

	snap.RequestFlush()
	deadline := time.Now().Add(2 * time.Second)
	for snap.SavedAt().IsZero() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if !snap.SavedAt().Equal(saved) {
		t.Fatalf("expected requested flush, saved at %v", snap.SavedAt())
	}
}

func TestFlushSkipsUnchangedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server_state.json")
	snap, err := NewSnapshotter(path, time.Hour, sampleState, WithLogger(logging.NewTestLogger()))
	if err != nil {
		t.Fatalf("new snapshotter: %v", err)
	}
	defer snap.Close()

	if err := snap.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := snap.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("unchanged state should not be rewritten, stat err %v", err)
	}
}

func TestNewSnapshotterRejectsBadInput(t *testing.T) {
	if _, err := NewSnapshotter("", time.Second, sampleState); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewSnapshotter("x.json", 0, sampleState); err == nil {
		t.Fatal("expected error for zero interval")
	}
	if _, err := NewSnapshotter("x.json", time.Second, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}
