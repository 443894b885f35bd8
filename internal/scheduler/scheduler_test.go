package scheduler

import (
	"context"
	"testing"
	"time"

	"wordle/server/internal/words"
)

func mustDictionary(t *testing.T, list ...string) *words.Dictionary {
	t.Helper()
	dict, err := words.NewDictionary(list, nil)
	if err != nil {
		t.Fatalf("dictionary: %v", err)
	}
	return dict
}

func TestRotateAlwaysChangesWordAndIncrementsID(t *testing.T) {
	//1.- A deterministic picker that keeps proposing index 0 first.
	calls := 0
	pick := func(n int) int {
		calls++
		if calls%3 == 0 {
			return 1
		}
		return 0
	}
	s, err := New(mustDictionary(t, "crane", "slate"), time.Hour, 41, WithRand(pick))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	//2.- The first rotation resumes after the restored id.
	first := s.Rotate()
	if first.GameID != 42 || first.Word != "crane" {
		t.Fatalf("unexpected first rotation %+v", first)
	}
	second := s.Rotate()
	if second.GameID != 43 || second.Word != "slate" {
		t.Fatalf("expected a different word, got %+v", second)
	}
	if s.LastGameID() != 43 {
		t.Fatalf("unexpected last id %d", s.LastGameID())
	}
}

func TestRotateSingleWordList(t *testing.T) {
	s, err := New(mustDictionary(t, "crane"), time.Hour, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	a := s.Rotate()
	b := s.Rotate()
	if a.Word != "crane" || b.Word != "crane" || b.GameID != a.GameID+1 {
		t.Fatalf("unexpected rotations %+v %+v", a, b)
	}
}

func TestNextRotationUsesClock(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s, err := New(mustDictionary(t, "crane", "slate"), 10*time.Minute, 0, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	s.Rotate()
	if got := s.NextRotation(); !got.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("unexpected next rotation %v", got)
	}
	now = base.Add(4 * time.Minute)
	if got := s.UntilNext(); got != 6*time.Minute {
		t.Fatalf("unexpected remaining %v", got)
	}
	now = base.Add(time.Hour)
	if got := s.UntilNext(); got != 0 {
		t.Fatalf("expected clamp to zero, got %v", got)
	}
	if !s.IsValidWord("slate") || s.IsValidWord("zzzzz") {
		t.Fatal("unexpected dictionary lookups")
	}
}

func TestRunRotatesImmediatelyAndOnTicks(t *testing.T) {
	s, err := New(mustDictionary(t, "crane", "slate", "trace"), 20*time.Millisecond, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.LastGameID() < 3 {
		select {
		case <-deadline:
			t.Fatalf("scheduler stalled at game %d", s.LastGameID())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New(nil, time.Hour, 0); err == nil {
		t.Fatal("expected error without words")
	}
	if _, err := New(mustDictionary(t, "crane"), 0, 0); err == nil {
		t.Fatal("expected error for zero period")
	}
}
