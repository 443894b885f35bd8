// Package scheduler rotates the shared secret word on a fixed period.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"wordle/server/internal/logging"
)

// Current is the active secret and the game it belongs to.
type Current struct {
	Word        string
	GameID      int64
	ActivatedAt time.Time
}

// Words is the candidate source the scheduler draws from.
type Words interface {
	Len() int
	At(i int) string
	Contains(word string) bool
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRand overrides the random index source. pick must return a value in [0, n).
func WithRand(pick func(n int) int) Option {
	return func(s *Scheduler) {
		if pick != nil {
			s.pick = pick
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Scheduler publishes the current secret through an atomic pointer so the
// hot read path never takes a lock.
type Scheduler struct {
	words    Words
	period   time.Duration
	now      func() time.Time
	pick     func(n int) int
	logger   *logging.Logger
	current  atomic.Pointer[Current]
	lastGame atomic.Int64
}

// New returns a scheduler that resumes numbering after lastGameID.
func New(words Words, period time.Duration, lastGameID int64, opts ...Option) (*Scheduler, error) {
	if words == nil || words.Len() == 0 {
		return nil, errors.New("scheduler: no candidate words")
	}
	if period <= 0 {
		return nil, errors.New("scheduler: period must be positive")
	}
	s := &Scheduler{
		words:  words,
		period: period,
		now:    time.Now,
		pick:   rand.IntN,
		logger: logging.L(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.String("component", "scheduler"))
	s.lastGame.Store(lastGameID)
	return s, nil
}

// Rotate activates a new secret different from the current one, unless the
// list holds a single word.
func (s *Scheduler) Rotate() Current {
	prev := s.current.Load()
	word := s.words.At(s.pick(s.words.Len()))
	for prev != nil && word == prev.Word && s.words.Len() > 1 {
		word = s.words.At(s.pick(s.words.Len()))
	}
	next := &Current{
		Word:        word,
		GameID:      s.lastGame.Add(1),
		ActivatedAt: s.now(),
	}
	s.current.Store(next)
	s.logger.Info("secret word rotated", logging.Int64("game_id", next.GameID))
	s.logger.Debug("secret word", logging.String("word", word))
	return *next
}

// Current returns the active secret. Before the first rotation it returns
// the zero value.
func (s *Scheduler) Current() Current {
	if cur := s.current.Load(); cur != nil {
		return *cur
	}
	return Current{}
}

// LastGameID returns the most recently issued game id.
func (s *Scheduler) LastGameID() int64 { return s.lastGame.Load() }

// IsValidWord reports whether word is an accepted guess.
func (s *Scheduler) IsValidWord(word string) bool { return s.words.Contains(word) }

// NextRotation is when the active word expires.
func (s *Scheduler) NextRotation() time.Time {
	return s.Current().ActivatedAt.Add(s.period)
}

// UntilNext is the time left before the active word expires.
func (s *Scheduler) UntilNext() time.Duration {
	left := s.NextRotation().Sub(s.now())
	if left < 0 {
		return 0
	}
	return left
}

// Run rotates immediately and then once per period until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if s.current.Load() == nil {
		s.Rotate()
	}
	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rotate()
		}
	}
}
