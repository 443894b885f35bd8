// Package session implements the per-connection protocol state machine.
// A Session is not safe for concurrent use; the server drives every session
// from a single loop goroutine.
package session

import (
	"errors"
	"time"

	"github.com/samber/lo"

	"wordle/server/internal/game"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
	"wordle/server/internal/registry"
	"wordle/server/internal/scheduler"
)

// State is the protocol state of a connection.
type State int

const (
	Anonymous State = iota
	LoggedIn
	Playing
)

func (s State) String() string {
	switch s {
	case LoggedIn:
		return "logged_in"
	case Playing:
		return "playing"
	default:
		return "anonymous"
	}
}

// Accounts hands out exclusive account leases.
type Accounts interface {
	Acquire(username, password string) (*registry.Lease, error)
}

// Ranking is the leaderboard as seen by sessions.
type Ranking interface {
	Update(username string, score float64) leaderboard.Change
	Top(k int) []leaderboard.Entry
	All() []leaderboard.Entry
}

// Words exposes the active secret and the guess dictionary.
type Words interface {
	Current() scheduler.Current
	IsValidWord(word string) bool
	UntilNext() time.Duration
}

// Notifier receives leaderboard changes and share requests.
type Notifier interface {
	NotifyLeaderboardChange()
	ShareGame(username string, desc game.Descriptor)
}

// Deps are the shared collaborators every session uses.
type Deps struct {
	Accounts Accounts
	Ranking  Ranking
	Words    Words
	Notifier Notifier
	// TopBand is the rank threshold below which changes are pushed.
	TopBand int
}

// Reply is the outcome of one handled frame. When Translate is set the
// caller appends the translation of that word to Payload before sending.
type Reply struct {
	Payload   []byte
	Translate string
}

// Session binds one connection to at most one account.
type Session struct {
	deps   *Deps
	logger *logging.Logger
	state  State
	lease  *registry.Lease
}

// New returns an anonymous session.
func New(deps *Deps, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.L()
	}
	return &Session{deps: deps, logger: logger}
}

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Username returns the bound account name, or "" when anonymous.
func (s *Session) Username() string {
	if s.lease == nil {
		return ""
	}
	return s.lease.Username()
}

// Handle processes one complete frame. A non-nil error means the frame was
// malformed and the connection must be closed.
func (s *Session) Handle(frame []byte) (Reply, error) {
	req, err := protocol.ParseRequest(frame)
	if err != nil {
		return Reply{}, err
	}
	if !s.allowed(req.Action) {
		s.logger.Info("action not allowed", logging.String("action", req.Action.String()), logging.String("state", s.state.String()))
		return status(protocol.StatusActionUnauthorized), nil
	}

	switch req.Action {
	case protocol.ActionLogin:
		return s.login(req.Body)
	case protocol.ActionLogout:
		return s.logout(), nil
	case protocol.ActionPlay:
		return s.play(), nil
	case protocol.ActionSendWord:
		return s.sendWord(req.Body), nil
	case protocol.ActionStats:
		return s.stats(), nil
	case protocol.ActionTopLeaderboard:
		return s.leaderboard(s.deps.Ranking.Top(protocol.DecodeTopK(req.Body))), nil
	case protocol.ActionFullLeaderboard:
		return s.leaderboard(s.deps.Ranking.All()), nil
	case protocol.ActionShare:
		return s.share(), nil
	}
	return status(protocol.StatusActionUnauthorized), nil
}

func (s *Session) allowed(action protocol.Action) bool {
	switch s.state {
	case Anonymous:
		return action == protocol.ActionLogin
	case LoggedIn:
		switch action {
		case protocol.ActionLogout, protocol.ActionPlay, protocol.ActionStats,
			protocol.ActionTopLeaderboard, protocol.ActionFullLeaderboard, protocol.ActionShare:
			return true
		}
	case Playing:
		switch action {
		case protocol.ActionSendWord, protocol.ActionLogout, protocol.ActionStats,
			protocol.ActionTopLeaderboard, protocol.ActionFullLeaderboard:
			return true
		}
	}
	return false
}

func (s *Session) login(body []byte) (Reply, error) {
	username, password, err := protocol.DecodeLogin(body)
	if err != nil {
		return Reply{}, err
	}
	lease, err := s.deps.Accounts.Acquire(username, password)
	switch {
	case errors.Is(err, registry.ErrInvalidUser):
		s.logger.Info("login rejected", logging.String("username", username))
		return status(protocol.StatusInvalidUser), nil
	case errors.Is(err, registry.ErrAlreadyLogged):
		s.logger.Info("login rejected, already logged in", logging.String("username", username))
		return status(protocol.StatusAlreadyLogged), nil
	case err != nil:
		s.logger.Error("login failed", logging.String("username", username), logging.Error(err))
		return status(protocol.StatusGenericError), nil
	}

	s.lease = lease
	s.state = LoggedIn
	s.logger = s.logger.With(logging.String("username", username))
	s.logger.Info("user logged in")
	return status(protocol.StatusSuccess), nil
}

func (s *Session) logout() Reply {
	s.Close()
	return status(protocol.StatusSuccess)
}

func (s *Session) play() Reply {
	cur := s.deps.Words.Current()
	if cur.GameID == 0 {
		s.logger.Warn("play requested before the first secret word")
		return status(protocol.StatusGenericError)
	}
	round := s.lease.Round()
	if round.GameID == cur.GameID {
		return Reply{Payload: protocol.EncodeWait(protocol.StatusAlreadyPlayed, s.deps.Words.UntilNext().Milliseconds())}
	}
	round.Start(cur.GameID, cur.Word)
	s.state = Playing
	s.logger.Info("game started", logging.Int64("game_id", cur.GameID))
	return Reply{Payload: protocol.EncodePlay(len(cur.Word), round.TriesLeft)}
}

func (s *Session) sendWord(body []byte) Reply {
	round := s.lease.Round()

	//1.- A round with no tries left is over.
	if round.TriesLeft == 0 {
		s.state = LoggedIn
		return Reply{Payload: protocol.EncodeWait(protocol.StatusNoTriesLeft, s.deps.Words.UntilNext().Milliseconds())}
	}

	//2.- Unknown words do not cost a try.
	guess := string(body)
	if len(body) > protocol.MaxWordBytes || !s.deps.Words.IsValidWord(guess) {
		return Reply{Payload: protocol.EncodeInvalidWord(round.TriesLeft)}
	}

	//3.- Spend the try and settle the round if it ended.
	hint, won := round.Guess(guess)
	s.logger.Debug("guess", logging.String("guess", guess), logging.Int("tries_left", round.TriesLeft))
	if won {
		s.state = LoggedIn
		s.commit(true)
		return Reply{Payload: protocol.EncodeGameWon(round.TriesUsed()), Translate: round.Secret}
	}
	if round.TriesLeft == 0 {
		s.state = LoggedIn
		s.commit(false)
		return Reply{Payload: protocol.EncodeGuess(0, hint, round.Secret), Translate: round.Secret}
	}
	return Reply{Payload: protocol.EncodeGuess(round.TriesLeft, hint, "")}
}

func (s *Session) stats() Reply {
	stats := s.lease.Stats()
	return Reply{Payload: protocol.EncodeStats(protocol.StatsReply{Stats: stats, Score: stats.Score()})}
}

func (s *Session) leaderboard(entries []leaderboard.Entry) Reply {
	rows := lo.Map(entries, func(e leaderboard.Entry, _ int) protocol.Standing {
		return protocol.Standing{Username: e.Username, Score: e.Score}
	})
	return Reply{Payload: protocol.EncodeLeaderboard(rows)}
}

func (s *Session) share() Reply {
	desc, ok := s.lease.LastGame()
	if !ok {
		return status(protocol.StatusNoGame)
	}
	s.deps.Notifier.ShareGame(s.lease.Username(), desc)
	return status(protocol.StatusSuccess)
}

// commit records the end of the current round and pushes the new score.
func (s *Session) commit(won bool) {
	var stats game.Stats
	if won {
		stats = s.lease.CommitWin()
	} else {
		stats = s.lease.CommitLoss()
	}
	score := stats.Score()
	change := s.deps.Ranking.Update(s.lease.Username(), score)
	s.logger.Info("game finished",
		logging.Bool("won", won),
		logging.Int64("game_id", s.lease.Round().GameID),
		logging.Float64("score", score),
		logging.Int("rank", change.NewRank),
	)
	if change.Within(s.deps.TopBand) {
		s.deps.Notifier.NotifyLeaderboardChange()
	}
}

// Close ends the session. An unfinished round is scored as a loss and the
// account lease is released. Close is idempotent.
func (s *Session) Close() {
	if s.lease == nil {
		s.state = Anonymous
		return
	}
	if s.state == Playing {
		s.commit(false)
	}
	s.lease.Release()
	s.logger.Info("user logged out")
	s.lease = nil
	s.state = Anonymous
}

func status(code protocol.Status) Reply {
	return Reply{Payload: protocol.EncodeStatus(code)}
}
