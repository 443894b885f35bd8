package session

import (
	"testing"
	"time"

	"wordle/server/internal/game"
	"wordle/server/internal/leaderboard"
	"wordle/server/internal/logging"
	"wordle/server/internal/protocol"
	"wordle/server/internal/registry"
	"wordle/server/internal/scheduler"
)

type stubWords struct {
	current scheduler.Current
	valid   map[string]bool
	wait    time.Duration
}

func (w *stubWords) Current() scheduler.Current   { return w.current }
func (w *stubWords) IsValidWord(word string) bool { return w.valid[word] }
func (w *stubWords) UntilNext() time.Duration     { return w.wait }

type stubNotifier struct {
	pushes int
	shared []game.Descriptor
}

func (n *stubNotifier) NotifyLeaderboardChange() { n.pushes++ }
func (n *stubNotifier) ShareGame(_ string, desc game.Descriptor) {
	n.shared = append(n.shared, desc)
}

type fixture struct {
	reg      *registry.Registry
	board    *leaderboard.Board
	words    *stubWords
	notifier *stubNotifier
	deps     *Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New()
	for _, name := range []string{"alice", "bob"} {
		if err := reg.Register(name, "hunter2"); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	f := &fixture{
		reg:   reg,
		board: leaderboard.New(),
		words: &stubWords{
			current: scheduler.Current{Word: "CRANE", GameID: 1},
			valid:   map[string]bool{"CRANE": true, "RANCE": true, "SLATE": true},
			wait:    90 * time.Second,
		},
		notifier: &stubNotifier{},
	}
	f.deps = &Deps{Accounts: reg, Ranking: f.board, Words: f.words, Notifier: f.notifier, TopBand: 3}
	return f
}

func (f *fixture) session() *Session {
	return New(f.deps, logging.NewTestLogger())
}

func send(t *testing.T, s *Session, action protocol.Action, body []byte) (protocol.Response, Reply) {
	t.Helper()
	reply, err := s.Handle(protocol.EncodeRequest(action, body))
	if err != nil {
		t.Fatalf("%s: unexpected error %v", action, err)
	}
	resp, err := protocol.ParseResponse(reply.Payload)
	if err != nil {
		t.Fatalf("%s: bad response %v", action, err)
	}
	return resp, reply
}

func login(t *testing.T, s *Session, user string) protocol.Status {
	t.Helper()
	body, err := protocol.EncodeLogin(user, "hunter2")
	if err != nil {
		t.Fatalf("encode login: %v", err)
	}
	resp, _ := send(t, s, protocol.ActionLogin, body)
	return resp.Status
}

func TestAnonymousOnlyAllowsLogin(t *testing.T) {
	s := newFixture(t).session()
	for _, action := range []protocol.Action{protocol.ActionPlay, protocol.ActionStats, protocol.ActionLogout, protocol.Action(42)} {
		if resp, _ := send(t, s, action, nil); resp.Status != protocol.StatusActionUnauthorized {
			t.Fatalf("%s: expected unauthorized, got %s", action, resp.Status)
		}
	}
	if s.State() != Anonymous {
		t.Fatalf("state changed to %s", s.State())
	}
}

func TestMalformedFramesReturnErrors(t *testing.T) {
	s := newFixture(t).session()
	if _, err := s.Handle(nil); err == nil {
		t.Fatal("expected error for empty frame")
	}
	if _, err := s.Handle([]byte{byte(protocol.ActionLogin), 5, 5, 'a'}); err == nil {
		t.Fatal("expected error for truncated login")
	}
}

func TestLoginRejections(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	body, _ := protocol.EncodeLogin("alice", "wrong")
	if resp, _ := send(t, s, protocol.ActionLogin, body); resp.Status != protocol.StatusInvalidUser {
		t.Fatalf("expected invalid user, got %s", resp.Status)
	}

	first := f.session()
	second := f.session()
	if got := login(t, first, "alice"); got != protocol.StatusSuccess {
		t.Fatalf("first login: %s", got)
	}
	if got := login(t, second, "alice"); got != protocol.StatusAlreadyLogged {
		t.Fatalf("expected already logged, got %s", got)
	}
	if resp, _ := send(t, first, protocol.ActionLogout, nil); resp.Status != protocol.StatusSuccess {
		t.Fatalf("logout: %s", resp.Status)
	}
	if got := login(t, second, "alice"); got != protocol.StatusSuccess {
		t.Fatalf("retry after logout: %s", got)
	}
}

func TestPlayTwiceReturnsAlreadyPlayed(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "alice")

	resp, _ := send(t, s, protocol.ActionPlay, nil)
	if resp.Status != protocol.StatusSuccess {
		t.Fatalf("play: %s", resp.Status)
	}
	wordLen, tries, err := protocol.DecodePlay(resp.Body)
	if err != nil || wordLen != 5 || tries != game.MaxTries {
		t.Fatalf("unexpected play body %d %d %v", wordLen, tries, err)
	}

	// Win quickly, then try again before rotation.
	if resp, _ := send(t, s, protocol.ActionSendWord, []byte("CRANE")); resp.Status != protocol.StatusGameWon {
		t.Fatalf("expected win, got %s", resp.Status)
	}
	resp, _ = send(t, s, protocol.ActionPlay, nil)
	if resp.Status != protocol.StatusAlreadyPlayed {
		t.Fatalf("expected already played, got %s", resp.Status)
	}
	wait, err := protocol.DecodeWait(resp.Body)
	if err != nil || wait <= 0 {
		t.Fatalf("expected positive wait, got %d %v", wait, err)
	}
}

func TestWinCommitsStatsAndRequestsTranslation(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "alice")
	send(t, s, protocol.ActionPlay, nil)

	resp, _ := send(t, s, protocol.ActionSendWord, []byte("NOPE"))
	if resp.Status != protocol.StatusInvalidWord || resp.Body[0] != game.MaxTries {
		t.Fatalf("expected invalid word with all tries left, got %s %v", resp.Status, resp.Body)
	}

	resp, _ = send(t, s, protocol.ActionSendWord, []byte("RANCE"))
	reply, err := protocol.DecodeGuess(resp.Body)
	if err != nil || reply.TriesLeft != game.MaxTries-1 || reply.Secret != "" {
		t.Fatalf("unexpected guess reply %+v %v", reply, err)
	}

	resp, raw := send(t, s, protocol.ActionSendWord, []byte("CRANE"))
	if resp.Status != protocol.StatusGameWon || raw.Translate != "CRANE" {
		t.Fatalf("unexpected win reply %s %+v", resp.Status, raw)
	}
	tries, _, _ := protocol.DecodeGameWon(resp.Body)
	if tries != 2 {
		t.Fatalf("expected 2 tries used, got %d", tries)
	}
	if s.State() != LoggedIn {
		t.Fatalf("expected logged in after win, got %s", s.State())
	}
	if f.board.Rank("alice") != 0 || f.notifier.pushes != 1 {
		t.Fatalf("leaderboard not updated rank=%d pushes=%d", f.board.Rank("alice"), f.notifier.pushes)
	}

	resp, _ = send(t, s, protocol.ActionStats, nil)
	stats, err := protocol.DecodeStats(resp.Body)
	if err != nil || stats.Stats.WonGames != 1 || stats.Stats.Distribution[1] != 1 || stats.Score != 2 {
		t.Fatalf("unexpected stats %+v %v", stats, err)
	}

	if resp, _ := send(t, s, protocol.ActionShare, nil); resp.Status != protocol.StatusSuccess {
		t.Fatalf("share: %s", resp.Status)
	}
	if len(f.notifier.shared) != 1 || f.notifier.shared[0].TriesUsed != 2 {
		t.Fatalf("unexpected shared games %+v", f.notifier.shared)
	}
}

func TestLossAfterMaxTriesRevealsSecret(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "alice")
	send(t, s, protocol.ActionPlay, nil)

	var last protocol.Response
	var lastReply Reply
	for i := 0; i < game.MaxTries; i++ {
		last, lastReply = send(t, s, protocol.ActionSendWord, []byte("SLATE"))
	}
	if last.Status != protocol.StatusSuccess {
		t.Fatalf("final guess: %s", last.Status)
	}
	reply, err := protocol.DecodeGuess(last.Body)
	if err != nil || reply.TriesLeft != 0 || reply.Secret != "CRANE" {
		t.Fatalf("expected revealed secret, got %+v %v", reply, err)
	}
	if len(reply.Hint.Correct) == 0 {
		t.Fatal("loss reply should still carry hints")
	}
	if lastReply.Translate != "CRANE" {
		t.Fatalf("expected translation request, got %q", lastReply.Translate)
	}

	resp, _ := send(t, s, protocol.ActionStats, nil)
	stats, _ := protocol.DecodeStats(resp.Body)
	if stats.Stats.TotalGames != 1 || stats.Stats.WonGames != 0 || stats.Stats.CurrentStreak != 0 {
		t.Fatalf("loss not recorded %+v", stats.Stats)
	}
	if stats.Score != game.LostTriesPenalty {
		t.Fatalf("unexpected score %v", stats.Score)
	}
	if resp, _ := send(t, s, protocol.ActionSendWord, []byte("SLATE")); resp.Status != protocol.StatusActionUnauthorized {
		t.Fatalf("guessing after loss should be unauthorized, got %s", resp.Status)
	}
}

func TestDisconnectWhilePlayingScoresLossAndRestoresRound(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "alice")
	send(t, s, protocol.ActionPlay, nil)
	send(t, s, protocol.ActionSendWord, []byte("RANCE"))
	send(t, s, protocol.ActionSendWord, []byte("SLATE"))

	s.Close()
	s.Close()
	if f.reg.Active("alice") {
		t.Fatal("lease still active after close")
	}
	if f.board.Rank("alice") != 0 {
		t.Fatal("abandoned game not reflected in leaderboard")
	}

	back := f.session()
	login(t, back, "alice")
	resp, _ := send(t, back, protocol.ActionStats, nil)
	stats, _ := protocol.DecodeStats(resp.Body)
	if stats.Stats.TotalGames != 1 || stats.Stats.WonGames != 0 {
		t.Fatalf("expected recorded loss, got %+v", stats.Stats)
	}
	round := back.lease.Round()
	if round.TriesLeft != game.MaxTries-2 || len(round.Hints) != 2 {
		t.Fatalf("round not restored: %+v", round)
	}
	if resp, _ := send(t, back, protocol.ActionPlay, nil); resp.Status != protocol.StatusAlreadyPlayed {
		t.Fatalf("expected already played after abandon, got %s", resp.Status)
	}
}

func TestNoTriesLeftAfterRestoredExhaustedRound(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "alice")
	send(t, s, protocol.ActionPlay, nil)

	//1.- Force the retained round into the exhausted state.
	s.lease.Round().TriesLeft = 0
	resp, _ := send(t, s, protocol.ActionSendWord, []byte("CRANE"))
	if resp.Status != protocol.StatusNoTriesLeft {
		t.Fatalf("expected no tries left, got %s", resp.Status)
	}
	if s.State() != LoggedIn {
		t.Fatalf("expected to leave playing, got %s", s.State())
	}
}

func TestShareWithoutGame(t *testing.T) {
	f := newFixture(t)
	s := f.session()
	login(t, s, "bob")
	if resp, _ := send(t, s, protocol.ActionShare, nil); resp.Status != protocol.StatusNoGame {
		t.Fatalf("expected no game, got %s", resp.Status)
	}
}

func TestLeaderboardQueries(t *testing.T) {
	f := newFixture(t)
	f.board.Update("carol", 3)
	f.board.Update("dave", 1)
	f.board.Update("erin", 2)
	f.board.Update("frank", 4)
	s := f.session()
	login(t, s, "alice")

	resp, _ := send(t, s, protocol.ActionTopLeaderboard, nil)
	rows, err := protocol.DecodeLeaderboard(resp.Body)
	if err != nil || len(rows) != protocol.DefaultTopK || rows[0].Username != "dave" {
		t.Fatalf("unexpected top rows %v %v", rows, err)
	}
	resp, _ = send(t, s, protocol.ActionTopLeaderboard, protocol.EncodeTopK(2))
	if rows, _ := protocol.DecodeLeaderboard(resp.Body); len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %v", rows)
	}
	resp, _ = send(t, s, protocol.ActionFullLeaderboard, nil)
	if rows, _ := protocol.DecodeLeaderboard(resp.Body); len(rows) != 4 || rows[3].Username != "frank" {
		t.Fatalf("unexpected full board %v", rows)
	}
}

func TestPlayBeforeFirstRotation(t *testing.T) {
	f := newFixture(t)
	f.words.current = scheduler.Current{}
	s := f.session()
	login(t, s, "alice")
	if resp, _ := send(t, s, protocol.ActionPlay, nil); resp.Status != protocol.StatusGenericError {
		t.Fatalf("expected generic error, got %s", resp.Status)
	}
}
