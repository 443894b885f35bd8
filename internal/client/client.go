// Package client speaks the framed game protocol over TCP. It is used by the
// command line player and by the server tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"wordle/server/internal/protocol"
)

// MaxResponseBytes caps response frames. Full leaderboards can exceed the
// request cap so responses get a wider limit.
const MaxResponseBytes = 1 << 20

// ErrUnexpectedStatus is wrapped by helpers that got a status they do not
// decode.
var ErrUnexpectedStatus = errors.New("client: unexpected status")

// Client is one connection to the game server. Calls are serialised.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client { return &Client{conn: conn} }

// Close closes the connection.
func (c *Client) Close() error { return c.conn.Close() }

// Do sends one request and waits for its response.
func (c *Client) Do(ctx context.Context, action protocol.Action, body []byte) (protocol.Response, error) {
	return c.DoRaw(ctx, protocol.EncodeRequest(action, body))
}

// DoRaw sends an arbitrary payload. Tests use it to exercise malformed input.
func (c *Client) DoRaw(ctx context.Context, payload []byte) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = c.conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return protocol.Response{}, fmt.Errorf("write: %w", ctxErr(ctx, err))
	}
	frame, err := protocol.ReadFrame(c.conn, MaxResponseBytes)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("read: %w", ctxErr(ctx, err))
	}
	return protocol.ParseResponse(frame)
}

func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Login authenticates the connection and returns the response status.
func (c *Client) Login(ctx context.Context, username, password string) (protocol.Status, error) {
	body, err := protocol.EncodeLogin(username, password)
	if err != nil {
		return 0, err
	}
	resp, err := c.Do(ctx, protocol.ActionLogin, body)
	return resp.Status, err
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) (protocol.Status, error) {
	resp, err := c.Do(ctx, protocol.ActionLogout, nil)
	return resp.Status, err
}

// PlayResult is the decoded PLAY response.
type PlayResult struct {
	Status  protocol.Status
	WordLen int
	Tries   int
	// Wait is set on ALREADY_PLAYED.
	Wait time.Duration
}

// Play starts a round.
func (c *Client) Play(ctx context.Context) (PlayResult, error) {
	resp, err := c.Do(ctx, protocol.ActionPlay, nil)
	if err != nil {
		return PlayResult{}, err
	}
	out := PlayResult{Status: resp.Status}
	switch resp.Status {
	case protocol.StatusSuccess:
		out.WordLen, out.Tries, err = protocol.DecodePlay(resp.Body)
	case protocol.StatusAlreadyPlayed:
		var ms int64
		ms, err = protocol.DecodeWait(resp.Body)
		out.Wait = time.Duration(ms) * time.Millisecond
	}
	return out, err
}

// GuessResult is the decoded SEND_WORD response.
type GuessResult struct {
	Status protocol.Status
	// Guess is set on SUCCESS.
	Guess protocol.GuessReply
	// TriesLeft is set on INVALID_WORD.
	TriesLeft int
	// TriesUsed and Translation are set on GAME_WON.
	TriesUsed   int
	Translation string
	// Wait is set on NO_TRIES_LEFT.
	Wait time.Duration
}

// SendWord submits a guess.
func (c *Client) SendWord(ctx context.Context, word string) (GuessResult, error) {
	resp, err := c.Do(ctx, protocol.ActionSendWord, []byte(word))
	if err != nil {
		return GuessResult{}, err
	}
	out := GuessResult{Status: resp.Status}
	switch resp.Status {
	case protocol.StatusSuccess:
		out.Guess, err = protocol.DecodeGuess(resp.Body)
		out.Translation = out.Guess.Translation
	case protocol.StatusInvalidWord:
		if len(resp.Body) < 1 {
			return out, fmt.Errorf("invalid word: %w", protocol.ErrMalformed)
		}
		out.TriesLeft = int(resp.Body[0])
	case protocol.StatusGameWon:
		out.TriesUsed, out.Translation, err = protocol.DecodeGameWon(resp.Body)
	case protocol.StatusNoTriesLeft:
		var ms int64
		ms, err = protocol.DecodeWait(resp.Body)
		out.Wait = time.Duration(ms) * time.Millisecond
	}
	return out, err
}

// Stats fetches the account statistics.
func (c *Client) Stats(ctx context.Context) (protocol.StatsReply, error) {
	resp, err := c.Do(ctx, protocol.ActionStats, nil)
	if err != nil {
		return protocol.StatsReply{}, err
	}
	if resp.Status != protocol.StatusSuccess {
		return protocol.StatsReply{}, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return protocol.DecodeStats(resp.Body)
}

// Top fetches the first k leaderboard rows. k <= 0 asks for the server default.
func (c *Client) Top(ctx context.Context, k int) ([]protocol.Standing, error) {
	return c.leaderboard(ctx, protocol.ActionTopLeaderboard, protocol.EncodeTopK(k))
}

// Leaderboard fetches every ranked player.
func (c *Client) Leaderboard(ctx context.Context) ([]protocol.Standing, error) {
	return c.leaderboard(ctx, protocol.ActionFullLeaderboard, nil)
}

func (c *Client) leaderboard(ctx context.Context, action protocol.Action, body []byte) ([]protocol.Standing, error) {
	resp, err := c.Do(ctx, action, body)
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.StatusSuccess {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	return protocol.DecodeLeaderboard(resp.Body)
}

// Share asks the server to multicast the last finished game.
func (c *Client) Share(ctx context.Context) (protocol.Status, error) {
	resp, err := c.Do(ctx, protocol.ActionShare, nil)
	return resp.Status, err
}
