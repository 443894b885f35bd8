package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"wordle/server/internal/game"
)

// Request is one decoded client frame.
type Request struct {
	Action Action
	Body   []byte
}

// ParseRequest splits a frame into its action byte and body. An empty frame
// is malformed.
func ParseRequest(frame []byte) (Request, error) {
	if len(frame) == 0 {
		return Request{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	return Request{Action: Action(frame[0]), Body: frame[1:]}, nil
}

// EncodeRequest builds a client payload.
func EncodeRequest(action Action, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(action))
	return append(out, body...)
}

// EncodeLogin builds a LOGIN body.
func EncodeLogin(username, password string) ([]byte, error) {
	if len(username) > math.MaxUint8 || len(password) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: credentials longer than 255 bytes", ErrMalformed)
	}
	body := make([]byte, 0, 2+len(username)+len(password))
	body = append(body, byte(len(username)), byte(len(password)))
	body = append(body, username...)
	return append(body, password...), nil
}

// DecodeLogin parses a LOGIN body.
func DecodeLogin(body []byte) (string, string, error) {
	r := reader{buf: body}
	userLen := int(r.u8())
	passLen := int(r.u8())
	username := string(r.bytes(userLen))
	password := string(r.bytes(passLen))
	if r.err != nil {
		return "", "", fmt.Errorf("login: %w", r.err)
	}
	return username, password, nil
}

// EncodeTopK builds a TOP_LEADERBOARD body. Zero selects the server default.
func EncodeTopK(k int) []byte {
	if k <= 0 {
		return nil
	}
	if k > math.MaxUint8 {
		k = math.MaxUint8
	}
	return []byte{byte(k)}
}

// DecodeTopK parses a TOP_LEADERBOARD body.
func DecodeTopK(body []byte) int {
	if len(body) == 0 || body[0] == 0 {
		return DefaultTopK
	}
	return int(body[0])
}

// Standing is one leaderboard row on the wire.
type Standing struct {
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

// StatsReply is the body of a successful STATS response.
type StatsReply struct {
	Stats game.Stats
	Score float64
}

// GuessReply is the body of a successful SEND_WORD response. Secret and
// Translation are only present once the round is lost.
type GuessReply struct {
	TriesLeft   int
	Hint        game.Hint
	Secret      string
	Translation string
}

// Response is one decoded server frame.
type Response struct {
	Status Status
	Body   []byte
}

// ParseResponse splits a server frame into its status byte and body.
func ParseResponse(frame []byte) (Response, error) {
	if len(frame) == 0 {
		return Response{}, fmt.Errorf("%w: empty frame", ErrMalformed)
	}
	return Response{Status: Status(frame[0]), Body: frame[1:]}, nil
}

// EncodeStatus builds a body-less response.
func EncodeStatus(status Status) []byte { return []byte{byte(status)} }

// EncodeWait builds ALREADY_PLAYED and NO_TRIES_LEFT responses carrying the
// milliseconds until the next word. Negative waits are clamped to zero.
func EncodeWait(status Status, millis int64) []byte {
	if millis < 0 {
		millis = 0
	}
	return binary.BigEndian.AppendUint64([]byte{byte(status)}, uint64(millis))
}

// DecodeWait parses a wait body.
func DecodeWait(body []byte) (int64, error) {
	r := reader{buf: body}
	v := int64(r.u64())
	return v, r.err
}

// EncodePlay builds the PLAY success response.
func EncodePlay(wordLen, tries int) []byte {
	return []byte{byte(StatusSuccess), byte(wordLen), byte(tries)}
}

// DecodePlay parses the PLAY success body.
func DecodePlay(body []byte) (wordLen, tries int, err error) {
	r := reader{buf: body}
	wordLen = int(r.u8())
	tries = int(r.u8())
	return wordLen, tries, r.err
}

// EncodeInvalidWord builds the INVALID_WORD response.
func EncodeInvalidWord(triesLeft int) []byte {
	return []byte{byte(StatusInvalidWord), byte(triesLeft)}
}

// EncodeGuess builds a SEND_WORD success response. The revealed secret is
// written when triesLeft is zero; the translation, if any, is appended by
// the caller since it runs to the end of the frame.
func EncodeGuess(triesLeft int, hint game.Hint, secret string) []byte {
	out := make([]byte, 0, 4+len(hint.Correct)+len(hint.Partial)+1+len(secret))
	out = append(out, byte(StatusSuccess), byte(triesLeft), byte(len(hint.Correct)), byte(len(hint.Partial)))
	out = appendPositions(out, hint.Correct)
	out = appendPositions(out, hint.Partial)
	if triesLeft == 0 {
		out = append(out, byte(len(secret)))
		out = append(out, secret...)
	}
	return out
}

// DecodeGuess parses a SEND_WORD success body.
func DecodeGuess(body []byte) (GuessReply, error) {
	r := reader{buf: body}
	reply := GuessReply{TriesLeft: int(r.u8())}
	correct := int(r.u8())
	partial := int(r.u8())
	reply.Hint.Correct = r.positions(correct)
	reply.Hint.Partial = r.positions(partial)
	if reply.TriesLeft == 0 && r.err == nil {
		reply.Secret = string(r.bytes(int(r.u8())))
		reply.Translation = string(r.rest())
	}
	if r.err != nil {
		return GuessReply{}, fmt.Errorf("guess: %w", r.err)
	}
	return reply, nil
}

// EncodeGameWon builds the GAME_WON response header. The translation is
// appended by the caller.
func EncodeGameWon(triesUsed int) []byte {
	return []byte{byte(StatusGameWon), byte(triesUsed)}
}

// DecodeGameWon parses the GAME_WON body.
func DecodeGameWon(body []byte) (int, string, error) {
	r := reader{buf: body}
	tries := int(r.u8())
	if r.err != nil {
		return 0, "", fmt.Errorf("game won: %w", r.err)
	}
	return tries, string(r.rest()), nil
}

// EncodeStats builds the STATS success response.
func EncodeStats(reply StatsReply) []byte {
	s := reply.Stats
	out := make([]byte, 0, 1+16+8+1+4*len(s.Distribution))
	out = append(out, byte(StatusSuccess))
	out = binary.BigEndian.AppendUint32(out, uint32(s.TotalGames))
	out = binary.BigEndian.AppendUint32(out, uint32(s.WonGames))
	out = binary.BigEndian.AppendUint32(out, uint32(s.CurrentStreak))
	out = binary.BigEndian.AppendUint32(out, uint32(s.BestStreak))
	out = binary.BigEndian.AppendUint64(out, math.Float64bits(reply.Score))
	out = append(out, byte(len(s.Distribution)))
	for _, bucket := range s.Distribution {
		out = binary.BigEndian.AppendUint32(out, uint32(bucket))
	}
	return out
}

// DecodeStats parses the STATS success body.
func DecodeStats(body []byte) (StatsReply, error) {
	r := reader{buf: body}
	var reply StatsReply
	reply.Stats.TotalGames = int(r.u32())
	reply.Stats.WonGames = int(r.u32())
	reply.Stats.CurrentStreak = int(r.u32())
	reply.Stats.BestStreak = int(r.u32())
	reply.Score = math.Float64frombits(r.u64())
	buckets := int(r.u8())
	for i := 0; i < buckets; i++ {
		v := int(r.u32())
		if i < len(reply.Stats.Distribution) {
			reply.Stats.Distribution[i] = v
		}
	}
	if r.err != nil {
		return StatsReply{}, fmt.Errorf("stats: %w", r.err)
	}
	return reply, nil
}

// EncodeLeaderboard builds a leaderboard success response.
func EncodeLeaderboard(rows []Standing) []byte {
	size := 1 + 4
	for _, row := range rows {
		size += 4 + len(row.Username) + 8
	}
	out := make([]byte, 0, size)
	out = append(out, byte(StatusSuccess))
	out = binary.BigEndian.AppendUint32(out, uint32(len(rows)))
	for _, row := range rows {
		out = binary.BigEndian.AppendUint32(out, uint32(len(row.Username)))
		out = append(out, row.Username...)
		out = binary.BigEndian.AppendUint64(out, math.Float64bits(row.Score))
	}
	return out
}

// DecodeLeaderboard parses a leaderboard success body.
func DecodeLeaderboard(body []byte) ([]Standing, error) {
	r := reader{buf: body}
	count := int(r.u32())
	if r.err != nil {
		return nil, fmt.Errorf("leaderboard: %w", r.err)
	}
	rows := make([]Standing, 0, min(count, len(body)/12))
	for i := 0; i < count && r.err == nil; i++ {
		name := string(r.bytes(int(r.u32())))
		score := math.Float64frombits(r.u64())
		rows = append(rows, Standing{Username: name, Score: score})
	}
	if r.err != nil {
		return nil, fmt.Errorf("leaderboard: %w", r.err)
	}
	return rows, nil
}

func appendPositions(dst []byte, positions []int) []byte {
	for _, p := range positions {
		dst = append(dst, byte(p))
	}
	return dst
}

// reader is a bounds-checked big-endian cursor. The first short read sets
// err and every later call returns zero values.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformed, n, r.off, len(r.buf))
		return nil
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out
}

func (r *reader) u8() byte {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

func (r *reader) bytes(n int) []byte {
	b := r.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (r *reader) positions(n int) []int {
	raw := r.take(n)
	out := make([]int, 0, len(raw))
	for _, b := range raw {
		out = append(out, int(b))
	}
	return out
}

func (r *reader) rest() []byte {
	if r.err != nil || r.off >= len(r.buf) {
		return nil
	}
	out := append([]byte(nil), r.buf[r.off:]...)
	r.off = len(r.buf)
	return out
}
