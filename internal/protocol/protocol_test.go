package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"reflect"
	"testing"

	"wordle/server/internal/game"
)

func TestFrameDecoderHandlesSplitAndCoalescedWrites(t *testing.T) {
	//1.- Two frames delivered across awkward chunk boundaries.
	var stream []byte
	stream = AppendFrame(stream, []byte{byte(ActionPlay)})
	stream = AppendFrame(stream, EncodeRequest(ActionSendWord, []byte("CRANE")))

	dec := NewFrameDecoder(MaxFrameBytes)
	var frames [][]byte
	for _, chunk := range [][]byte{stream[:2], stream[2:6], stream[6:]} {
		if _, err := dec.Write(chunk); err != nil {
			t.Fatalf("write: %v", err)
		}
		for {
			frame, err := dec.Next()
			if err != nil {
				t.Fatalf("next: %v", err)
			}
			if frame == nil {
				break
			}
			frames = append(frames, frame)
		}
	}

	//2.- Both payloads emerge intact and in order.
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0], []byte{byte(ActionPlay)}) {
		t.Fatalf("unexpected first frame %v", frames[0])
	}
	if string(frames[1][1:]) != "CRANE" {
		t.Fatalf("unexpected second frame %q", frames[1])
	}
	if dec.Buffered() != 0 {
		t.Fatalf("expected empty buffer, got %d bytes", dec.Buffered())
	}
}

func TestFrameDecoderRejectsOversizedFrame(t *testing.T) {
	dec := NewFrameDecoder(16)
	header := binary.BigEndian.AppendUint32(nil, 17)
	_, _ = dec.Write(header)
	if _, err := dec.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameDecoderYieldsEmptyFrame(t *testing.T) {
	dec := NewFrameDecoder(16)
	_, _ = dec.Write(AppendFrame(nil, nil))
	frame, err := dec.Next()
	if err != nil || frame == nil || len(frame) != 0 {
		t.Fatalf("expected empty non-nil frame, got %v %v", frame, err)
	}
	if _, err := ParseRequest(frame); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed empty request, got %v", err)
	}
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf, 8)
	if err != nil || string(got) != "hello" {
		t.Fatalf("unexpected read %q %v", got, err)
	}
	_ = WriteFrame(&buf, []byte("too long for the cap"))
	if _, err := ReadFrame(&buf, 8); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestLoginBody(t *testing.T) {
	body, err := EncodeLogin("alice", "secret")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	user, pass, err := DecodeLogin(body)
	if err != nil || user != "alice" || pass != "secret" {
		t.Fatalf("decode: %q %q %v", user, pass, err)
	}
	if _, _, err := DecodeLogin(body[:4]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected truncated login to be malformed, got %v", err)
	}
	if _, _, err := DecodeLogin(nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected empty login to be malformed, got %v", err)
	}
}

func TestDecodeTopKDefaults(t *testing.T) {
	if DecodeTopK(nil) != DefaultTopK {
		t.Fatal("empty body should select the default")
	}
	if DecodeTopK(EncodeTopK(7)) != 7 {
		t.Fatal("explicit k lost")
	}
}

func TestGuessResponseLayout(t *testing.T) {
	hint := game.Hint{Correct: []int{0, 4}, Partial: []int{2}}
	payload := EncodeGuess(3, hint, "CRANE")
	want := []byte{byte(StatusSuccess), 3, 2, 1, 0, 4, 2}
	if !bytes.Equal(payload, want) {
		t.Fatalf("unexpected layout %v", payload)
	}

	lost := append(EncodeGuess(0, hint, "CRANE"), "gru"...)
	resp, err := ParseResponse(lost)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reply, err := DecodeGuess(resp.Body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Secret != "CRANE" || reply.Translation != "gru" || !reflect.DeepEqual(reply.Hint, hint) {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestWaitClampsNegative(t *testing.T) {
	payload := EncodeWait(StatusAlreadyPlayed, -50)
	ms, err := DecodeWait(payload[1:])
	if err != nil || ms != 0 {
		t.Fatalf("expected clamped wait, got %d %v", ms, err)
	}
}

func TestStatsLayout(t *testing.T) {
	var stats game.Stats
	stats.RecordWin(2)
	stats.RecordLoss()
	payload := EncodeStats(StatsReply{Stats: stats, Score: stats.Score()})
	if len(payload) != 1+16+8+1+4*game.MaxTries {
		t.Fatalf("unexpected payload size %d", len(payload))
	}
	reply, err := DecodeStats(payload[1:])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if reply.Stats != stats || reply.Score != stats.Score() {
		t.Fatalf("unexpected stats %+v", reply)
	}
}

func TestLeaderboardLayout(t *testing.T) {
	rows := []Standing{{Username: "bob", Score: 2.5}, {Username: "alice", Score: 4}}
	payload := EncodeLeaderboard(rows)
	got, err := DecodeLeaderboard(payload[1:])
	if err != nil || !reflect.DeepEqual(got, rows) {
		t.Fatalf("unexpected rows %v %v", got, err)
	}
	if _, err := DecodeLeaderboard(payload[1:10]); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected truncated leaderboard to fail, got %v", err)
	}
}

func TestShareDatagram(t *testing.T) {
	desc := game.Descriptor{
		GameID:    42,
		TriesUsed: -1,
		MaxTries:  game.MaxTries,
		WordLen:   5,
		Hints:     []game.Hint{{Correct: []int{1}, Partial: []int{0, 3}}, {Correct: []int{}, Partial: []int{}}},
	}
	datagram, err := EncodeShare("carol", desc)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	shared, err := DecodeShare(datagram)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if shared.Username != "carol" || !reflect.DeepEqual(shared.Descriptor, desc) {
		t.Fatalf("unexpected share %+v", shared)
	}
}

func TestShareDatagramTooLarge(t *testing.T) {
	desc := game.Descriptor{GameID: 1, MaxTries: game.MaxTries, WordLen: 48}
	for i := 0; i < game.MaxTries; i++ {
		positions := make([]int, 48)
		for k := range positions {
			positions[k] = k
		}
		desc.Hints = append(desc.Hints, game.Hint{Correct: positions, Partial: []int{}})
	}
	if _, err := EncodeShare("dave", desc); err == nil {
		t.Fatal("expected oversize datagram to be rejected")
	}
}
