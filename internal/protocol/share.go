package protocol

import (
	"encoding/binary"
	"fmt"

	"wordle/server/internal/game"
)

// SharedGame is the decoded form of a multicast share datagram.
type SharedGame struct {
	Username   string
	Descriptor game.Descriptor
}

// EncodeShare serialises a completed game for the multicast group. The
// datagram must fit MaxDatagramBytes.
func EncodeShare(username string, desc game.Descriptor) ([]byte, error) {
	out := make([]byte, 0, 64)
	out = binary.BigEndian.AppendUint32(out, uint32(len(username)))
	out = append(out, username...)
	out = binary.BigEndian.AppendUint64(out, uint64(desc.GameID))
	out = append(out, byte(int8(desc.TriesUsed)), byte(desc.MaxTries), byte(desc.WordLen), byte(len(desc.Hints)))
	for _, h := range desc.Hints {
		out = append(out, byte(len(h.Correct)), byte(len(h.Partial)))
		out = appendPositions(out, h.Correct)
		out = appendPositions(out, h.Partial)
	}
	if len(out) > MaxDatagramBytes {
		return nil, fmt.Errorf("share: datagram of %d bytes exceeds %d", len(out), MaxDatagramBytes)
	}
	return out, nil
}

// DecodeShare parses a multicast share datagram.
func DecodeShare(datagram []byte) (SharedGame, error) {
	r := reader{buf: datagram}
	var shared SharedGame
	shared.Username = string(r.bytes(int(r.u32())))
	shared.Descriptor.GameID = int64(r.u64())
	shared.Descriptor.TriesUsed = int(int8(r.u8()))
	shared.Descriptor.MaxTries = int(r.u8())
	shared.Descriptor.WordLen = int(r.u8())
	attempts := int(r.u8())
	for i := 0; i < attempts && r.err == nil; i++ {
		correct := int(r.u8())
		partial := int(r.u8())
		shared.Descriptor.Hints = append(shared.Descriptor.Hints, game.Hint{
			Correct: r.positions(correct),
			Partial: r.positions(partial),
		})
	}
	if r.err != nil {
		return SharedGame{}, fmt.Errorf("share: %w", r.err)
	}
	return shared, nil
}
