package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const headerBytes = 4

var (
	// ErrFrameTooLarge is returned when a peer announces a payload above the cap.
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")
	// ErrMalformed marks a payload whose fields do not fit the declared lengths.
	ErrMalformed = errors.New("protocol: malformed message")
)

// FrameDecoder accumulates raw stream bytes and yields complete frames. It
// mirrors a readiness-driven reader: bytes arrive in arbitrary chunks and the
// decoder only surfaces whole payloads. Not safe for concurrent use.
type FrameDecoder struct {
	buf      []byte
	expected int
	max      int
}

// NewFrameDecoder returns a decoder rejecting payloads larger than max bytes.
func NewFrameDecoder(max int) *FrameDecoder {
	if max <= 0 {
		max = MaxFrameBytes
	}
	return &FrameDecoder{expected: -1, max: max}
}

// Write appends stream bytes to the decoder buffer.
func (d *FrameDecoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload, or nil when more bytes are needed.
// The returned slice is owned by the caller.
func (d *FrameDecoder) Next() ([]byte, error) {
	//1.- Parse the length prefix once enough bytes are buffered.
	if d.expected < 0 {
		if len(d.buf) < headerBytes {
			return nil, nil
		}
		size := binary.BigEndian.Uint32(d.buf[:headerBytes])
		if size > uint32(d.max) {
			return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, d.max)
		}
		d.expected = int(size)
		d.buf = d.buf[headerBytes:]
	}

	//2.- Wait for the full payload before handing out a copy.
	if len(d.buf) < d.expected {
		return nil, nil
	}
	frame := make([]byte, d.expected)
	copy(frame, d.buf[:d.expected])
	rest := d.buf[d.expected:]
	d.buf = append(d.buf[:0], rest...)
	d.expected = -1
	return frame, nil
}

// Buffered reports how many bytes are waiting for the current frame.
func (d *FrameDecoder) Buffered() int { return len(d.buf) }

// AppendFrame appends the length-prefixed encoding of payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload to w with its length prefix in a single write.
func WriteFrame(w io.Writer, payload []byte) error {
	_, err := w.Write(AppendFrame(make([]byte, 0, headerBytes+len(payload)), payload))
	return err
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	if max <= 0 {
		max = MaxFrameBytes
	}
	var header [headerBytes]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > uint32(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, max)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
