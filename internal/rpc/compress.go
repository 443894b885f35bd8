package rpc

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compressor applies symmetric compression to subscription payloads.
type Compressor interface {
	//1.- Name returns the codec identifier advertised in stream headers.
	Name() string
	//2.- Compress encodes the provided payload into a compressed representation.
	Compress(data []byte) ([]byte, error)
	//3.- Decompress restores the original payload from its compressed form.
	Decompress(data []byte) ([]byte, error)
}

const (
	EncodingIdentity = "identity"
	EncodingGZIP     = "gzip"
	EncodingZSTD     = "zstd"
	EncodingSnappy   = "snappy"
)

var compressors = map[string]Compressor{
	EncodingIdentity: identityCompressor{},
	EncodingGZIP:     gzipCompressor{},
	EncodingZSTD:     newZSTDCompressor(),
	EncodingSnappy:   snappyCompressor{},
}

// LookupCompressor returns the codec registered under name. An empty name
// selects identity.
func LookupCompressor(name string) (Compressor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = EncodingIdentity
	}
	c, ok := compressors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported encoding %q (want one of %s)", name, strings.Join(Encodings(), ", "))
	}
	return c, nil
}

// Encodings lists the supported codec names.
func Encodings() []string {
	names := make([]string, 0, len(compressors))
	for name := range compressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type identityCompressor struct{}

func (identityCompressor) Name() string { return EncodingIdentity }

func (identityCompressor) Compress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

func (identityCompressor) Decompress(data []byte) ([]byte, error) {
	return append([]byte(nil), data...), nil
}

// gzipCompressor uses the klauspost gzip implementation.
type gzipCompressor struct{}

func (gzipCompressor) Name() string { return EncodingGZIP }

func (gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("gzip decompress: empty payload")
	}
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, fmt.Errorf("gzip copy: %w", err)
	}
	return buf.Bytes(), nil
}

// zstdCompressor shares one stateless encoder and decoder pair.
type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZSTDCompressor() *zstdCompressor {
	// Neither constructor fails with these options.
	encoder, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	return &zstdCompressor{encoder: encoder, decoder: decoder}
}

func (*zstdCompressor) Name() string { return EncodingZSTD }

func (z *zstdCompressor) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, nil), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("zstd decompress: empty payload")
	}
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

type snappyCompressor struct{}

func (snappyCompressor) Name() string { return EncodingSnappy }

func (snappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyCompressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("snappy decompress: empty payload")
	}
	out, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decode: %w", err)
	}
	return out, nil
}
