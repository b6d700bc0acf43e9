package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Spill file layout:
//
//	magic "FCSP" | uint32 header length (LE) | msgpack header | payload
//
// The payload is every component's float32 bit patterns, little-endian, concatenated in
// component order and then compressed with the codec named in the header.

var spillMagic = [4]byte{'F', 'C', 'S', 'P'}

const formatVersion = 1

// Compression selects the spill payload codec.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// ParseCompression validates a codec name. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd:
		return Compression(s), nil
	}
	return "", fmt.Errorf("unknown compression %q", s)
}

type spillHeader struct {
	Version  int         `msgpack:"v"`
	Codec    Compression `msgpack:"codec"`
	Lengths  []int       `msgpack:"lengths"`
	Checksum []byte      `msgpack:"sha256"`
	Created  int64       `msgpack:"created"`
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func encode(data [][]float32, codec Compression) ([]byte, error) {
	lengths := make([]int, len(data))
	total := 0
	for i, c := range data {
		lengths[i] = len(c)
		total += len(c)
	}

	raw := make([]byte, 4*total)
	off := 0
	for _, c := range data {
		for _, v := range c {
			binary.LittleEndian.PutUint32(raw[off:], math.Float32bits(v))
			off += 4
		}
	}
	sum := sha256.Sum256(raw)

	payload, err := compress(raw, codec)
	if err != nil {
		return nil, err
	}

	header, err := msgpack.Marshal(&spillHeader{
		Version:  formatVersion,
		Codec:    codec,
		Lengths:  lengths,
		Checksum: sum[:],
		Created:  time.Now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode spill header: %w", err)
	}

	out := make([]byte, 0, 8+len(header)+len(payload))
	out = append(out, spillMagic[:]...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(header)))
	out = append(out, header...)
	out = append(out, payload...)
	return out, nil
}

func decode(b []byte) ([][]float32, error) {
	if len(b) < 8 || !bytes.Equal(b[:4], spillMagic[:]) {
		return nil, fmt.Errorf("not a spill file")
	}
	hlen := int(binary.LittleEndian.Uint32(b[4:8]))
	if hlen > len(b)-8 {
		return nil, fmt.Errorf("truncated spill header")
	}

	var h spillHeader
	if err := msgpack.Unmarshal(b[8:8+hlen], &h); err != nil {
		return nil, fmt.Errorf("failed to decode spill header: %w", err)
	}
	if h.Version != formatVersion {
		return nil, fmt.Errorf("unsupported spill format version %d", h.Version)
	}

	raw, err := decompress(b[8+hlen:], h.Codec)
	if err != nil {
		return nil, err
	}

	// Lengths come from the file; bound each one by the payload so the sum cannot overflow.
	values, total := len(raw)/4, 0
	for _, l := range h.Lengths {
		if l < 0 || l > values-total {
			return nil, fmt.Errorf("component length %d exceeds payload of %d values", l, values)
		}
		total += l
	}
	if len(raw) != 4*total {
		return nil, fmt.Errorf("payload size %d does not match header (%d values)", len(raw), total)
	}
	if sum := sha256.Sum256(raw); !bytes.Equal(sum[:], h.Checksum) {
		return nil, fmt.Errorf("checksum mismatch for spill file")
	}

	data := make([][]float32, len(h.Lengths))
	off := 0
	for i, l := range h.Lengths {
		c := make([]float32, l)
		for j := range c {
			c[j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
			off += 4
		}
		data[i] = c
	}
	return data, nil
}

func compress(raw []byte, codec Compression) ([]byte, error) {
	switch codec {
	case CompressionNone, "":
		return raw, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown compression %q", codec)
}

func decompress(payload []byte, codec Compression) ([]byte, error) {
	switch codec {
	case CompressionNone, "":
		return payload, nil
	case CompressionZstd:
		raw, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress spill payload: %w", err)
		}
		return raw, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress spill payload: %w", err)
		}
		defer func() { _ = r.Close() }()
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress spill payload: %w", err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("unknown compression %q", codec)
}
