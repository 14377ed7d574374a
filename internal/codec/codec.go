// Package codec packs a format.Header and the three analysis blocks into a
// single cache-file buffer, and unpacks such buffers again.
//
// Uncompressed layout:
//
//	header | spectral | aperiodicity | voiced mask
//
// Compressed layout (format.FlagCompressed):
//
//	header | u64 uncompressed length | compressed(spectral|aperiodicity|voiced mask)
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/worldx-ucra/worldcache/internal/format"
)

// MaxPayloadSize bounds the uncompressed length of a compressed payload.
// Encode refuses larger payloads and Decode treats them as corrupt.
const MaxPayloadSize = 1 << 30

const lengthPrefixSize = 8

var (
	// ErrInvalidInput marks caller errors; nothing is produced.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilHeader is returned by Encode when no header is given.
	ErrNilHeader = fmt.Errorf("%w: nil header", ErrInvalidInput)

	// ErrMissingBlock is returned when a block with a nonzero declared size is nil.
	ErrMissingBlock = fmt.Errorf("%w: missing block", ErrInvalidInput)

	// ErrSizeMismatch is returned when a block's length differs from its declared size.
	ErrSizeMismatch = fmt.Errorf("%w: block size does not match header", ErrInvalidInput)

	// ErrPayloadTooLarge is returned when a compressed payload would exceed
	// MaxPayloadSize.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large to compress", ErrInvalidInput)

	// ErrCompress is returned when the compressor fails.
	ErrCompress = errors.New("compression failed")

	// ErrCorrupt marks truncated or inconsistent cache buffers. Callers
	// recover by regenerating the cache.
	ErrCorrupt = errors.New("cache data corrupted")
)

// Blocks holds the three opaque analysis blocks in file order.
type Blocks struct {
	Spectral     []byte
	Aperiodicity []byte
	VoicedMask   []byte
}

// Len is the total byte length of the blocks.
func (b Blocks) Len() int {
	return len(b.Spectral) + len(b.Aperiodicity) + len(b.VoicedMask)
}

// Encode serializes h followed by the blocks. The returned buffer is newly
// allocated and owned by the caller. On error nothing is returned.
func Encode(h *format.Header, spectral, aperiodicity, voicedMask []byte) ([]byte, error) {
	if h == nil {
		return nil, ErrNilHeader
	}
	if h.IsCompressed() && h.PayloadSize() > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, h.PayloadSize(), MaxPayloadSize)
	}
	if err := checkBlock("spectral", spectral, h.SpectralSize); err != nil {
		return nil, err
	}
	if err := checkBlock("aperiodicity", aperiodicity, h.AperiodicitySize); err != nil {
		return nil, err
	}
	if err := checkBlock("voiced mask", voicedMask, h.VoicedMaskSize); err != nil {
		return nil, err
	}

	payloadSize := h.PayloadSize()

	if !h.IsCompressed() {
		buf := make([]byte, 0, format.HeaderSize+int(payloadSize))
		buf = h.AppendBinary(buf)
		buf = append(buf, spectral...)
		buf = append(buf, aperiodicity...)
		buf = append(buf, voicedMask...)
		return buf, nil
	}

	payload := make([]byte, 0, payloadSize)
	payload = append(payload, spectral...)
	payload = append(payload, aperiodicity...)
	payload = append(payload, voicedMask...)

	buf := make([]byte, 0, format.HeaderSize+lengthPrefixSize+len(payload)/2)
	buf = h.AppendBinary(buf)
	buf = binary.LittleEndian.AppendUint64(buf, payloadSize)

	buf, err := compress(buf, payload, h.Codec())
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func checkBlock(name string, block []byte, declared uint32) error {
	if declared != 0 && block == nil {
		return fmt.Errorf("%w: %s (declared %d bytes)", ErrMissingBlock, name, declared)
	}
	if uint64(len(block)) != uint64(declared) {
		return fmt.Errorf("%w: %s is %d bytes, header declares %d", ErrSizeMismatch, name, len(block), declared)
	}
	return nil
}

// Decode parses a buffer produced by Encode. The returned blocks never alias
// buf; zero-sized blocks are nil. Any failure caused by the buffer contents
// wraps ErrCorrupt.
func Decode(buf []byte) (format.Header, Blocks, error) {
	var h format.Header
	if err := h.UnmarshalBinary(buf); err != nil {
		return format.Header{}, Blocks{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	rest := buf[format.HeaderSize:]
	want := h.PayloadSize()

	var payload []byte
	if h.IsCompressed() {
		if len(rest) < lengthPrefixSize {
			return format.Header{}, Blocks{}, fmt.Errorf("%w: missing uncompressed length", ErrCorrupt)
		}
		declared := binary.LittleEndian.Uint64(rest[:lengthPrefixSize])
		if declared != want {
			return format.Header{}, Blocks{}, fmt.Errorf("%w: declared payload %d bytes, blocks need %d", ErrCorrupt, declared, want)
		}
		if declared > MaxPayloadSize {
			return format.Header{}, Blocks{}, fmt.Errorf("%w: payload of %d bytes exceeds limit", ErrCorrupt, declared)
		}

		var err error
		payload, err = decompress(rest[lengthPrefixSize:], declared, h.Codec())
		if err != nil {
			return format.Header{}, Blocks{}, err
		}
	} else {
		if uint64(len(rest)) < want {
			return format.Header{}, Blocks{}, fmt.Errorf("%w: have %d payload bytes, header declares %d", ErrCorrupt, len(rest), want)
		}
		payload = rest
	}

	var b Blocks
	payload, b.Spectral = take(payload, h.SpectralSize)
	payload, b.Aperiodicity = take(payload, h.AperiodicitySize)
	_, b.VoicedMask = take(payload, h.VoicedMaskSize)

	return h, b, nil
}

// take copies the first n bytes of p into a new slice. Callers guarantee
// len(p) >= n.
func take(p []byte, n uint32) ([]byte, []byte) {
	if n == 0 {
		return p, nil
	}
	out := make([]byte, n)
	copy(out, p[:n])
	return p[n:], out
}
