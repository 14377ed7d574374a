package format

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	// Magic identifies worldcache files ("WCH1" little-endian).
	Magic uint32 = 0x31484357

	// Version is the only header layout this package understands.
	Version uint16 = 1

	// HeaderSize is the packed size of Header on disk.
	HeaderSize = 60

	// DefaultSampleRate and DefaultFramePeriodMs are the canonical header defaults.
	DefaultSampleRate    = 44100.0
	DefaultFramePeriodMs = 5.0
)

// Flag bits
const (
	// FlagCompressed marks a payload stored as [u64 length][compressed bytes].
	FlagCompressed uint16 = 1 << 0

	// FlagLZ4 selects the LZ4 codec for a compressed payload. Without it the
	// payload is zstd.
	FlagLZ4 uint16 = 1 << 1
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("header truncated")

	// ErrBadMagic is returned when the file does not start with Magic.
	ErrBadMagic = errors.New("invalid magic number")

	// ErrUnsupportedVersion is returned for any version other than Version.
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

// Codec names the compressor used for a compressed payload.
type Codec uint8

const (
	// CodecZstd is the default compressor.
	CodecZstd Codec = iota
	// CodecLZ4 trades ratio for speed.
	CodecLZ4
)

// String returns the string representation of the codec
func (c Codec) String() string {
	switch c {
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCodec maps a codec name to a Codec.
func ParseCodec(s string) (Codec, error) {
	switch s {
	case "", "zstd":
		return CodecZstd, nil
	case "lz4":
		return CodecLZ4, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", s)
	}
}

// Header is the fixed-size record at the start of every cache file.
//
// Field order is the on-disk order. Fields are packed with explicit widths,
// so the encoding does not depend on Go struct layout.
type Header struct {
	Magic         uint32
	Version       uint16
	Flags         uint16
	SampleRate    float64
	FramePeriodMs float64

	// Fingerprint is the 64-bit content hash of the source file.
	Fingerprint uint64
	// SourceMTime is the source modification time in Unix nanoseconds.
	SourceMTime uint64

	FrameCount uint32
	FFTSize    uint32

	// Declared block sizes in bytes.
	SpectralSize     uint32
	AperiodicitySize uint32
	VoicedMaskSize   uint32
}

// NewHeader returns a header populated with canonical defaults.
func NewHeader() Header {
	return Header{
		Magic:         Magic,
		Version:       Version,
		SampleRate:    DefaultSampleRate,
		FramePeriodMs: DefaultFramePeriodMs,
	}
}

// IsCompressed reports whether the payload is compressed.
func (h Header) IsCompressed() bool {
	return h.Flags&FlagCompressed != 0
}

// SetCompressed sets or clears the compressed flag.
func (h *Header) SetCompressed(on bool) {
	if on {
		h.Flags |= FlagCompressed
	} else {
		h.Flags &^= FlagCompressed
	}
}

// Codec returns the compressor selected by the flags.
func (h Header) Codec() Codec {
	if h.Flags&FlagLZ4 != 0 {
		return CodecLZ4
	}
	return CodecZstd
}

// SetCodec records the compressor in the flags.
func (h *Header) SetCodec(c Codec) {
	if c == CodecLZ4 {
		h.Flags |= FlagLZ4
	} else {
		h.Flags &^= FlagLZ4
	}
}

// PayloadSize is the sum of the declared block sizes.
func (h Header) PayloadSize() uint64 {
	return uint64(h.SpectralSize) + uint64(h.AperiodicitySize) + uint64(h.VoicedMaskSize)
}

// AppendBinary appends the packed header to b.
func (h Header) AppendBinary(b []byte) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, h.Magic)
	b = le.AppendUint16(b, h.Version)
	b = le.AppendUint16(b, h.Flags)
	b = le.AppendUint64(b, math.Float64bits(h.SampleRate))
	b = le.AppendUint64(b, math.Float64bits(h.FramePeriodMs))
	b = le.AppendUint64(b, h.Fingerprint)
	b = le.AppendUint64(b, h.SourceMTime)
	b = le.AppendUint32(b, h.FrameCount)
	b = le.AppendUint32(b, h.FFTSize)
	b = le.AppendUint32(b, h.SpectralSize)
	b = le.AppendUint32(b, h.AperiodicitySize)
	b = le.AppendUint32(b, h.VoicedMaskSize)
	return b
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize)), nil
}

// UnmarshalBinary decodes the first HeaderSize bytes of data. Trailing bytes
// are ignored. Headers with a foreign magic or an unknown version are
// rejected rather than guessed at.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrShortHeader, len(data), HeaderSize)
	}

	le := binary.LittleEndian
	var out Header
	out.Magic = le.Uint32(data[0:4])
	if out.Magic != Magic {
		return fmt.Errorf("%w: %#08x", ErrBadMagic, out.Magic)
	}
	out.Version = le.Uint16(data[4:6])
	if out.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, out.Version)
	}
	out.Flags = le.Uint16(data[6:8])
	out.SampleRate = math.Float64frombits(le.Uint64(data[8:16]))
	out.FramePeriodMs = math.Float64frombits(le.Uint64(data[16:24]))
	out.Fingerprint = le.Uint64(data[24:32])
	out.SourceMTime = le.Uint64(data[32:40])
	out.FrameCount = le.Uint32(data[40:44])
	out.FFTSize = le.Uint32(data[44:48])
	out.SpectralSize = le.Uint32(data[48:52])
	out.AperiodicitySize = le.Uint32(data[52:56])
	out.VoicedMaskSize = le.Uint32(data[56:60])

	*h = out
	return nil
}
