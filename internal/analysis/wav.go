package analysis

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotWAV is returned when the source is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// ErrUnsupportedWAV is returned for WAVE encodings the reader cannot decode.
var ErrUnsupportedWAV = errors.New("unsupported WAVE encoding")

const (
	// MinSampleRate and MaxSampleRate bound the sample rates ReadWAV accepts.
	MinSampleRate = 1000
	MaxSampleRate = 768000

	maxFmtChunk = 1 << 10

	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

// PCMFormat describes the sample layout of a WAVE data chunk.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
	IsFloat    bool
}

// BytesPerFrame returns the size of one interleaved sample frame.
func (f PCMFormat) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// Wave is a decoded WAVE file downmixed to mono in [-1, 1].
type Wave struct {
	Format  PCMFormat
	Samples []float64
}

// Duration returns the length of the audio in seconds.
func (w *Wave) Duration() float64 {
	if w.Format.SampleRate == 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.Format.SampleRate)
}

// ReadWAV decodes a RIFF/WAVE stream. Integer PCM of 8/16/24/32 bits and
// IEEE float of 32/64 bits are supported; channels are averaged.
func ReadWAV(r io.Reader) (*Wave, error) {
	br := bufio.NewReader(r)

	var riff [12]byte
	if _, err := io.ReadFull(br, riff[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}

	var (
		format    PCMFormat
		haveFmt   bool
		chunkHead [8]byte
	)
	for {
		if _, err := io.ReadFull(br, chunkHead[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
			}
			return nil, err
		}
		id := string(chunkHead[0:4])
		size := binary.LittleEndian.Uint32(chunkHead[4:8])

		switch id {
		case "fmt ":
			f, err := readFmtChunk(br, size)
			if err != nil {
				return nil, err
			}
			format, haveFmt = f, true

		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("%w: data chunk before fmt chunk", ErrNotWAV)
			}
			samples, err := readSamples(br, size, format)
			if err != nil {
				return nil, err
			}
			return &Wave{Format: format, Samples: samples}, nil

		default:
			if err := skip(br, int64(size)+int64(size&1)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrNotWAV, err)
			}
		}
	}
}

func readFmtChunk(r io.Reader, size uint32) (PCMFormat, error) {
	if size < 16 || size > maxFmtChunk {
		return PCMFormat{}, fmt.Errorf("%w: fmt chunk of %d bytes", ErrNotWAV, size)
	}
	body := make([]byte, size+size&1)
	if _, err := io.ReadFull(r, body); err != nil {
		return PCMFormat{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}

	le := binary.LittleEndian
	tag := le.Uint16(body[0:2])
	f := PCMFormat{
		Channels:   int(le.Uint16(body[2:4])),
		SampleRate: int(le.Uint32(body[4:8])),
		BitDepth:   int(le.Uint16(body[14:16])),
	}
	if tag == wavFormatExtensible && size >= 26 {
		// First two bytes of the sub-format GUID carry the real tag.
		tag = le.Uint16(body[24:26])
	}

	switch {
	case tag == wavFormatPCM && (f.BitDepth == 8 || f.BitDepth == 16 || f.BitDepth == 24 || f.BitDepth == 32):
	case tag == wavFormatFloat && (f.BitDepth == 32 || f.BitDepth == 64):
		f.IsFloat = true
	default:
		return PCMFormat{}, fmt.Errorf("%w: format tag %d, %d bits", ErrUnsupportedWAV, tag, f.BitDepth)
	}
	if f.Channels <= 0 || f.SampleRate < MinSampleRate || f.SampleRate > MaxSampleRate {
		return PCMFormat{}, fmt.Errorf("%w: %d channels at %d Hz", ErrUnsupportedWAV, f.Channels, f.SampleRate)
	}
	return f, nil
}

func readSamples(r io.Reader, size uint32, f PCMFormat) ([]float64, error) {
	frameBytes := f.BytesPerFrame()
	// A data chunk whose declared size runs past the end of file is read up
	// to EOF.
	data, err := io.ReadAll(io.LimitReader(r, int64(size)))
	if err != nil {
		return nil, fmt.Errorf("read data chunk: %w", err)
	}
	data = data[:len(data)-len(data)%frameBytes]

	sampleBytes := f.BitDepth / 8
	out := make([]float64, len(data)/frameBytes)
	for i := range out {
		frame := data[i*frameBytes : (i+1)*frameBytes]
		var sum float64
		for c := 0; c < f.Channels; c++ {
			sum += decodeSample(frame[c*sampleBytes:(c+1)*sampleBytes], f)
		}
		out[i] = sum / float64(f.Channels)
	}
	return out, nil
}

func decodeSample(b []byte, f PCMFormat) float64 {
	le := binary.LittleEndian
	if f.IsFloat {
		if f.BitDepth == 64 {
			return math.Float64frombits(le.Uint64(b))
		}
		return float64(math.Float32frombits(le.Uint32(b)))
	}
	switch f.BitDepth {
	case 8:
		return (float64(b[0]) - 128) / 128
	case 16:
		return float64(int16(le.Uint16(b))) / (1 << 15)
	case 24:
		v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
		return float64(v) / (1 << 23)
	default:
		return float64(int32(le.Uint32(b))) / (1 << 31)
	}
}

func skip(r io.Reader, n int64) error {
	_, err := io.CopyN(io.Discard, r, n)
	return err
}

// WriteWAV writes mono 16-bit PCM samples as a RIFF/WAVE stream.
func WriteWAV(w io.Writer, sampleRate int, samples []float64) error {
	le := binary.LittleEndian
	dataSize := uint32(len(samples) * 2)

	hdr := make([]byte, 0, 44)
	hdr = append(hdr, "RIFF"...)
	hdr = le.AppendUint32(hdr, 36+dataSize)
	hdr = append(hdr, "WAVE"...)
	hdr = append(hdr, "fmt "...)
	hdr = le.AppendUint32(hdr, 16)
	hdr = le.AppendUint16(hdr, wavFormatPCM)
	hdr = le.AppendUint16(hdr, 1)
	hdr = le.AppendUint32(hdr, uint32(sampleRate))
	hdr = le.AppendUint32(hdr, uint32(sampleRate*2))
	hdr = le.AppendUint16(hdr, 2)
	hdr = le.AppendUint16(hdr, 16)
	hdr = append(hdr, "data"...)
	hdr = le.AppendUint32(hdr, dataSize)

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(hdr); err != nil {
		return err
	}
	var s [2]byte
	for _, v := range samples {
		v = math.Max(-1, math.Min(1, v))
		le.PutUint16(s[:], uint16(int16(math.Round(v*math.MaxInt16))))
		if _, err := bw.Write(s[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}
