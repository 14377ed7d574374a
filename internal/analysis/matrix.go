package analysis

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMatrixShape is returned when a byte block cannot be viewed as a matrix.
var ErrMatrixShape = errors.New("block does not form a frames x bins matrix")

const float64Size = 8

// Matrix is a frames x bins grid of float64 stored in one contiguous slice,
// row-major. Element (frame, bin) lives at Data[frame*Bins+bin].
type Matrix struct {
	Frames int
	Bins   int
	Data   []float64
}

// NewMatrix allocates a zeroed frames x bins matrix.
func NewMatrix(frames, bins int) Matrix {
	return Matrix{
		Frames: frames,
		Bins:   bins,
		Data:   make([]float64, frames*bins),
	}
}

// At returns element (frame, bin).
func (m Matrix) At(frame, bin int) float64 {
	return m.Data[frame*m.Bins+bin]
}

// Set stores v at (frame, bin).
func (m Matrix) Set(frame, bin int, v float64) {
	m.Data[frame*m.Bins+bin] = v
}

// Row returns frame's bins. The slice aliases m.Data.
func (m Matrix) Row(frame int) []float64 {
	off := frame * m.Bins
	return m.Data[off : off+m.Bins : off+m.Bins]
}

// ByteSize is the length of Bytes().
func (m Matrix) ByteSize() int {
	return len(m.Data) * float64Size
}

// Bytes encodes the matrix as little-endian float64 values, row-major.
func (m Matrix) Bytes() []byte {
	out := make([]byte, 0, m.ByteSize())
	for _, v := range m.Data {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

// MatrixFromBytes decodes a block written by Bytes, splitting it into frames rows.
func MatrixFromBytes(b []byte, frames int) (Matrix, error) {
	if frames <= 0 {
		if len(b) == 0 {
			return Matrix{}, nil
		}
		return Matrix{}, fmt.Errorf("%w: %d bytes for %d frames", ErrMatrixShape, len(b), frames)
	}
	if len(b)%float64Size != 0 {
		return Matrix{}, fmt.Errorf("%w: %d bytes is not a whole number of float64", ErrMatrixShape, len(b))
	}
	n := len(b) / float64Size
	if n%frames != 0 {
		return Matrix{}, fmt.Errorf("%w: %d values over %d frames", ErrMatrixShape, n, frames)
	}

	m := NewMatrix(frames, n/frames)
	for i := range m.Data {
		m.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*float64Size:]))
	}
	return m, nil
}
