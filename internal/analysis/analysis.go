// Package analysis defines the analysis result cached by worldcache and the
// boundary to the analyzer that produces it.
package analysis

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyResult is returned when an analyzer reports success without a result.
var ErrEmptyResult = errors.New("analyzer returned no result")

// Result is the cache payload. The three blocks are opaque byte blocks owned
// by whoever holds the Result; the cache only moves and sizes them.
type Result struct {
	SampleRate    float64
	FramePeriodMs float64
	FrameCount    uint32
	FFTSize       uint32

	Spectral     []byte
	Aperiodicity []byte
	VoicedMask   []byte
}

// Size returns the combined length of the blocks in bytes.
func (r *Result) Size() int {
	return len(r.Spectral) + len(r.Aperiodicity) + len(r.VoicedMask)
}

// Bins is the number of spectral bins per frame implied by FFTSize.
func (r *Result) Bins() int {
	if r.FFTSize == 0 {
		return 0
	}
	return int(r.FFTSize)/2 + 1
}

// SpectralMatrix views the spectral block as a frames x bins float64 matrix.
func (r *Result) SpectralMatrix() (Matrix, error) {
	m, err := MatrixFromBytes(r.Spectral, int(r.FrameCount))
	if err != nil {
		return Matrix{}, fmt.Errorf("spectral block: %w", err)
	}
	return m, nil
}

// AperiodicityMatrix views the aperiodicity block as a frames x bins float64 matrix.
func (r *Result) AperiodicityMatrix() (Matrix, error) {
	m, err := MatrixFromBytes(r.Aperiodicity, int(r.FrameCount))
	if err != nil {
		return Matrix{}, fmt.Errorf("aperiodicity block: %w", err)
	}
	return m, nil
}

// Voiced reports whether frame i is voiced. Frames beyond the mask are unvoiced.
func (r *Result) Voiced(i int) bool {
	return i >= 0 && i < len(r.VoicedMask) && r.VoicedMask[i] != 0
}

// Analyzer produces analysis results for a source audio file.
type Analyzer interface {
	Analyze(ctx context.Context, sourcePath string) (*Result, error)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, sourcePath string) (*Result, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, sourcePath string) (*Result, error) {
	return f(ctx, sourcePath)
}
