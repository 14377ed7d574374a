package analysis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
)

const (
	// DefaultFramePeriodMs is the analysis hop size.
	DefaultFramePeriodMs = 5.0

	// DefaultF0Floor is the lowest fundamental frequency the FFT size must resolve.
	DefaultF0Floor = 71.0

	// spectral floor keeps log-domain consumers away from log(0)
	spectralFloor = 1e-16

	voicedRMS = 0.01
	voicedZCR = 0.25

	// MinF0Floor and MaxF0Floor bound the f0 floor so that every supported
	// sample rate yields an FFT size of at most 2^maxFFTExp.
	MinF0Floor = 10.0
	MaxF0Floor = MinSampleRate / 3.0

	maxFFTExp = 18
)

// ErrAnalysisRange is returned when the sample rate and f0 floor give an FFT
// size outside what the analyzer supports.
var ErrAnalysisRange = errors.New("analysis parameters out of range")

// Placeholder is a stand-in for the real WORLD analyzer. It reads the WAVE
// header to size the analysis like WORLD does, then fills the blocks with
// cheap per-frame statistics: a tilted energy envelope, a zero-crossing based
// aperiodicity and an energy/ZCR voicing decision.
//
// Spectral and aperiodicity blocks are frames x (FFTSize/2+1) little-endian
// float64 matrices; the voiced mask holds one byte per frame.
type Placeholder struct {
	FramePeriodMs float64
	F0Floor       float64
}

// NewPlaceholder returns a Placeholder with WORLD's default parameters.
func NewPlaceholder() *Placeholder {
	return &Placeholder{
		FramePeriodMs: DefaultFramePeriodMs,
		F0Floor:       DefaultF0Floor,
	}
}

// Analyze implements Analyzer.
func (p *Placeholder) Analyze(ctx context.Context, sourcePath string) (*Result, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer f.Close() //nolint:errcheck

	wave, err := ReadWAV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sourcePath, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := p.AnalyzeWave(wave)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", sourcePath, err)
	}
	return res, nil
}

// AnalyzeWave runs the placeholder analysis on decoded samples.
func (p *Placeholder) AnalyzeWave(w *Wave) (*Result, error) {
	period := p.FramePeriodMs
	if period <= 0 {
		period = DefaultFramePeriodMs
	}
	f0Floor := p.F0Floor
	if f0Floor <= 0 {
		f0Floor = DefaultF0Floor
	}

	fs := w.Format.SampleRate
	fftSize, err := FFTSize(fs, f0Floor)
	if err != nil {
		return nil, err
	}
	frames := FrameCount(fs, len(w.Samples), period)
	bins := fftSize/2 + 1

	sp := NewMatrix(frames, bins)
	ap := NewMatrix(frames, bins)
	vm := make([]byte, frames)

	hop := float64(fs) * period / 1000
	for t := 0; t < frames; t++ {
		center := int(math.Round(float64(t) * hop))
		rms, zcr := frameStats(w.Samples, center-fftSize/2, center+fftSize/2)

		energy := rms*rms + spectralFloor
		aper := math.Max(0.001, math.Min(0.999, zcr*2))
		row, arow := sp.Row(t), ap.Row(t)
		for k := range row {
			row[k] = energy / float64(1+k)
			arow[k] = aper
		}
		if rms > voicedRMS && zcr < voicedZCR {
			vm[t] = 1
		}
	}

	return &Result{
		SampleRate:    float64(fs),
		FramePeriodMs: period,
		FrameCount:    uint32(frames),
		FFTSize:       uint32(fftSize),
		Spectral:      sp.Bytes(),
		Aperiodicity:  ap.Bytes(),
		VoicedMask:    vm,
	}, nil
}

// frameStats returns the RMS and zero-crossing rate of x[lo:hi], clipped to
// the signal bounds.
func frameStats(x []float64, lo, hi int) (rms, zcr float64) {
	lo = max(lo, 0)
	hi = min(hi, len(x))
	if hi-lo < 2 {
		return 0, 0
	}
	var sum float64
	crossings := 0
	for i := lo; i < hi; i++ {
		sum += x[i] * x[i]
		if i > lo && (x[i-1] < 0) != (x[i] < 0) {
			crossings++
		}
	}
	n := float64(hi - lo)
	return math.Sqrt(sum / n), float64(crossings) / n
}

// FrameCount is the number of analysis frames for n samples at fs Hz.
func FrameCount(fs, n int, framePeriodMs float64) int {
	if fs <= 0 {
		return 0
	}
	return int(1000*float64(n)/float64(fs)/framePeriodMs) + 1
}

// FFTSize follows CheapTrick's sizing: 2^(1+floor(log2(3*fs/f0Floor))).
// It fails with ErrAnalysisRange unless 1 <= 3*fs/f0Floor < 2^maxFFTExp.
func FFTSize(fs int, f0Floor float64) (int, error) {
	ratio := 3 * float64(fs) / f0Floor
	if fs <= 0 || f0Floor <= 0 || math.IsNaN(ratio) || ratio < 1 || ratio >= 1<<maxFFTExp {
		return 0, fmt.Errorf("%w: %d Hz with f0 floor %g", ErrAnalysisRange, fs, f0Floor)
	}
	return 1 << (1 + int(math.Log2(ratio))), nil
}
