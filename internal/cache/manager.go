package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/oxtoacart/bpool"
	"github.com/worldx-ucra/worldcache/internal/analysis"
	"github.com/worldx-ucra/worldcache/internal/codec"
	"github.com/worldx-ucra/worldcache/internal/format"
)

// Manager serves analysis results from cache files stored next to their
// sources, invoking the analyzer on a miss.
//
// A Manager holds configuration only; it keeps no per-path state and does no
// locking. Callers serialize work per source path. Concurrent lookups of the
// same path may both analyze; the last write wins.
type Manager struct {
	analyzer analysis.Analyzer
	config   Config
	logger   *log.Logger
	metrics  *metrics
	pool     *bpool.BytePool
}

// NewManager creates a cache manager around analyzer.
func NewManager(analyzer analysis.Analyzer, config *Config) (*Manager, error) {
	if analyzer == nil {
		return nil, ErrNoAnalyzer
	}
	if config == nil {
		config = DefaultConfig()
	}

	cfg := *config
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	m, err := newMetrics(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Manager{
		analyzer: analyzer,
		config:   cfg,
		logger:   logger,
		metrics:  m,
		pool:     bpool.NewBytePool(fingerprintBufs, fingerprintBufSize),
	}, nil
}

// CachePath returns the cache file path for sourcePath.
func (m *Manager) CachePath(sourcePath string) string {
	return sourcePath + m.config.Suffix
}

// GetAnalysis returns the analysis for sourcePath, from cache when fresh.
// The only error is the analyzer's own; persistence problems are logged.
func (m *Manager) GetAnalysis(ctx context.Context, sourcePath string) (*analysis.Result, error) {
	lk, err := m.Lookup(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	return lk.Result, nil
}

// Lookup is GetAnalysis with a report of how the result was obtained.
//
// A fresh cache file is decoded and returned. A stale, truncated or
// undecodable file is removed and the source is re-analyzed. A freshly
// analyzed result is written back; a failed write is reported in
// Lookup.PersistErr and never fails the lookup. Analyzer errors are
// returned unchanged.
func (m *Manager) Lookup(ctx context.Context, sourcePath string) (Lookup, error) {
	cachePath := m.CachePath(sourcePath)

	p := m.probe(sourcePath, cachePath)
	if p.outcome == OutcomeHit {
		m.metrics.recordLookup(ctx, OutcomeHit)
		m.logger.Debug("cache hit", "path", cachePath, "size", humanize.Bytes(uint64(p.result.Size())))
		return Lookup{Result: p.result, Outcome: OutcomeHit, CachePath: cachePath}, nil
	}
	if p.outcome == OutcomeStale || p.outcome == OutcomeCorrupt {
		m.logger.Debug("dropping cache file", "path", cachePath, "outcome", p.outcome, "reason", p.reason)
		m.removeFile(cachePath)
	}
	m.metrics.recordLookup(ctx, p.outcome)

	// Snapshot freshness before analysis so a source edited mid-analysis
	// leaves a cache file that is already stale.
	fresh, freshErr := p.fresh, error(nil)
	if fresh == nil {
		var fr freshness
		if fr, freshErr = m.freshness(sourcePath); freshErr == nil {
			fresh = &fr
		}
	}

	start := time.Now()
	res, err := m.analyzer.Analyze(ctx, sourcePath)
	m.metrics.recordAnalysis(ctx, time.Since(start), err)
	if err != nil {
		return Lookup{Outcome: p.outcome, CachePath: cachePath}, err
	}
	if res == nil {
		return Lookup{Outcome: p.outcome, CachePath: cachePath}, analysis.ErrEmptyResult
	}
	m.logger.Debug("analyzed source", "path", sourcePath, "frames", res.FrameCount, "duration", time.Since(start))

	lk := Lookup{Result: res, Outcome: p.outcome, CachePath: cachePath}
	if fresh == nil {
		lk.PersistErr = fmt.Errorf("%w: %w", ErrSourceUnreadable, freshErr)
	} else {
		lk.PersistErr = m.persist(cachePath, res, *fresh)
	}
	if lk.PersistErr != nil {
		m.metrics.recordPersistError(ctx)
		m.logger.Warn("could not write cache file", "path", cachePath, "error", lk.PersistErr)
	}
	return lk, nil
}

// probeResult is what an existing cache file says about a lookup.
type probeResult struct {
	outcome Outcome
	result  *analysis.Result
	// fresh is the source freshness if it was computed while probing.
	fresh  *freshness
	reason error
}

// probe classifies the cache file at cachePath. It never fails: anything
// that prevents a hit is reported as a miss, stale or corrupt outcome.
func (m *Manager) probe(sourcePath, cachePath string) probeResult {
	f, err := os.Open(cachePath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Debug("cache file unreadable", "path", cachePath, "error", err)
		}
		return probeResult{outcome: OutcomeMiss, reason: err}
	}
	defer f.Close() //nolint:errcheck

	h, err := readHeader(f)
	if err != nil {
		return probeResult{outcome: OutcomeCorrupt, reason: err}
	}

	fr, err := m.freshness(sourcePath)
	if err != nil {
		// The analyzer decides whether an unreadable source is fatal.
		return probeResult{outcome: OutcomeStale, reason: err}
	}
	if !fr.matches(h) {
		return probeResult{outcome: OutcomeStale, fresh: &fr, reason: errors.New("source changed")}
	}

	buf := h.AppendBinary(make([]byte, 0, format.HeaderSize))
	rest, err := io.ReadAll(f)
	if err != nil {
		return probeResult{outcome: OutcomeCorrupt, fresh: &fr, reason: err}
	}
	buf = append(buf, rest...)

	dh, blocks, err := codec.Decode(buf)
	if err != nil {
		return probeResult{outcome: OutcomeCorrupt, fresh: &fr, reason: err}
	}

	return probeResult{
		outcome: OutcomeHit,
		fresh:   &fr,
		result: &analysis.Result{
			SampleRate:    dh.SampleRate,
			FramePeriodMs: dh.FramePeriodMs,
			FrameCount:    dh.FrameCount,
			FFTSize:       dh.FFTSize,
			Spectral:      blocks.Spectral,
			Aperiodicity:  blocks.Aperiodicity,
			VoicedMask:    blocks.VoicedMask,
		},
	}
}

// persist encodes res with fresh and writes it to cachePath.
func (m *Manager) persist(cachePath string, res *analysis.Result, fresh freshness) error {
	h, err := m.headerFor(res, fresh)
	if err != nil {
		return err
	}
	buf, err := codec.Encode(&h, res.Spectral, res.Aperiodicity, res.VoicedMask)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := writeFile(cachePath, buf, m.config.AtomicWrites); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	m.logger.Debug("wrote cache file", "path", cachePath,
		"size", humanize.Bytes(uint64(len(buf))),
		"payload", humanize.Bytes(h.PayloadSize()),
		"compressed", h.IsCompressed())
	return nil
}

func (m *Manager) headerFor(res *analysis.Result, fresh freshness) (format.Header, error) {
	for _, b := range [][]byte{res.Spectral, res.Aperiodicity, res.VoicedMask} {
		if uint64(len(b)) > math.MaxUint32 {
			return format.Header{}, fmt.Errorf("%w: %d bytes", ErrBlockTooLarge, len(b))
		}
	}

	h := format.NewHeader()
	h.SampleRate = res.SampleRate
	h.FramePeriodMs = res.FramePeriodMs
	h.FrameCount = res.FrameCount
	h.FFTSize = res.FFTSize
	h.SpectralSize = uint32(len(res.Spectral))
	h.AperiodicitySize = uint32(len(res.Aperiodicity))
	h.VoicedMaskSize = uint32(len(res.VoicedMask))
	h.SourceMTime = fresh.mtime
	h.Fingerprint = fresh.fingerprint
	if m.config.Compression {
		h.SetCompressed(true)
		h.SetCodec(m.config.Codec)
	}
	return h, nil
}

// InvalidateIfChanged removes the cache file for sourcePath when it no longer
// matches the source, or cannot be read as a cache file at all. It never
// analyzes. An error is returned only when an existing cache file cannot be
// opened.
func (m *Manager) InvalidateIfChanged(ctx context.Context, sourcePath string) (Status, error) {
	cachePath := m.CachePath(sourcePath)

	status, err := m.checkValid(sourcePath, cachePath)
	if err != nil {
		return StatusAbsent, fmt.Errorf("open cache file: %w", err)
	}
	if status == StatusInvalidated {
		m.removeFile(cachePath)
		m.logger.Info("invalidated cache file", "path", cachePath)
	}
	m.metrics.recordInvalidation(ctx, status)
	return status, nil
}

func (m *Manager) checkValid(sourcePath, cachePath string) (Status, error) {
	f, err := os.Open(cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return StatusAbsent, nil
		}
		return StatusAbsent, err
	}
	defer f.Close() //nolint:errcheck

	h, err := readHeader(f)
	if err != nil {
		return StatusInvalidated, nil
	}
	fr, err := m.freshness(sourcePath)
	if err != nil || !fr.matches(h) {
		return StatusInvalidated, nil
	}
	return StatusValid, nil
}
