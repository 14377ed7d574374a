package cache

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/worldx-ucra/worldcache/internal/analysis"
	"github.com/worldx-ucra/worldcache/internal/codec"
	"github.com/worldx-ucra/worldcache/internal/format"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// countingAnalyzer returns a fixed result derived from the source bytes and
// counts its invocations.
type countingAnalyzer struct {
	calls atomic.Int32
	err   error
}

func (a *countingAnalyzer) Analyze(_ context.Context, sourcePath string) (*analysis.Result, error) {
	a.calls.Add(1)
	if a.err != nil {
		return nil, a.err
	}
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return nil, err
	}
	return testResult(src), nil
}

func testResult(seed []byte) *analysis.Result {
	m := analysis.NewMatrix(10, 65)
	for i := range m.Data {
		m.Data[i] = float64(i%17) * 0.25
	}
	if len(seed) > 0 {
		m.Data[0] = float64(seed[0])
	}
	ap := analysis.NewMatrix(10, 65)
	for i := range ap.Data {
		ap.Data[i] = 0.5
	}
	return &analysis.Result{
		SampleRate:    16000,
		FramePeriodMs: 5,
		FrameCount:    10,
		FFTSize:       128,
		Spectral:      m.Bytes(),
		Aperiodicity:  ap.Bytes(),
		VoicedMask:    []byte{1, 1, 0, 0, 1, 1, 1, 0, 0, 0},
	}
}

func quietLogger() *log.Logger {
	return log.NewWithOptions(&bytes.Buffer{}, log.Options{Level: log.DebugLevel})
}

func newTestManager(t *testing.T, a analysis.Analyzer, mutate func(*Config)) *Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Logger = quietLogger()
	if mutate != nil {
		mutate(cfg)
	}
	m, err := NewManager(a, cfg)
	require.NoError(t, err)
	return m
}

func writeSource(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(nil, nil)
	assert.ErrorIs(t, err, ErrNoAnalyzer)

	m, err := NewManager(&countingAnalyzer{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/a/b.wav.worldcache", m.CachePath("/a/b.wav"))

	m, err = NewManager(&countingAnalyzer{}, &Config{Suffix: ".wc"})
	require.NoError(t, err)
	assert.Equal(t, "x.wav.wc", m.CachePath("x.wav"))
}

func TestManager_MissThenHit(t *testing.T) {
	codecs := []struct {
		name   string
		mutate func(*Config)
		flags  uint16
	}{
		{"zstd", nil, format.FlagCompressed},
		{"lz4", func(c *Config) { c.Codec = format.CodecLZ4 }, format.FlagCompressed | format.FlagLZ4},
		{"raw", func(c *Config) { c.Compression = false }, 0},
		{"non-atomic", func(c *Config) { c.AtomicWrites = false }, format.FlagCompressed},
	}

	for _, tc := range codecs {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			src := writeSource(t, dir, "voice.wav", []byte("some audio bytes"))
			a := &countingAnalyzer{}
			m := newTestManager(t, a, tc.mutate)
			ctx := context.Background()

			first, err := m.Lookup(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, OutcomeMiss, first.Outcome)
			assert.NoError(t, first.PersistErr)
			assert.Equal(t, int32(1), a.calls.Load())
			assert.FileExists(t, m.CachePath(src))

			h, err := ReadHeader(m.CachePath(src))
			require.NoError(t, err)
			assert.Equal(t, tc.flags, h.Flags)
			assert.Equal(t, uint32(10), h.FrameCount)
			assert.Equal(t, uint32(len(first.Result.Spectral)), h.SpectralSize)

			second, err := m.Lookup(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, OutcomeHit, second.Outcome)
			assert.Equal(t, int32(1), a.calls.Load(), "hit must not re-analyze")
			assert.Equal(t, first.Result, second.Result)
		})
	}
}

func TestManager_CompressionShrinksFile(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("x"))

	raw := newTestManager(t, &countingAnalyzer{}, func(c *Config) {
		c.Compression = false
		c.Suffix = ".raw"
	})
	packed := newTestManager(t, &countingAnalyzer{}, func(c *Config) { c.Suffix = ".zst" })

	_, err := raw.GetAnalysis(context.Background(), src)
	require.NoError(t, err)
	_, err = packed.GetAnalysis(context.Background(), src)
	require.NoError(t, err)

	rawInfo, err := os.Stat(raw.CachePath(src))
	require.NoError(t, err)
	packedInfo, err := os.Stat(packed.CachePath(src))
	require.NoError(t, err)
	assert.Less(t, packedInfo.Size(), rawInfo.Size())
}

func TestManager_ContentChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("original"))
	a := &countingAnalyzer{}
	m := newTestManager(t, a, nil)
	ctx := context.Background()

	first, err := m.GetAnalysis(ctx, src)
	require.NoError(t, err)

	// Keep the mtime so only the fingerprint differs.
	info, err := os.Stat(src)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(src, []byte("modified"), 0o644))
	require.NoError(t, os.Chtimes(src, info.ModTime(), info.ModTime()))

	lk, err := m.Lookup(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, lk.Outcome)
	assert.Equal(t, int32(2), a.calls.Load())
	assert.NotEqual(t, first.Spectral, lk.Result.Spectral)

	lk, err = m.Lookup(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, OutcomeHit, lk.Outcome)
}

func TestManager_MTimeChangeInvalidates(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("same bytes"))
	a := &countingAnalyzer{}
	m := newTestManager(t, a, nil)
	ctx := context.Background()

	_, err := m.GetAnalysis(ctx, src)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, later, later))

	lk, err := m.Lookup(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, OutcomeStale, lk.Outcome)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestManager_CorruptCacheRegenerates(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
	}{
		{
			name: "truncated payload",
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:len(data)-7], 0o644))
			},
		},
		{
			name: "truncated header",
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(path, data[:format.HeaderSize-1], 0o644))
			},
		},
		{
			name: "empty file",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, nil, 0o644))
			},
		},
		{
			name: "garbage",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0xAB}, 256), 0o644))
			},
		},
		{
			name: "unknown version",
			corrupt: func(t *testing.T, path string) {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				data[4] = 99
				require.NoError(t, os.WriteFile(path, data, 0o644))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			src := writeSource(t, dir, "a.wav", []byte("audio"))
			a := &countingAnalyzer{}
			m := newTestManager(t, a, nil)
			ctx := context.Background()

			want, err := m.GetAnalysis(ctx, src)
			require.NoError(t, err)
			tt.corrupt(t, m.CachePath(src))

			lk, err := m.Lookup(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, OutcomeCorrupt, lk.Outcome)
			assert.Equal(t, want, lk.Result)
			assert.Equal(t, int32(2), a.calls.Load())

			// The rewritten file is valid again.
			lk, err = m.Lookup(ctx, src)
			require.NoError(t, err)
			assert.Equal(t, OutcomeHit, lk.Outcome)
		})
	}
}

func TestManager_AnalyzerErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	boom := errors.New("analysis exploded")
	m := newTestManager(t, &countingAnalyzer{err: boom}, nil)

	res, err := m.GetAnalysis(context.Background(), src)
	assert.Nil(t, res)
	assert.Same(t, boom, err)
	assert.NoFileExists(t, m.CachePath(src))
}

func TestManager_NilResult(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	nilAnalyzer := analysis.AnalyzerFunc(func(context.Context, string) (*analysis.Result, error) {
		return nil, nil
	})
	m := newTestManager(t, nilAnalyzer, nil)

	_, err := m.GetAnalysis(context.Background(), src)
	assert.ErrorIs(t, err, analysis.ErrEmptyResult)
	assert.NoFileExists(t, m.CachePath(src))
}

func TestManager_MissingSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "missing.wav")
	a := &countingAnalyzer{}
	m := newTestManager(t, a, nil)

	_, err := m.GetAnalysis(context.Background(), src)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestManager_PersistFailureIsNotFatal(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	a := &countingAnalyzer{}
	m := newTestManager(t, a, nil)

	// A directory where the cache file should go cannot be replaced.
	require.NoError(t, os.Mkdir(m.CachePath(src), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.CachePath(src), "keep"), []byte("x"), 0o644))

	lk, err := m.Lookup(context.Background(), src)
	require.NoError(t, err)
	require.NotNil(t, lk.Result)
	assert.Error(t, lk.PersistErr)

	res, err := m.GetAnalysis(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, lk.Result, res)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestManager_OversizedPayloadIsNotPersisted(t *testing.T) {
	if testing.Short() {
		t.Skip("allocates a 1 GiB block")
	}
	dir := t.TempDir()
	src := writeSource(t, dir, "long.wav", []byte("audio"))
	var calls atomic.Int32
	huge := analysis.AnalyzerFunc(func(context.Context, string) (*analysis.Result, error) {
		calls.Add(1)
		return &analysis.Result{
			SampleRate:    44100,
			FramePeriodMs: 5,
			FrameCount:    1,
			Spectral:      make([]byte, codec.MaxPayloadSize),
			VoicedMask:    []byte{1},
		}, nil
	})
	m := newTestManager(t, huge, nil)

	for i := 0; i < 2; i++ {
		lk, err := m.Lookup(context.Background(), src)
		require.NoError(t, err)
		require.NotNil(t, lk.Result)
		assert.Equal(t, OutcomeMiss, lk.Outcome, "lookup %d", i)
		assert.ErrorIs(t, lk.PersistErr, codec.ErrPayloadTooLarge)
		assert.NoFileExists(t, m.CachePath(src))
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestManager_ReadOnlyDirectory(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("directory permissions are not enforced")
	}
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	require.NoError(t, os.Chmod(dir, 0o555))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	m := newTestManager(t, &countingAnalyzer{}, nil)
	lk, err := m.Lookup(context.Background(), src)
	require.NoError(t, err)
	assert.NotNil(t, lk.Result)
	assert.Error(t, lk.PersistErr)
	assert.NoFileExists(t, m.CachePath(src))
}

func TestManager_ResultNotRetained(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	m := newTestManager(t, &countingAnalyzer{}, nil)
	ctx := context.Background()

	first, err := m.GetAnalysis(ctx, src)
	require.NoError(t, err)
	want := append([]byte(nil), first.Spectral...)
	for i := range first.Spectral {
		first.Spectral[i] = 0
	}

	second, err := m.GetAnalysis(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, want, second.Spectral)
}

func TestManager_InvalidateIfChanged(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	a := &countingAnalyzer{}
	m := newTestManager(t, a, nil)
	ctx := context.Background()

	status, err := m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StatusAbsent, status)

	_, err = m.GetAnalysis(ctx, src)
	require.NoError(t, err)

	status, err = m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StatusValid, status)
	assert.FileExists(t, m.CachePath(src))

	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(src, later, later))

	status, err = m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidated, status)
	assert.NoFileExists(t, m.CachePath(src))
	assert.Equal(t, int32(1), a.calls.Load(), "invalidation never analyzes")
}

func TestManager_InvalidateCorruptAndOrphaned(t *testing.T) {
	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	m := newTestManager(t, &countingAnalyzer{}, nil)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(m.CachePath(src), []byte("nope"), 0o644))
	status, err := m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidated, status)
	assert.NoFileExists(t, m.CachePath(src))

	_, err = m.GetAnalysis(ctx, src)
	require.NoError(t, err)
	require.NoError(t, os.Remove(src))

	status, err = m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalidated, status)
}

func TestFingerprint(t *testing.T) {
	sum := func(b []byte, bufSize int) uint64 {
		t.Helper()
		v, err := Fingerprint(bytes.NewReader(b), make([]byte, bufSize))
		require.NoError(t, err)
		return v
	}

	data := bytes.Repeat([]byte("0123456789"), 10000)
	assert.Equal(t, sum(data, 7), sum(data, 64*1024), "independent of buffer size")
	assert.NotEqual(t, sum([]byte("ab"), 8), sum([]byte("ba"), 8), "order sensitive")

	empty, err := Fingerprint(bytes.NewReader(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xef46db3751d8e999), empty)
}

func TestManager_Metrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	dir := t.TempDir()
	src := writeSource(t, dir, "a.wav", []byte("audio"))
	m := newTestManager(t, &countingAnalyzer{}, func(c *Config) { c.Meter = provider.Meter("test") })
	ctx := context.Background()

	_, err := m.Lookup(ctx, src)
	require.NoError(t, err)
	_, err = m.Lookup(ctx, src)
	require.NoError(t, err)
	_, err = m.InvalidateIfChanged(ctx, src)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	counts := map[string]int64{}
	var sawHistogram bool
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					for _, kv := range dp.Attributes.ToSlice() {
						counts[md.Name+"/"+kv.Value.AsString()] += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				if md.Name == "worldcache.analysis.duration_ms" {
					sawHistogram = len(data.DataPoints) > 0
				}
			}
		}
	}

	assert.Equal(t, int64(1), counts["worldcache.lookup.total/miss"])
	assert.Equal(t, int64(1), counts["worldcache.lookup.total/hit"])
	assert.Equal(t, int64(1), counts["worldcache.invalidate.total/valid"])
	assert.True(t, sawHistogram)
}
