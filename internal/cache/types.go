package cache

import (
	"errors"

	"github.com/charmbracelet/log"
	"github.com/worldx-ucra/worldcache/internal/analysis"
	"github.com/worldx-ucra/worldcache/internal/format"
	"go.opentelemetry.io/otel/metric"
)

// DefaultSuffix is appended to a source path to form its cache path.
const DefaultSuffix = ".worldcache"

// Common errors for cache operations
var (
	// ErrNoAnalyzer is returned when a Manager is built without an analyzer.
	ErrNoAnalyzer = errors.New("no analyzer configured")

	// ErrBlockTooLarge is returned when a block does not fit the header's
	// 32-bit size fields.
	ErrBlockTooLarge = errors.New("analysis block too large for cache format")

	// ErrSourceUnreadable is reported when the source freshness could not be
	// determined, so the result cannot be persisted.
	ErrSourceUnreadable = errors.New("source freshness unavailable")
)

// Outcome describes how a lookup was served.
type Outcome int

const (
	// OutcomeMiss means no cache file existed.
	OutcomeMiss Outcome = iota

	// OutcomeHit means the cache file was fresh and decoded.
	OutcomeHit

	// OutcomeStale means the source changed since the cache file was written.
	OutcomeStale

	// OutcomeCorrupt means the cache file was truncated or undecodable.
	OutcomeCorrupt
)

// String returns the string representation of the outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeMiss:
		return "miss"
	case OutcomeHit:
		return "hit"
	case OutcomeStale:
		return "stale"
	case OutcomeCorrupt:
		return "corrupt"
	default:
		return "unknown"
	}
}

// Status is the result of InvalidateIfChanged.
type Status int

const (
	// StatusAbsent means there was no cache file.
	StatusAbsent Status = iota

	// StatusInvalidated means a stale or corrupt cache file was removed.
	StatusInvalidated

	// StatusValid means the cache file still matches its source.
	StatusValid
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusAbsent:
		return "absent"
	case StatusInvalidated:
		return "invalidated"
	case StatusValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Lookup reports the result of a cache lookup.
type Lookup struct {
	// Result is always set when Manager.Lookup returns a nil error. The
	// caller owns it; the manager keeps no reference.
	Result *analysis.Result

	Outcome   Outcome
	CachePath string

	// PersistErr is set when a freshly analyzed result could not be written
	// to disk. It does not affect Result.
	PersistErr error
}

// Config holds configuration for a Manager.
type Config struct {
	// Compression stores payloads compressed with Codec.
	Compression bool
	Codec       format.Codec

	// AtomicWrites writes to a temp file and renames it over the cache path,
	// so concurrent readers never observe a partially written file.
	AtomicWrites bool

	// Suffix is appended to source paths; DefaultSuffix when empty.
	Suffix string

	// Logger defaults to log.Default().
	Logger *log.Logger

	// Meter records lookup metrics; a no-op meter when nil.
	Meter metric.Meter
}

// DefaultConfig returns default cache configuration
func DefaultConfig() *Config {
	return &Config{
		Compression:  true,
		Codec:        format.CodecZstd,
		AtomicWrites: true,
		Suffix:       DefaultSuffix,
	}
}
