package cache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/worldx-ucra/worldcache/internal/cache"

// metrics records lookup activity.
type metrics struct {
	lookups       metric.Int64Counter
	invalidations metric.Int64Counter
	persistErrors metric.Int64Counter
	analysisHist  metric.Float64Histogram
}

// newMetrics creates the instruments on meter, or on a no-op meter when nil.
func newMetrics(meter metric.Meter) (*metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}

	lookups, err := meter.Int64Counter(
		"worldcache.lookup.total",
		metric.WithDescription("Cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	invalidations, err := meter.Int64Counter(
		"worldcache.invalidate.total",
		metric.WithDescription("Invalidation checks by resulting status"),
		metric.WithUnit("{check}"),
	)
	if err != nil {
		return nil, err
	}

	persistErrors, err := meter.Int64Counter(
		"worldcache.persist.errors",
		metric.WithDescription("Analysis results that could not be written to disk"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	analysisHist, err := meter.Float64Histogram(
		"worldcache.analysis.duration_ms",
		metric.WithDescription("Analyzer invocation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &metrics{
		lookups:       lookups,
		invalidations: invalidations,
		persistErrors: persistErrors,
		analysisHist:  analysisHist,
	}, nil
}

func (m *metrics) recordLookup(ctx context.Context, o Outcome) {
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", o.String())))
}

func (m *metrics) recordInvalidation(ctx context.Context, s Status) {
	m.invalidations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", s.String())))
}

func (m *metrics) recordPersistError(ctx context.Context) {
	m.persistErrors.Add(ctx, 1)
}

func (m *metrics) recordAnalysis(ctx context.Context, d time.Duration, err error) {
	m.analysisHist.Record(ctx, float64(d.Microseconds())/1000,
		metric.WithAttributes(attribute.Bool("error", err != nil)))
}
