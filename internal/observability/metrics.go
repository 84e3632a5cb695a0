package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// LoaderMetrics holds the batching metrics recorded by relation loaders.
type LoaderMetrics struct {
	batchSize         metric.Int64Histogram
	batchResultRows   metric.Int64Histogram
	batchCacheHits    metric.Int64Counter
	batchCacheMisses  metric.Int64Counter
	batchQueriesSaved metric.Int64Counter
	batchFailures     metric.Int64Counter
	batchDuration     metric.Float64Histogram
	shortCircuits     metric.Int64Counter
}

// InitLoaderMetrics creates the loader instruments on the global meter provider.
func InitLoaderMetrics() (*LoaderMetrics, error) {
	meter := otel.Meter("relload")

	batchSize, err := meter.Int64Histogram(
		"relload.batch.size",
		metric.WithDescription("Number of distinct keys fetched by one batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch size histogram: %w", err)
	}

	batchResultRows, err := meter.Int64Histogram(
		"relload.batch.result_rows",
		metric.WithDescription("Number of rows returned by one batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch result rows histogram: %w", err)
	}

	batchCacheHits, err := meter.Int64Counter(
		"relload.batch.cache_hits",
		metric.WithDescription("Number of loads answered by a cached or pending key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch cache hits counter: %w", err)
	}

	batchCacheMisses, err := meter.Int64Counter(
		"relload.batch.cache_misses",
		metric.WithDescription("Number of loads that registered a new key"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch cache misses counter: %w", err)
	}

	batchQueriesSaved, err := meter.Int64Counter(
		"relload.batch.queries_saved",
		metric.WithDescription("Number of queries saved by batching"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch queries saved counter: %w", err)
	}

	batchFailures, err := meter.Int64Counter(
		"relload.batch.failures",
		metric.WithDescription("Number of batches that failed as a whole"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch failures counter: %w", err)
	}

	batchDuration, err := meter.Float64Histogram(
		"relload.batch.duration",
		metric.WithDescription("Duration of batch fetches in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch duration histogram: %w", err)
	}

	shortCircuits, err := meter.Int64Counter(
		"relload.batch.short_circuits",
		metric.WithDescription("Number of loads answered without fetching because the parent key was absent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create short circuit counter: %w", err)
	}

	return &LoaderMetrics{
		batchSize:         batchSize,
		batchResultRows:   batchResultRows,
		batchCacheHits:    batchCacheHits,
		batchCacheMisses:  batchCacheMisses,
		batchQueriesSaved: batchQueriesSaved,
		batchFailures:     batchFailures,
		batchDuration:     batchDuration,
		shortCircuits:     shortCircuits,
	}, nil
}

// InitMetrics initializes the loader metrics and logs the outcome.
func InitMetrics(logger *slog.Logger) (*LoaderMetrics, error) {
	metrics, err := InitLoaderMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize loader metrics: %w", err)
	}

	logger.Info("loader metrics initialized")
	return metrics, nil
}

func relationAttrs(relationType string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("relation_type", relationType))
}

// RecordBatch records a successful batch fetch.
func (m *LoaderMetrics) RecordBatch(ctx context.Context, relationType string, keys, rows int, duration time.Duration) {
	attrs := relationAttrs(relationType)
	m.batchSize.Record(ctx, int64(keys), attrs)
	m.batchResultRows.Record(ctx, int64(rows), attrs)
	m.batchDuration.Record(ctx, float64(duration.Microseconds())/1000.0, attrs)
}

// RecordBatchCacheHit counts a load served without registering a key.
func (m *LoaderMetrics) RecordBatchCacheHit(ctx context.Context, relationType string) {
	m.batchCacheHits.Add(ctx, 1, relationAttrs(relationType))
}

// RecordBatchCacheMiss counts a load that registered a key.
func (m *LoaderMetrics) RecordBatchCacheMiss(ctx context.Context, relationType string) {
	m.batchCacheMisses.Add(ctx, 1, relationAttrs(relationType))
}

// RecordBatchQueriesSaved counts queries avoided by batching.
func (m *LoaderMetrics) RecordBatchQueriesSaved(ctx context.Context, count int64, relationType string) {
	if count <= 0 {
		return
	}
	m.batchQueriesSaved.Add(ctx, count, relationAttrs(relationType))
}

// RecordBatchFailure counts a batch that failed for every key.
func (m *LoaderMetrics) RecordBatchFailure(ctx context.Context, relationType string) {
	m.batchFailures.Add(ctx, 1, relationAttrs(relationType))
}

// RecordShortCircuit counts a load answered without a fetch.
func (m *LoaderMetrics) RecordShortCircuit(ctx context.Context, relationType string) {
	m.shortCircuits.Add(ctx, 1, relationAttrs(relationType))
}

type loaderMetricsContextKey struct{}

// ContextWithLoaderMetrics stores loader metrics in the provided context.
func ContextWithLoaderMetrics(ctx context.Context, metrics *LoaderMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loaderMetricsContextKey{}, metrics)
}

// LoaderMetricsFromContext retrieves loader metrics from the context.
func LoaderMetricsFromContext(ctx context.Context) *LoaderMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(loaderMetricsContextKey{}).(*LoaderMetrics)
	return metrics
}
