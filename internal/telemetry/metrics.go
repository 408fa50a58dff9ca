package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/guildtools/herald/internal/cache"
	"github.com/guildtools/herald/internal/store"
)

// ObserveCache registers observable gauges over the cache engine
// counters. No-op overhead when telemetry is disabled: the noop meter
// discards the registration.
func ObserveCache(c *cache.Cache) error {
	meter := Meter("")

	hits, err := meter.Int64ObservableGauge("herald.cache.hits")
	if err != nil {
		return err
	}
	misses, err := meter.Int64ObservableGauge("herald.cache.misses")
	if err != nil {
		return err
	}
	size, err := meter.Int64ObservableGauge("herald.cache.size")
	if err != nil {
		return err
	}
	hitRate, err := meter.Float64ObservableGauge("herald.cache.hit_rate")
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := c.Metrics()
		o.ObserveInt64(hits, snap.Hits)
		o.ObserveInt64(misses, snap.Misses)
		o.ObserveFloat64(hitRate, snap.HitRate)
		for cat, cs := range snap.Categories {
			o.ObserveInt64(size, cs.Size,
				metric.WithAttributes(attribute.String("category", string(cat))))
		}
		return nil
	}, hits, misses, size, hitRate)
	return err
}

// ObserveStore registers observable gauges over the gateway's per-kind
// query stats.
func ObserveStore(gw *store.Gateway) error {
	meter := Meter("")

	queries, err := meter.Int64ObservableGauge("herald.store.queries")
	if err != nil {
		return err
	}
	slow, err := meter.Int64ObservableGauge("herald.store.slow_queries")
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for kind, stats := range gw.Stats() {
			attrs := metric.WithAttributes(attribute.String("kind", string(kind)))
			o.ObserveInt64(queries, stats.Count, attrs)
			o.ObserveInt64(slow, stats.SlowQueries, attrs)
		}
		return nil
	}, queries, slow)
	return err
}
