// Package observability builds the metrics instruments and HTTP surface
// described for the cache daemon: a Prometheus-scrapeable /metrics endpoint
// backed by OpenTelemetry instruments, /health, and the read-only and admin
// artifact APIs. A single Facade is constructed once at startup and handed
// by reference to every component that reports through it — there is no
// package-level mutable state to race on or leak between test runs.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Facade owns the OTel MeterProvider and every instrument the daemon
// records through, plus the Prometheus exposition reader built on top of
// it. It implements composer.Metrics so the cache cascade can report
// straight through it without internal/observability becoming a dependency
// of internal/composer.
type Facade struct {
	provider *sdkmetric.MeterProvider
	registry *promclient.Registry

	startedAt time.Time
	version   string

	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	cacheSizeBytes  metric.Int64UpDownCounter
	requestDuration metric.Float64Histogram
	bandwidth       metric.Int64Counter
	upstreamReqs    metric.Int64Counter
	evictions       metric.Int64Counter
	p2pRequests     metric.Int64Counter
}

// New builds a Facade. version is reported by /health.
func New(version string) (*Facade, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("observability: creating prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("fabrik")

	f := &Facade{provider: provider, registry: registry, startedAt: time.Now(), version: version}

	if f.cacheHits, err = meter.Int64Counter("fabrik_cache_hits_total"); err != nil {
		return nil, err
	}
	if f.cacheMisses, err = meter.Int64Counter("fabrik_cache_misses_total"); err != nil {
		return nil, err
	}
	if f.cacheSizeBytes, err = meter.Int64UpDownCounter("fabrik_cache_size_bytes"); err != nil {
		return nil, err
	}
	if f.requestDuration, err = meter.Float64Histogram("fabrik_request_duration_seconds"); err != nil {
		return nil, err
	}
	if f.bandwidth, err = meter.Int64Counter("fabrik_bandwidth_bytes_total"); err != nil {
		return nil, err
	}
	if f.upstreamReqs, err = meter.Int64Counter("fabrik_upstream_requests_total"); err != nil {
		return nil, err
	}
	if f.evictions, err = meter.Int64Counter("fabrik_evictions_total"); err != nil {
		return nil, err
	}
	if f.p2pRequests, err = meter.Int64Counter("fabrik_p2p_requests_total"); err != nil {
		return nil, err
	}
	return f, nil
}

// Shutdown flushes and stops the underlying MeterProvider.
func (f *Facade) Shutdown(ctx context.Context) error {
	return f.provider.Shutdown(ctx)
}

// MetricsHandler serves the Prometheus text exposition format over the
// instruments registered on this Facade.
func (f *Facade) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(f.registry, promhttp.HandlerOpts{})
}

// Uptime reports how long this Facade (and, in practice, the daemon it
// backs) has been running.
func (f *Facade) Uptime() time.Duration {
	return time.Since(f.startedAt)
}

// Version returns the version string /health reports.
func (f *Facade) Version() string {
	return f.version
}
