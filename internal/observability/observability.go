// Package observability exports the process counters over OTLP. The expvar
// counters in internal/metrics stay the source of truth; this package
// registers observable gauges that sample them on each collection, so call
// sites never touch the OTel API directly.
package observability

import (
	"context"
	"expvar"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	// Registers the expvar counters sampled below.
	_ "github.com/tallyline/tallyline/internal/metrics"
	"github.com/tallyline/tallyline/pkg/types"
)

const meterName = "tallyline"

// counters maps instrument names to the expvar variables they sample. Only
// *expvar.Int entries are registered; anything else is skipped.
var counters = []string{
	"signals_ingested",
	"signals_rejected",
	"signals_deduplicated",
	"log_rows_persisted",
	"unknown_sku_ingests",
	"clock_corrections",
	"ledger_appends",
	"reconcile_noops",
	"reconcile_failures",
	"reconcile_deferred",
	"sweep_cycles",
	"anomalies_detected",
	"alerts_dispatched",
	"alerts_failed",
}

// Init sets up the OTLP metric pipeline and returns a shutdown function.
// When no endpoint is configured it returns a no-op shutdown so callers do
// not need to branch.
func Init(ctx context.Context, cfg types.ObservabilityConfig) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP metric exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(provider)

	if err := registerCounters(provider.Meter(meterName)); err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return provider.Shutdown, nil
}

func registerCounters(meter metric.Meter) error {
	gauges := make(map[string]metric.Int64ObservableGauge, len(counters))
	observables := make([]metric.Observable, 0, len(counters))

	for _, name := range counters {
		g, err := meter.Int64ObservableGauge("tallyline." + name)
		if err != nil {
			return fmt.Errorf("creating gauge %s: %w", name, err)
		}
		gauges[name] = g
		observables = append(observables, g)
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, g := range gauges {
			v, ok := expvar.Get(name).(*expvar.Int)
			if !ok {
				continue
			}
			o.ObserveInt64(g, v.Value())
		}
		return nil
	}, observables...)
	if err != nil {
		return fmt.Errorf("registering metric callback: %w", err)
	}
	return nil
}
