package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/courier/stats"
)

const instrumentationName = "github.com/xraph/courier/observability"

// DepthFunc reports the number of pending intents.
type DepthFunc func(ctx context.Context) (int64, error)

// Register creates observable instruments on the global MeterProvider.
func Register(acc *stats.Accumulator, depth DepthFunc) (metric.Registration, error) {
	return RegisterWithMeter(otel.Meter(instrumentationName), acc, depth)
}

// RegisterWithMeter creates observable instruments on meter that read acc
// on every collection. depth may be nil, in which case no queue gauge is
// exported. The returned Registration must be unregistered on shutdown.
//
// Instruments (all Int64):
//   - courier.cycles, courier.intents.claimed, courier.intents.processed,
//     courier.intents.failed, courier.intents.skipped
//   - courier.deliveries.succeeded, courier.deliveries.failed
//   - courier.tokens.deactivated, courier.store.errors
//   - courier.intents.reclaimed, courier.intents.purged
//   - courier.queue.pending (gauge)
func RegisterWithMeter(meter metric.Meter, acc *stats.Accumulator, depth DepthFunc) (metric.Registration, error) {
	type counter struct {
		name, desc string
		read       func(stats.Snapshot) int64
	}
	counters := []counter{
		{"courier.cycles", "Poll cycles that claimed work", func(s stats.Snapshot) int64 { return s.Cycles }},
		{"courier.intents.claimed", "Intents claimed", func(s stats.Snapshot) int64 { return s.Claimed }},
		{"courier.intents.processed", "Intents marked processed", func(s stats.Snapshot) int64 { return s.Processed }},
		{"courier.intents.failed", "Intents whose delivery step failed", func(s stats.Snapshot) int64 { return s.Failed }},
		{"courier.intents.skipped", "Intents with no active tokens", func(s stats.Snapshot) int64 { return s.Skipped }},
		{"courier.deliveries.succeeded", "Per-token messages accepted by the provider", func(s stats.Snapshot) int64 { return s.Delivered }},
		{"courier.deliveries.failed", "Per-token messages not delivered", func(s stats.Snapshot) int64 { return s.DeliveryFailures }},
		{"courier.tokens.deactivated", "Tokens deactivated after a permanent-invalid verdict", func(s stats.Snapshot) int64 { return s.TokensDeactivated }},
		{"courier.store.errors", "Poll cycles aborted by a queue store error", func(s stats.Snapshot) int64 { return s.StoreErrors }},
		{"courier.intents.reclaimed", "Stuck claims returned to pending", func(s stats.Snapshot) int64 { return s.Reclaimed }},
		{"courier.intents.purged", "Processed intents deleted by retention", func(s stats.Snapshot) int64 { return s.Purged }},
	}

	var (
		errs        []error
		instruments = make([]metric.Observable, 0, len(counters)+1)
		observed    = make([]metric.Int64ObservableCounter, 0, len(counters))
	)
	for _, c := range counters {
		inst, err := meter.Int64ObservableCounter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		instruments = append(instruments, inst)
		observed = append(observed, inst)
	}

	var pending metric.Int64ObservableGauge
	if depth != nil {
		g, err := meter.Int64ObservableGauge("courier.queue.pending",
			metric.WithDescription("Intents waiting to be claimed"),
			metric.WithUnit("{intent}"),
		)
		if err != nil {
			errs = append(errs, err)
		} else {
			pending = g
			instruments = append(instruments, g)
		}
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("courier/observability: create instruments: %w", errors.Join(errs...))
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		snap := acc.Snapshot()
		for i, inst := range observed {
			o.ObserveInt64(inst, counters[i].read(snap))
		}
		if pending != nil {
			n, err := depth(ctx)
			if err != nil {
				return fmt.Errorf("courier/observability: queue depth: %w", err)
			}
			o.ObserveInt64(pending, n)
		}
		return nil
	}, instruments...)
}
