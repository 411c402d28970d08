package observability_test

import (
	"context"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/xraph/courier/observability"
	"github.com/xraph/courier/stats"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] += dp.Value
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = dp.Value
				}
			}
		}
	}
	return out
}

func TestRegister_ObservesSnapshot(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	acc := stats.New()
	acc.RecordCycle(3, time.Now())
	acc.RecordItem(stats.Item{Processed: true, Delivered: 2})
	acc.RecordItem(stats.Item{Processed: true, Failed: true, DeliveryFailures: 1, TokensDeactivated: 1})
	acc.RecordReclaimed(4)

	depth := int64(17)
	reg, err := observability.RegisterWithMeter(mp.Meter("test"), acc, func(context.Context) (int64, error) {
		return depth, nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() { _ = reg.Unregister() }()

	got := collect(t, reader)
	expected := map[string]int64{
		"courier.cycles":               1,
		"courier.intents.claimed":      3,
		"courier.intents.processed":    2,
		"courier.intents.failed":       1,
		"courier.deliveries.succeeded": 2,
		"courier.deliveries.failed":    1,
		"courier.tokens.deactivated":   1,
		"courier.intents.reclaimed":    4,
		"courier.queue.pending":        17,
	}
	for name, want := range expected {
		if got[name] != want {
			t.Errorf("%s = %d, want %d", name, got[name], want)
		}
	}

	acc.RecordItem(stats.Item{Processed: true})
	depth = 16
	got = collect(t, reader)
	if got["courier.intents.processed"] != 3 {
		t.Errorf("processed after update = %d, want 3", got["courier.intents.processed"])
	}
	if got["courier.queue.pending"] != 16 {
		t.Errorf("pending after update = %d, want 16", got["courier.queue.pending"])
	}
}

func TestRegister_NilDepthSkipsGauge(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	reg, err := observability.RegisterWithMeter(mp.Meter("test"), stats.New(), nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer func() { _ = reg.Unregister() }()

	if _, ok := collect(t, reader)["courier.queue.pending"]; ok {
		t.Error("queue gauge exported without a depth func")
	}
}
