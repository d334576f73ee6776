package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newManualMeter(t *testing.T) (*sdkmetric.ManualReader, *sdkmetric.MeterProvider) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return reader, provider
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestNewCashMetrics_NilMeter(t *testing.T) {
	_, err := NewCashMetrics(nil, nil)
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestCashMetrics_Record(t *testing.T) {
	reader, provider := newManualMeter(t)
	m, err := NewCashMetrics(provider.Meter("test"), nil)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordEntry(ctx, "cash_in", "credit", "income")
	m.RecordEntry(ctx, "cash_in", "credit", "income")
	m.RecordRejection(ctx, "expense", "INSUFFICIENT_BALANCE")
	m.RecordRejection(ctx, "expense", "")
	m.RecordRetry(ctx, "income")
	m.RecordTransition(ctx, "gtm_float", "applied")
	m.RecordDroppedEvent("cashbox.ledger_entry_appended")
	m.RecordDuration(ctx, "income", 15*time.Millisecond, nil)
	m.RecordDuration(ctx, "expense", 3*time.Millisecond, errors.New("x"))
	m.RecordBalance(ctx, decimal.RequireFromString("150.25"), decimal.NewFromInt(4475000))

	metrics := collect(t, reader)

	entries := metrics["cashbox_ledger_entries_total"].Data.(metricdata.Sum[int64])
	require.Len(t, entries.DataPoints, 1)
	assert.Equal(t, int64(2), entries.DataPoints[0].Value)
	kind, _ := entries.DataPoints[0].Attributes.Value(AttrEntryKind)
	assert.Equal(t, "cash_in", kind.AsString())

	rejections := metrics["cashbox_operations_rejected_total"].Data.(metricdata.Sum[int64])
	require.Len(t, rejections.DataPoints, 1, "rejections without a code are not counted")

	durations := metrics["cashbox_operation_duration_seconds"].Data.(metricdata.Histogram[float64])
	assert.Len(t, durations.DataPoints, 2)

	balance := metrics["cashbox_balance"].Data.(metricdata.Gauge[float64])
	byCurrency := map[string]float64{}
	for _, dp := range balance.DataPoints {
		cur, _ := dp.Attributes.Value(AttrCurrency)
		byCurrency[cur.AsString()] = dp.Value
	}
	assert.InDelta(t, 150.25, byCurrency["USD"], 1e-9)
	assert.InDelta(t, 4475000, byCurrency["LBP"], 1e-9)

	assert.Contains(t, metrics, "cashbox_concurrency_retries_total")
	assert.Contains(t, metrics, "cashbox_order_transitions_total")
	assert.Contains(t, metrics, "cashbox_events_dropped_total")
}

func TestCashMetrics_NilReceiver(t *testing.T) {
	var m *CashMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordEntry(ctx, "cash_in", "credit", "income")
		m.RecordRejection(ctx, "op", "X")
		m.RecordRetry(ctx, "op")
		m.RecordTransition(ctx, "none", "noop")
		m.RecordDroppedEvent("x")
		m.RecordDuration(ctx, "op", time.Second, nil)
		m.RecordBalance(ctx, decimal.Zero, decimal.Zero)
		m.RecordDrift(ctx, decimal.Zero, decimal.Zero)
	})
}

func TestDBPoolMetrics(t *testing.T) {
	reader, provider := newManualMeter(t)
	pool, err := NewDBPoolMetrics(provider.Meter("test"), func() sql.DBStats {
		return sql.DBStats{MaxOpenConnections: 25, OpenConnections: 3, InUse: 2, Idle: 1, WaitCount: 7}
	})
	require.NoError(t, err)
	defer func() { require.NoError(t, pool.Stop()) }()

	metrics := collect(t, reader)
	conns := metrics["db_pool_connections"].Data.(metricdata.Gauge[int64])
	byState := map[string]int64{}
	for _, dp := range conns.DataPoints {
		state, _ := dp.Attributes.Value(AttrPoolState)
		byState[state.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"in_use": 2, "idle": 1, "open": 3}, byState)

	maxOpen := metrics["db_pool_connections_max"].Data.(metricdata.Gauge[int64])
	require.Len(t, maxOpen.DataPoints, 1)
	assert.Equal(t, int64(25), maxOpen.DataPoints[0].Value)
	assert.Equal(t, 0, maxOpen.DataPoints[0].Attributes.Len())
}
