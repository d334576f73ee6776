package telemetry

import (
	"context"
	"runtime/pprof"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSanitizeLabels(t *testing.T) {
	long := strings.Repeat("x", MaxLabelValueLength+10)
	pairs := sanitizeLabels(map[string]string{
		ProfilingLabelOperation: "income",
		"order_id":              "o-1",
		"entry_id":              "e-1",
		"":                      "v",
		"empty":                 "  ",
		ProfilingLabelRegion:    long,
	})
	require.Len(t, pairs, 4)
	assert.Equal(t, ProfilingLabelOperation, pairs[0])
	assert.Equal(t, "income", pairs[1])
	assert.Equal(t, ProfilingLabelRegion, pairs[2])
	assert.Len(t, pairs[3], MaxLabelValueLength)
}

func TestWithPprofLabels(t *testing.T) {
	var got string
	WithPprofLabels(context.Background(), CashOperationLabels("expense", "cash_out"), func(ctx context.Context) {
		got, _ = pprof.Label(ctx, ProfilingLabelEntryKind)
	})
	assert.Equal(t, "cash_out", got)

	called := false
	WithPprofLabels(context.Background(), nil, func(context.Context) { called = true })
	assert.True(t, called)
}

func TestWithProfilingLabels(t *testing.T) {
	var op string
	WithProfilingLabels(context.Background(), RegionLabels("ledger_append"), func(ctx context.Context) {
		op, _ = pprof.Label(ctx, ProfilingLabelRegion)
	})
	assert.Equal(t, "ledger_append", op)
}

func TestCashOperationLabels(t *testing.T) {
	assert.Equal(t, map[string]string{ProfilingLabelOperation: "balance"}, CashOperationLabels("balance", ""))
}

func TestNewProfiler(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		p, err := NewProfiler(ProfilerConfig{}, nil)
		require.NoError(t, err)
		assert.False(t, p.IsEnabled())
		assert.NoError(t, p.Stop())
		assert.NoError(t, p.Stop())
	})

	t.Run("enabled requires an address", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ApplicationName: "cashbox"}, zap.NewNop())
		assert.ErrorContains(t, err, "server address")
	})

	t.Run("enabled requires a name", func(t *testing.T) {
		_, err := NewProfiler(ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, zap.NewNop())
		assert.ErrorContains(t, err, "application name")
	})
}

func TestLoggerProvider_Disabled(t *testing.T) {
	lp, err := NewLoggerProvider(context.Background(), LogsConfig{}, nil)
	require.NoError(t, err)
	assert.False(t, lp.IsEnabled())
	assert.False(t, lp.ZapCore(zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))
	assert.NoError(t, lp.Shutdown(context.Background()))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	log := zap.New(core).With(zap.String("component", "bus"))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "bus", entry.ContextMap()["component"])
	assert.False(t, core.Enabled(zapcore.DebugLevel))
}
