package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type tracedRow struct {
	ID   uint `gorm:"primaryKey"`
	Note string
}

func openTracedDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "trace.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&tracedRow{}))
	return db
}

func TestDBTracingPlugin_Disabled(t *testing.T) {
	db := openTracedDB(t)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: false}, nil)
	require.NoError(t, p.Register(db))
	assert.Nil(t, db.Callback().Query().Get("otel_slow_query:query"))
}

func TestDBTracingPlugin_RecordsSpans(t *testing.T) {
	recorder := newRecordingProvider(t)
	db := openTracedDB(t)

	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, DBSystem: "sqlite"}, zap.NewNop())
	require.NoError(t, p.Register(db))

	ctx, parent := StartSpan(context.Background(), "test")
	require.NoError(t, db.WithContext(ctx).Create(&tracedRow{Note: "a"}).Error)
	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	parent.End()

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "test")
	assert.GreaterOrEqual(t, len(names), 3, "expected insert and select spans under the parent")
}

func TestDBTracingPlugin_SlowQuery(t *testing.T) {
	recorder := newRecordingProvider(t)
	db := openTracedDB(t)

	core, logs := observer.New(zap.WarnLevel)
	p := NewDBTracingPlugin(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Nanosecond}, zap.New(core))
	require.NoError(t, p.Register(db))

	ctx, parent := StartSpan(context.Background(), "slow")
	var rows []tracedRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)
	parent.End()

	assert.GreaterOrEqual(t, logs.FilterMessage("Slow query").Len(), 1)

	marked := false
	for _, s := range recorder.Ended() {
		if s.Name() != "gorm.Query" {
			continue
		}
		for _, kv := range s.Attributes() {
			if kv.Key == "db.slow_query" && kv.Value.AsBool() {
				marked = true
			}
		}
	}
	assert.True(t, marked, "the select span carries the slow query flag")
}

func TestNewDBTracingPlugin_Defaults(t *testing.T) {
	p := NewDBTracingPlugin(DBTracingConfig{}, nil)
	assert.Equal(t, 200*time.Millisecond, p.config.SlowQueryThresh)
	assert.Equal(t, "postgresql", p.config.DBSystem)
	assert.Equal(t, DefaultDBTracingConfig().SlowQueryThresh, p.config.SlowQueryThresh)
}
