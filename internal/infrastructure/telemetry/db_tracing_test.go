package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type tracedEntry struct {
	LocalID string `gorm:"primaryKey"`
	Payload string
}

func openTracedDB(t *testing.T, cfg DBTracingConfig, log *zap.Logger) (*gorm.DB, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&tracedEntry{}))
	require.NoError(t, InstrumentDB(db, cfg, log))
	return db, recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestInstrumentDB_RecordsStatementSpans(t *testing.T) {
	db, recorder := openTracedDB(t, DBTracingConfig{Enabled: true, DBName: "queue"}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, db.WithContext(ctx).Create(&tracedEntry{LocalID: "o-1", Payload: "{}"}).Error)
	var got []tracedEntry
	require.NoError(t, db.WithContext(ctx).Find(&got).Error)
	require.Len(t, got, 1)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "gorm.Create", spans[0].Name())
	assert.Equal(t, "gorm.Query", spans[1].Name())

	for _, span := range spans {
		table, ok := spanAttr(span, "db.sql.table")
		require.True(t, ok, "span %s has no table", span.Name())
		assert.Equal(t, "traced_entries", table.AsString())
		rows, ok := spanAttr(span, "db.rows_affected")
		require.True(t, ok)
		assert.Equal(t, int64(1), rows.AsInt64())
		_, slow := spanAttr(span, "db.slow_query")
		assert.False(t, slow)
	}
}

func TestInstrumentDB_MarksFailedStatements(t *testing.T) {
	db, recorder := openTracedDB(t, DBTracingConfig{Enabled: true, DBName: "queue"}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, db.WithContext(ctx).Create(&tracedEntry{LocalID: "o-1"}).Error)
	require.Error(t, db.WithContext(ctx).Create(&tracedEntry{LocalID: "o-1"}).Error)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestInstrumentDB_FlagsSlowQueries(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	db, recorder := openTracedDB(t, DBTracingConfig{
		Enabled:            true,
		DBName:             "queue",
		SlowQueryThreshold: time.Nanosecond,
	}, zap.New(core))

	var got []tracedEntry
	require.NoError(t, db.WithContext(context.Background()).Find(&got).Error)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	slow, ok := spanAttr(spans[0], "db.slow_query")
	require.True(t, ok)
	assert.True(t, slow.AsBool())

	entries := logs.FilterMessage("slow query").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "traced_entries", entries[0].ContextMap()["table"])
}

func TestInstrumentDB_DisabledLeavesConnectionUntouched(t *testing.T) {
	db, recorder := openTracedDB(t, DBTracingConfig{Enabled: false}, zap.NewNop())

	require.NoError(t, db.Create(&tracedEntry{LocalID: "o-1"}).Error)
	assert.Empty(t, recorder.Ended())
	_, registered := db.Config.Plugins["otelgorm"]
	assert.False(t, registered)
}
