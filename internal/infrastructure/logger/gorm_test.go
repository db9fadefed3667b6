package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestSQLLogger_LogMode(t *testing.T) {
	l := NewSQLLogger(zap.NewNop(), "info", time.Second)
	other, ok := l.LogMode(gormlogger.Error).(*SQLLogger)
	require.True(t, ok)

	assert.Equal(t, gormlogger.Info, l.level)
	assert.Equal(t, gormlogger.Error, other.level)
	assert.Equal(t, time.Second, other.slow)
}

func TestSQLLogger_Trace(t *testing.T) {
	update := func() (string, int64) { return `UPDATE "budgets" SET "version"=2 WHERE id = 'x' AND version = 1`, 0 }
	ctx := WithClinicID(WithRequestID(context.Background(), "req-7"), "clinic-3")

	newLogger := func(level string, slow time.Duration) (*SQLLogger, *observer.ObservedLogs) {
		core, recorded := observer.New(zapcore.DebugLevel)
		return NewSQLLogger(zap.New(core), level, slow), recorded
	}

	t.Run("failure carries correlation fields", func(t *testing.T) {
		l, recorded := newLogger("warn", 0)
		l.Trace(ctx, time.Now(), update, errors.New("connection reset"))

		entries := recorded.FilterMessage("SQL statement failed").All()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-7", fields["request_id"])
		assert.Equal(t, "clinic-3", fields["clinic_id"])
		assert.Equal(t, "UPDATE", fields["op"])
	})

	t.Run("record not found is silent", func(t *testing.T) {
		l, recorded := newLogger("info", 0)
		l.Trace(ctx, time.Now(), update, gormlogger.ErrRecordNotFound)
		assert.Zero(t, recorded.Len())
	})

	t.Run("canceled statement is a warning", func(t *testing.T) {
		l, recorded := newLogger("warn", 0)
		l.Trace(ctx, time.Now(), update, context.Canceled)

		entries := recorded.All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	})

	t.Run("slow statement is a warning", func(t *testing.T) {
		l, recorded := newLogger("warn", time.Millisecond)
		l.Trace(ctx, time.Now().Add(-time.Second), update, nil)

		entries := recorded.FilterMessage("Slow SQL statement").All()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	})

	t.Run("fast statements only at info", func(t *testing.T) {
		l, recorded := newLogger("warn", time.Hour)
		l.Trace(ctx, time.Now(), update, nil)
		assert.Zero(t, recorded.Len())

		l, recorded = newLogger("debug", time.Hour)
		l.Trace(ctx, time.Now(), update, nil)
		require.Equal(t, 1, recorded.Len())
		assert.Equal(t, zapcore.DebugLevel, recorded.All()[0].Level)
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		l, recorded := newLogger("silent", time.Millisecond)
		l.Trace(ctx, time.Now().Add(-time.Second), update, errors.New("ignored"))
		assert.Zero(t, recorded.Len())
	})
}

func TestSQLLogger_Printf(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	l := NewSQLLogger(zap.New(core), "warn", 0)

	l.Info(context.Background(), "dropped %d", 1)
	l.Warn(context.Background(), "replaced callback %s", "gorm:update")

	entries := recorded.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "replaced callback gorm:update", entries[0].Message)
}

func TestVerb(t *testing.T) {
	assert.Equal(t, "SELECT", verb("  select * from budgets"))
	assert.Equal(t, "INSERT", verb(`INSERT INTO "ledger_transactions" ("id") VALUES ($1)`))
	assert.Equal(t, "", verb(""))
}
