package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// SQLLogger sends GORM output to zap with the request correlation fields of
// the statement's context. Missing rows are an expected outcome of lookups
// and are never logged.
type SQLLogger struct {
	base  *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

var _ gormlogger.Interface = (*SQLLogger)(nil)

// NewSQLLogger creates a logger that reports statements at or above level
// (a log level name: silent, error, warn, info or debug). A zero slow
// threshold disables slow statement warnings.
func NewSQLLogger(base *zap.Logger, level string, slow time.Duration) *SQLLogger {
	return &SQLLogger{base: base.Named("sql"), level: sqlLevel(level), slow: slow}
}

func (l *SQLLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	l.printf(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

// Trace logs one executed statement: failures at error, cancellations and
// slow statements at warn, everything else at debug when level is info.
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent || errors.Is(err, gormlogger.ErrRecordNotFound) {
		return
	}
	elapsed := time.Since(begin)
	slow := l.slow > 0 && elapsed >= l.slow

	var lvl zapcore.Level
	var msg string
	switch {
	case err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		lvl, msg = zapcore.WarnLevel, "SQL statement abandoned"
	case err != nil:
		lvl, msg = zapcore.ErrorLevel, "SQL statement failed"
	case slow:
		lvl, msg = zapcore.WarnLevel, "Slow SQL statement"
	default:
		lvl, msg = zapcore.DebugLevel, "SQL statement"
	}
	if !l.allows(lvl) {
		return
	}

	stmt, rows := fc()
	fields := []zap.Field{
		zap.String("op", verb(stmt)),
		zap.String("sql", stmt),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if slow {
		fields = append(fields, zap.Duration("threshold", l.slow))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	Enrich(ctx, l.base).Log(lvl, msg, fields...)
}

func (l *SQLLogger) printf(ctx context.Context, min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if l.level < min {
		return
	}
	Enrich(ctx, l.base).Log(lvl, fmt.Sprintf(msg, data...))
}

// allows maps a zap level onto the GORM verbosity scale
func (l *SQLLogger) allows(lvl zapcore.Level) bool {
	switch {
	case lvl >= zapcore.ErrorLevel:
		return l.level >= gormlogger.Error
	case lvl == zapcore.WarnLevel:
		return l.level >= gormlogger.Warn
	default:
		return l.level >= gormlogger.Info
	}
}

func sqlLevel(name string) gormlogger.LogLevel {
	switch strings.ToLower(name) {
	case "silent":
		return gormlogger.Silent
	case "error", "fatal":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// verb is the leading keyword of stmt, e.g. SELECT or UPDATE
func verb(stmt string) string {
	stmt = strings.TrimSpace(stmt)
	if i := strings.IndexAny(stmt, " \n\t("); i > 0 {
		stmt = stmt[:i]
	}
	return strings.ToUpper(stmt)
}
