package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultSlowQuery = 200 * time.Millisecond

// DBTracingConfig controls the spans recorded for GORM statements.
type DBTracingConfig struct {
	Enabled         bool
	LogFullSQL      bool // bound values in db.statement, never in production
	SlowQueryThresh time.Duration
	DBSystem        string
}

type queryStartKey struct{}

// RegisterDBTracing installs otelgorm on db. Statements slower than the
// threshold get db.slow_query=true and their duration on the span; the
// marker runs before otelgorm ends the span.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = defaultSlowQuery
	}
	if cfg.DBSystem == "" {
		cfg.DBSystem = "postgresql"
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	slow := func(tx *gorm.DB) { markSlowQuery(tx, cfg.SlowQueryThresh) }
	cb := db.Callback()
	if err := errors.Join(
		cb.Create().Before("gorm:create").Register("clinic:query_start_create", stampStart),
		cb.Create().After("gorm:create").Before("otel:after:create").Register("clinic:slow_query_create", slow),
		cb.Query().Before("gorm:query").Register("clinic:query_start_query", stampStart),
		cb.Query().After("gorm:query").Before("otel:after:select").Register("clinic:slow_query_query", slow),
		cb.Update().Before("gorm:update").Register("clinic:query_start_update", stampStart),
		cb.Update().After("gorm:update").Before("otel:after:update").Register("clinic:slow_query_update", slow),
		cb.Delete().Before("gorm:delete").Register("clinic:query_start_delete", stampStart),
		cb.Delete().After("gorm:delete").Before("otel:after:delete").Register("clinic:slow_query_delete", slow),
	); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.String("db_system", cfg.DBSystem),
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func stampStart(tx *gorm.DB) {
	if tx.Statement.Context != nil {
		tx.Statement.Context = context.WithValue(tx.Statement.Context, queryStartKey{}, time.Now())
	}
}

func markSlowQuery(tx *gorm.DB, threshold time.Duration) {
	ctx := tx.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if tx.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
	}
	started, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(started); elapsed > threshold {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
	}
}
