package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig controls statement spans on a gorm connection
type DBTracingConfig struct {
	Enabled bool
	// DBName lands in the db.name attribute of every span
	DBName string
	// SlowQueryThreshold flags spans and logs statements that take longer. Zero disables it.
	SlowQueryThreshold time.Duration
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

type queryStartKey struct{}

type callbackRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

// InstrumentDB registers the otelgorm plugin on db and tags each statement span
// with its table and affected rows. Query variables are never recorded.
func InstrumentDB(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	opts := []otelgorm.Option{
		otelgorm.WithDBName(cfg.DBName),
		otelgorm.WithoutQueryVariables(),
	}
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgorm.WithTracerProvider(cfg.TracerProvider))
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return fmt.Errorf("failed to register otelgorm plugin: %w", err)
	}

	after := statementAnnotator(cfg.SlowQueryThreshold, logger)
	cb := db.Callback()
	// otelgorm names its callbacks otel:before:<op> and otel:after:<op>; the
	// annotator must run while the span is still open.
	hooks := []struct {
		name     string
		callback callbackRegister
		fn       func(*gorm.DB)
	}{
		{"start:create", cb.Create().Before("gorm:create"), markStatementStart},
		{"annotate:create", cb.Create().After("gorm:create").Before("otel:after:create"), after},
		{"start:select", cb.Query().Before("gorm:query"), markStatementStart},
		{"annotate:select", cb.Query().After("gorm:query").Before("otel:after:select"), after},
		{"start:update", cb.Update().Before("gorm:update"), markStatementStart},
		{"annotate:update", cb.Update().After("gorm:update").Before("otel:after:update"), after},
		{"start:delete", cb.Delete().Before("gorm:delete"), markStatementStart},
		{"annotate:delete", cb.Delete().After("gorm:delete").Before("otel:after:delete"), after},
		{"start:row", cb.Row().Before("gorm:row"), markStatementStart},
		{"annotate:row", cb.Row().After("gorm:row").Before("otel:after:row"), after},
		{"start:raw", cb.Raw().Before("gorm:raw"), markStatementStart},
		{"annotate:raw", cb.Raw().After("gorm:raw").Before("otel:after:raw"), after},
	}
	var errs []error
	for _, h := range hooks {
		if err := h.callback.Register("ordersync:"+h.name, h.fn); err != nil {
			errs = append(errs, fmt.Errorf("register %s: %w", h.name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("database tracing enabled",
		zap.String("db_name", cfg.DBName),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThreshold),
	)
	return nil
}

func markStatementStart(tx *gorm.DB) {
	if tx.Statement == nil {
		return
	}
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}
	tx.Statement.Context = context.WithValue(ctx, queryStartKey{}, time.Now())
}

func statementAnnotator(slow time.Duration, logger *zap.Logger) func(*gorm.DB) {
	return func(tx *gorm.DB) {
		if tx.Statement == nil || tx.Statement.Context == nil {
			return
		}
		span := trace.SpanFromContext(tx.Statement.Context)
		if !span.IsRecording() {
			return
		}

		span.SetAttributes(attribute.Int64("db.rows_affected", tx.RowsAffected))
		if tx.Statement.Table != "" {
			span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
		}
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, tx.Error.Error())
		}

		started, ok := tx.Statement.Context.Value(queryStartKey{}).(time.Time)
		if !ok || slow <= 0 {
			return
		}
		if took := time.Since(started); took > slow {
			span.SetAttributes(
				attribute.Bool("db.slow_query", true),
				attribute.Int64("db.duration_ms", took.Milliseconds()),
			)
			logger.Warn("slow query",
				zap.String("table", tx.Statement.Table),
				zap.Duration("took", took),
				zap.Int64("rows_affected", tx.RowsAffected),
			)
		}
	}
}
