package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/erp/ordersync/internal/infrastructure/config"
	"github.com/erp/ordersync/internal/infrastructure/logger"
	"github.com/erp/ordersync/internal/infrastructure/persistence/models"
	"github.com/erp/ordersync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds a gorm connection
type Database struct {
	DB *gorm.DB
}

// OpenOption adjusts a connection once it is open
type OpenOption func(db *gorm.DB) error

// WithQueryTracing records a span per statement when cfg.Enabled is set
func WithQueryTracing(cfg telemetry.DBTracingConfig, log *zap.Logger) OpenOption {
	return func(db *gorm.DB) error {
		return telemetry.InstrumentDB(db, cfg, logger.OrNop(log))
	}
}

func applyOptions(db *gorm.DB, opts []OpenOption) error {
	for _, opt := range opts {
		if err := opt(db); err != nil {
			return err
		}
	}
	return nil
}

// NewDatabase connects to the reference store postgres database
func NewDatabase(cfg *config.DatabaseConfig, logLevel string, log *zap.Logger, opts ...OpenOption) (*Database, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger:                 logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel), 0),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := applyOptions(db, opts); err != nil {
		return nil, err
	}
	return &Database{DB: db}, nil
}

// OpenQueueDatabase opens the on-device sqlite file backing the offline queue and
// creates its table. The database uses WAL with full fsync so an acknowledged
// enqueue survives a crash or power loss.
func OpenQueueDatabase(path, logLevel string, log *zap.Logger, opts ...OpenOption) (*Database, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create queue directory: %w", err)
			}
		}
	}
	return openSQLite(queueDSN(path), logger.NewGormLogger(log, logger.MapGormLogLevel(logLevel), 0), opts...)
}

func queueDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_foreign_keys=on", path)
}

func openSQLite(dsn string, gl gormlogger.Interface, opts ...OpenOption) (*Database, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gl,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// One writer; sqlite serializes writes anyway
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(models.DeviceModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate device schema: %w", err)
	}
	if err := applyOptions(db, opts); err != nil {
		return nil, err
	}
	return &Database{DB: db}, nil
}

// Close closes the connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks the connection
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
