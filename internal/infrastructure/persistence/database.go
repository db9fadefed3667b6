package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/clinic/backend/internal/infrastructure/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database is the settlement store: the GORM handle the repositories share
// and the pool underneath it.
type Database struct {
	DB   *gorm.DB
	pool *sql.DB
}

// NewDatabase connects to PostgreSQL. A nil log keeps GORM silent.
func NewDatabase(cfg *config.DatabaseConfig, log gormlogger.Interface) (*Database, error) {
	return Open(postgres.Open(cfg.DSN()), cfg, log)
}

// Open connects through dialector, sizes the pool from cfg and verifies the
// connection before returning.
func Open(dialector gorm.Dialector, cfg *config.DatabaseConfig, log gormlogger.Interface) (*Database, error) {
	if log == nil {
		log = gormlogger.Discard
	}

	// Repositories open their own transactions where a write spans tables.
	db, err := gorm.Open(dialector, &gorm.Config{Logger: log, SkipDefaultTransaction: true})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database pool: %w", err)
	}

	pool.SetMaxOpenConns(cfg.MaxOpenConns)
	pool.SetMaxIdleConns(cfg.MaxIdleConns)
	pool.SetConnMaxLifetime(minutes(cfg.ConnMaxLifetime))
	pool.SetConnMaxIdleTime(minutes(cfg.ConnMaxIdleTime))

	d := &Database{DB: db, pool: pool}
	if err := d.Ping(context.Background()); err != nil {
		return nil, err
	}
	return d, nil
}

// Ping reports whether the database answers within ctx
func (d *Database) Ping(ctx context.Context) error {
	if err := d.pool.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Stats exposes the pool counters
func (d *Database) Stats() sql.DBStats {
	return d.pool.Stats()
}

func (d *Database) Close() error {
	return d.pool.Close()
}

func minutes(n int) time.Duration {
	return time.Duration(n) * time.Minute
}
