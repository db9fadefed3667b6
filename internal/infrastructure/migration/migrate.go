package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// VersionTable records the applied settlement schema version.
const VersionTable = "settlement_schema_migrations"

//go:embed sql/*.sql
var embedded embed.FS

// Source opens the migrations compiled into the binary.
func Source() (source.Driver, error) {
	d, err := iofs.New(embedded, "sql")
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	return d, nil
}

// Status is the schema state of a database.
type Status struct {
	Version uint
	Dirty   bool
}

func (s Status) fields() []zap.Field {
	return []zap.Field{zap.Uint("version", s.Version), zap.Bool("dirty", s.Dirty)}
}

// Migrator moves a PostgreSQL database between settlement schema versions.
type Migrator struct {
	m   *migrate.Migrate
	log *zap.Logger
}

func New(db *sql.DB, log *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: VersionTable})
	if err != nil {
		return nil, fmt.Errorf("postgres migration driver: %w", err)
	}
	src, err := Source()
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return &Migrator{m: m, log: log}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.apply("up", m.m.Up)
}

// Down rolls the schema back to empty.
func (m *Migrator) Down() error {
	return m.apply("down", m.m.Down)
}

// Steps moves n versions forward, or back when n is negative.
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("step %+d", n), func() error { return m.m.Steps(n) })
}

// apply runs one golang-migrate operation. Having nothing to do is success.
func (m *Migrator) apply(op string, run func() error) error {
	m.log.Info("Migrating schema", zap.String("op", op))
	err := run()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		m.log.Info("Schema already current", zap.String("op", op))
		return nil
	case err != nil:
		return fmt.Errorf("migrate %s: %w", op, err)
	}
	st, err := m.Status()
	if err != nil {
		return err
	}
	m.log.Info("Schema migrated", append(st.fields(), zap.String("op", op))...)
	return nil
}

// Status reports the applied version. A database never migrated is version 0.
func (m *Migrator) Status() (Status, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return Status{Version: v, Dirty: dirty}, nil
}

// Force marks the database as being at version without running anything.
// It is the way out of a dirty state after a failed migration was repaired by hand.
func (m *Migrator) Force(version int) error {
	m.log.Warn("Forcing schema version", zap.Int("version", version))
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force version %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}
