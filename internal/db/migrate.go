package db

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// MigrationRunner applies versioned SQL migrations. AutoMigrate keeps
// development schemas current; production deployments run these
// explicitly so schema changes are reviewed and reversible.
type MigrationRunner struct {
	m  *migrate.Migrate
	db *sql.DB
}

// NewMigrationRunner opens the database and points golang-migrate at
// the migrations directory.
func NewMigrationRunner(databaseURL, migrationsPath string) (*MigrationRunner, error) {
	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("resolve migrations path: %w", err)
	}

	sqlDB, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}

	return &MigrationRunner{m: m, db: sqlDB}, nil
}

// Up applies all pending migrations.
func (r *MigrationRunner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Down rolls back the most recent migration.
func (r *MigrationRunner) Down() error {
	if err := r.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the current schema version and dirty flag.
func (r *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force overwrites the recorded version to recover from a dirty state.
func (r *MigrationRunner) Force(version int) error {
	return r.m.Force(version)
}

func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.m.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
