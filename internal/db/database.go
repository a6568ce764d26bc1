package db

import (
	"fmt"
	"time"

	"github.com/Hollayemi/shp-sub005/internal/config"
	"github.com/Hollayemi/shp-sub005/pkg/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM database instance.
type Database struct {
	DB *gorm.DB
}

// NewDatabase opens a PostgreSQL connection and runs migrations.
func NewDatabase(cfg config.DatabaseConfig) (*Database, error) {
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	database := &Database{DB: db}
	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}

// Migrate runs gorm auto-migrations for all persisted models.
func (d *Database) Migrate() error {
	if err := d.DB.AutoMigrate(
		&models.Project{},
		&models.Fragment{},
	); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Partial indexes AutoMigrate cannot express.
	d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_projects_sandbox ON projects(sandbox_id) WHERE sandbox_id <> ''")
	d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_fragments_snapshot ON fragments(project_id, snapshot_created_at DESC) WHERE snapshot_image_id <> ''")

	return nil
}

// Health checks database connectivity.
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction wraps a function in a database transaction.
func (d *Database) Transaction(fn func(*gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
