package migrator

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type Config struct {
	// MigrationsPath is a directory on disk; used when Source is nil.
	MigrationsPath string
	// Source holds migrations embedded in the binary.
	Source fs.FS
	// MigrationsTable overrides the driver's default version table.
	MigrationsTable string
}

type Migrator struct {
	db     *sql.DB
	config Config
	logger *slog.Logger
}

func NewMigrator(db *sql.DB, config Config, logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Migrator{
		db:     db,
		config: config,
		logger: logger,
	}
}

// MigrationDirection defines the direction of migrations
type MigrationDirection string

const (
	MigrationUp   MigrationDirection = "up"
	MigrationDown MigrationDirection = "down"
)

func (m *Migrator) source() string {
	if m.config.Source != nil {
		return "embedded"
	}
	return m.config.MigrationsPath
}

// createMigrator create a migration instance
func (m *Migrator) createMigrator() (*migrate.Migrate, error) {
	driver, err := sqlite.WithInstance(m.db, &sqlite.Config{MigrationsTable: m.config.MigrationsTable})
	if err != nil {
		return nil, fmt.Errorf("failed to create migration driver: %w", err)
	}

	if m.config.Source != nil {
		src, err := iofs.New(m.config.Source, ".")
		if err != nil {
			return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
		}
		migrator, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
		if err != nil {
			return nil, fmt.Errorf("failed to create migration instance: %w", err)
		}
		return migrator, nil
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", m.config.MigrationsPath),
		"sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	return migrator, nil
}

// RunMigrations applies database migrations in the specified direction
func (m *Migrator) RunMigrations(direction MigrationDirection) error {
	m.logger.Debug("running database migrations", slog.String("source", m.source()), slog.String("direction", string(direction)))

	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}

	var migrationErr error
	switch direction {
	case MigrationUp:
		migrationErr = migrator.Up()
	case MigrationDown:
		migrationErr = migrator.Down()
	default:
		return fmt.Errorf("invalid migration direction: %s", direction)
	}

	if migrationErr != nil && !errors.Is(migrationErr, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", migrationErr)
	}

	version, err := m.checkVersion(migrator)
	if err != nil {
		return err
	}

	m.logger.Debug("database migrations completed", slog.Uint64("version", uint64(version)), slog.String("direction", string(direction)))
	return nil
}

// MigrateUp applying all up migrations
func (m *Migrator) MigrateUp() error {
	return m.RunMigrations(MigrationUp)
}

// MigrateDown rolls back all migrations
func (m *Migrator) MigrateDown() error {
	return m.RunMigrations(MigrationDown)
}

// MigrateDownN rolls back N migrations
func (m *Migrator) MigrateDownN(n int) error {
	m.logger.Info("rolling back migrations", slog.String("source", m.source()), slog.Int("steps", n))

	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}

	if err := migrator.Steps(-n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to rollback migrations: %w", err)
	}

	version, err := m.checkVersion(migrator)
	if err != nil {
		return err
	}

	m.logger.Info("migration rollback completed", slog.Uint64("version", uint64(version)), slog.Int("steps", n))
	return nil
}

// MigrateTo migrates to a specific version
func (m *Migrator) MigrateTo(version uint) error {
	m.logger.Info("migrating to version", slog.String("source", m.source()), slog.Uint64("version", uint64(version)))

	migrator, err := m.createMigrator()
	if err != nil {
		return err
	}

	if err := migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate to version %d: %w", version, err)
	}

	current, err := m.checkVersion(migrator)
	if err != nil {
		return err
	}

	m.logger.Info("migration completed", slog.Uint64("version", uint64(current)))
	return nil
}

// GetMigrationVersion returns the current migration version
func (m *Migrator) GetMigrationVersion() (uint, bool, error) {
	migrator, err := m.createMigrator()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil // No migrations have been applied yet
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, dirty, nil
}

func (m *Migrator) checkVersion(migrator *migrate.Migrate) (uint, error) {
	version, dirty, err := migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		m.logger.Warn("database schema is in a dirty state", slog.Uint64("version", uint64(version)))
		return version, fmt.Errorf("database schema is in a dirty state at version %d", version)
	}
	return version, nil
}
