package migrations

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/uptrace/bun"
)

// Options locates the SQL migration files.
type Options struct {
	Dir string
}

func DefaultOptions() Options {
	return Options{Dir: "./migrations"}
}

// Runner applies the versioned SQL migrations under Options.Dir. The service
// binaries bootstrap dev and test schemas with bun's CreateTable; production
// schema changes go through this runner instead.
type Runner struct {
	db       *bun.DB
	options  Options
	migrator *migrate.Migrate
}

func NewRunner(db *bun.DB, opts Options) *Runner {
	return &Runner{db: db, options: opts}
}

func (r *Runner) init() error {
	if r.migrator != nil {
		return nil
	}

	if _, err := os.Stat(r.options.Dir); os.IsNotExist(err) {
		return fmt.Errorf("migrations directory does not exist: %s", r.options.Dir)
	}

	driver, err := postgres.WithInstance(r.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", r.options.Dir), "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	r.migrator = migrator
	return nil
}

// Up applies every pending migration. Already being current is not an error.
func (r *Runner) Up() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Down rolls every migration back.
func (r *Runner) Down() error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// To migrates up or down to the given schema version.
func (r *Runner) To(version uint) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}
	return nil
}

// Force marks the schema as being at the given version without running
// anything. Recovery path for a dirty migration state.
func (r *Runner) Force(version int) error {
	if err := r.init(); err != nil {
		return err
	}
	if err := r.migrator.Force(version); err != nil {
		return fmt.Errorf("force version %d failed: %w", version, err)
	}
	return nil
}

// Version reports the current schema version and whether it is dirty. A
// database with no applied migrations reports version 0.
func (r *Runner) Version() (uint, bool, error) {
	if err := r.init(); err != nil {
		return 0, false, err
	}
	version, dirty, err := r.migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

func (r *Runner) Close() error {
	if r.migrator == nil {
		return nil
	}
	sourceErr, dbErr := r.migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("close migrator source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("close migrator database: %w", dbErr)
	}
	return nil
}
