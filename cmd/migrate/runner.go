package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type (
	// MigrationRunner is the set of schema operations the CLI commands drive.
	MigrationRunner interface {
		// Up applies every pending migration up to the embedded head.
		Up() error

		// Down rolls back the single most recently applied migration.
		Down() error

		// Status prints the current schema version and whether it is dirty.
		Status() error

		// Version prints the current schema version alone.
		Version() error

		// Drop tears down every table the schema owns. Destructive.
		Drop() error

		// Close releases the underlying database connection and migration source.
		Close() error
	}

	// Runner drives golang-migrate against the embedded .sql migration set
	// that ships inside this binary.
	Runner struct {
		config            *Config
		migrate           *migrate.Migrate
		db                *sql.DB
		embeddedMigration *EmbeddedMigration
	}

	// migrationLogger adapts golang-migrate's logging callback onto the
	// standard log package so migration chatter lands in the same stream as
	// the rest of this CLI's output.
	migrationLogger struct{}
)

var _ migrate.Logger = (*migrationLogger)(nil)
var _ io.Writer = (*migrationLogger)(nil)

// logTag prefixes every line golang-migrate itself emits, distinguishing it
// from this runner's own status lines in a shared log stream.
const logTag = "[SCHEMA]"

// NewMigrationRunner opens a PostgreSQL connection, validates the embedded
// migration set, and wires golang-migrate onto it via the iofs source driver.
func NewMigrationRunner(config *Config) (*Runner, error) {
	log.Printf("opening migration runner against %s", config.String())

	embeddedMigration := NewEmbeddedMigration(nil)

	if err := embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return nil, fmt.Errorf("embedded migration set failed validation: %w", err)
	}

	log.Println("embedded migration set validated")

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database connection: %w", err)
	}

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("database connection established")

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(embeddedMigration.GetEmbeddedMigrations(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("creating embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrationLogger{}

	log.Println("migration runner ready")

	return &Runner{
		config:            config,
		migrate:           m,
		db:                db,
		embeddedMigration: embeddedMigration,
	}, nil
}

// Up applies all pending migrations.
func (r *Runner) Up() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("applying pending migrations")

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("schema already at head, nothing to apply")
	} else {
		log.Println("all pending migrations applied")
	}

	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("rolling back one migration")

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("no migration to roll back")
	} else {
		log.Println("last migration rolled back")
	}

	return nil
}

// Status prints the current schema version, whether it's dirty, and how it
// compares to the highest version this binary's embedded migrations support.
func (r *Runner) Status() error {
	ver, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	state := "clean"
	if dirty {
		state = "dirty, needs manual intervention"
	}

	log.Printf("schema status: version %d (%s)", ver, state)
	r.showSchemaCompatibility(ver)

	if err := r.showPendingMigrations(); err != nil {
		log.Printf("could not determine pending migrations: %v", err)
	}

	return nil
}

// Version prints the current schema version alone.
func (r *Runner) Version() error {
	ver, dirty, err := r.currentVersion()
	if err != nil {
		return err
	}

	dirtyNote := ""
	if dirty {
		dirtyNote = " (dirty)"
	}

	log.Printf("schema version: %d%s", ver, dirtyNote)
	r.showSchemaCompatibility(ver)

	return nil
}

// currentVersion reads golang-migrate's recorded version, treating an
// unmigrated database (ErrNilVersion) as version 0 rather than an error.
func (r *Runner) currentVersion() (int, bool, error) {
	ver, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}

		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}

	return int(ver), dirty, nil //nolint:gosec // version numbers fit comfortably in int
}

// Drop tears down every table the schema owns. Destructive; callers gate
// this behind an explicit confirmation flag before invoking it.
func (r *Runner) Drop() error {
	if err := r.revalidate(); err != nil {
		return err
	}

	log.Println("dropping all schema objects")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("schema objects dropped")

	return nil
}

// revalidate re-checks the embedded migration set immediately before any
// state-changing operation, catching a corrupted build rather than a
// corrupted database.
func (r *Runner) revalidate() error {
	if err := r.embeddedMigration.ValidateEmbeddedMigrations(); err != nil {
		return fmt.Errorf("revalidating embedded migrations: %w", err)
	}

	return nil
}

// Close releases the database connection and the migration source.
func (r *Runner) Close() error {
	var errs []error

	if r.migrate != nil {
		sourceErr, dbErr := r.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, fmt.Errorf("closing migration source: %w", sourceErr))
		}

		if dbErr != nil {
			errs = append(errs, fmt.Errorf("closing migration database handle: %w", dbErr))
		}
	}

	if r.db != nil {
		if err := r.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database connection: %w", err))
		}
	}

	return errors.Join(errs...)
}

// showPendingMigrations is a placeholder for a future enhancement:
// golang-migrate doesn't expose a direct way to enumerate pending steps
// without re-walking the source driver, so for now this just points the
// operator at the command that applies them.
func (r *Runner) showPendingMigrations() error {
	log.Println("run the 'up' command to apply any pending migrations")

	return nil
}

// showSchemaCompatibility compares the database's recorded version against
// the highest version embedded in this binary, flagging both the common
// "migrations are available" case and the rarer case of a database ahead of
// the binary that's talking to it.
func (r *Runner) showSchemaCompatibility(currentVersion int) {
	maxSchemaVersion := r.getMaxEmbeddedSchemaVersion()

	log.Printf("schema compatibility: database at v%03d, runner supports up to v%03d", currentVersion, maxSchemaVersion)

	switch {
	case currentVersion == maxSchemaVersion:
		log.Println("  up to date")
	case currentVersion < maxSchemaVersion:
		log.Printf("  %d migration(s) available", maxSchemaVersion-currentVersion)
	default:
		log.Printf("  database schema (v%03d) is newer than this runner supports, rebuild the migrator", currentVersion)
	}
}

// getMaxEmbeddedSchemaVersion returns the highest migration sequence number
// embedded in this binary, or 0 if the embedded set can't be read.
func (r *Runner) getMaxEmbeddedSchemaVersion() int {
	files, err := r.embeddedMigration.ListEmbeddedMigrations()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		migration, err := r.embeddedMigration.parseMigrationFilename(filename)
		if err != nil {
			continue
		}

		if migration.Sequence > maxSequence {
			maxSequence = migration.Sequence
		}
	}

	return maxSequence
}

func (l *migrationLogger) Printf(format string, v ...interface{}) {
	log.Printf(logTag+" "+format, v...)
}

func (l *migrationLogger) Verbose() bool {
	return true
}

func (l *migrationLogger) Write(p []byte) (int, error) {
	log.Printf("%s %s", logTag, string(p))

	return len(p), nil
}
