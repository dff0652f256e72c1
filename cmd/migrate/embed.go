package main

import (
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

// EmbeddedMigration wraps the migration files compiled into this binary via
// go:embed, validating their naming, up/down pairing, sequencing, and
// checksum integrity before the runner ever hands them to golang-migrate.
type EmbeddedMigration struct {
	fs        fs.FS
	checksums map[string]string // filename -> sha256, populated after first successful validation
}

// MigrationInfo is one migration filename parsed into its components.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
	Checksum  string
}

//go:embed *.sql
var embeddedMigrations embed.FS

var (
	// ErrNoEmbeddedMigrations is returned when no file matches the naming convention.
	ErrNoEmbeddedMigrations = errors.New("no embedded migration files found")
	// ErrChecksumMismatch is wrapped when a file differs from its recorded checksum.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

// migrationFilenameRegex enforces NNN_name.(up|down).sql, e.g.
// 001_initial_schema.up.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// expectedRegexMatches is the number of capture groups migrationFilenameRegex
// produces for a well-formed filename (sequence, name, direction) plus the
// full match itself.
const expectedRegexMatches = 4

// NewEmbeddedMigration wraps filesystem for migration access, defaulting to
// the go:embed'd set when filesystem is nil. The nil-default path is what
// production code takes; passing an explicit fs.FS exists for testing
// against a synthetic migration set.
func NewEmbeddedMigration(filesystem fs.FS) *EmbeddedMigration {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &EmbeddedMigration{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// GetEmbeddedMigrations returns the underlying filesystem golang-migrate's
// iofs source driver reads from.
func (e *EmbeddedMigration) GetEmbeddedMigrations() fs.FS {
	return e.fs
}

// ListEmbeddedMigrations lists every .sql file matching the NNN_name.dir.sql
// naming convention, sorted so NNN_name.down.sql precedes
// NNN_name.up.sql and both precede the next sequence number.
func (e *EmbeddedMigration) ListEmbeddedMigrations() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migration directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// ValidateEmbeddedMigrations runs every structural check this package knows
// about: every file is readable, every filename parses, every up has a
// matching down, the sequence has no gaps and starts at 1, and (once a
// baseline exists) no file's content has changed since it was last checked.
func (e *EmbeddedMigration) ValidateEmbeddedMigrations() error {
	files, err := e.ListEmbeddedMigrations()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoEmbeddedMigrations
	}

	parsed, err := e.parseAll(files)
	if err != nil {
		return err
	}

	if err := e.validatePairing(parsed); err != nil {
		return err
	}

	if err := e.validateSequence(parsed); err != nil {
		return err
	}

	if len(e.checksums) > 0 {
		if err := e.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, file := range files {
		content, err := e.GetEmbeddedMigrationContent(file)
		if err != nil {
			return fmt.Errorf("reading %s for checksum baseline: %w", file, err)
		}

		e.checksums[file] = e.calculateChecksum(content)
	}

	return nil
}

// GetEmbeddedMigrationContent returns the raw content of one embedded
// migration file.
func (e *EmbeddedMigration) GetEmbeddedMigrationContent(filename string) ([]byte, error) {
	return fs.ReadFile(e.fs, filename)
}

// parseMigrationFilename splits a filename into its sequence, name, and
// direction, rejecting anything migrationFilenameRegex doesn't match.
func (e *EmbeddedMigration) parseMigrationFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != expectedRegexMatches {
		return nil, fmt.Errorf(
			"invalid migration filename %q, want NNN_name.up.sql or NNN_name.down.sql", filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// parseAll parses every filename and confirms each file's content is
// actually readable, failing on the first file that doesn't parse or can't
// be read.
func (e *EmbeddedMigration) parseAll(files []string) ([]*MigrationInfo, error) {
	parsed := make([]*MigrationInfo, 0, len(files))

	for _, file := range files {
		info, err := e.parseMigrationFilename(file)
		if err != nil {
			return nil, fmt.Errorf("filename validation failed for %s: %w", file, err)
		}

		if _, err := e.GetEmbeddedMigrationContent(file); err != nil {
			return nil, fmt.Errorf("reading migration file %s: %w", file, err)
		}

		parsed = append(parsed, info)
	}

	return parsed, nil
}

// validatePairing ensures every up migration has a matching down migration
// at the same sequence and name, and vice versa.
func (e *EmbeddedMigration) validatePairing(parsed []*MigrationInfo) error {
	byKey := make(map[string]map[string]*MigrationInfo)

	for _, info := range parsed {
		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if byKey[key] == nil {
			byKey[key] = make(map[string]*MigrationInfo)
		}

		byKey[key][info.Direction] = info
	}

	for key, directions := range byKey {
		if len(directions) == 2 {
			continue
		}

		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence requires the migration sequence to start at 1 and
// proceed without gaps, so a missing file reads as a sequence gap rather
// than silently skipping a schema change.
func (e *EmbeddedMigration) validateSequence(parsed []*MigrationInfo) error {
	seen := make(map[int]bool)

	for _, info := range parsed {
		seen[info.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence must start at 001, found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if want := sequences[i-1] + 1; sequences[i] != want {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d", want, sequences[i])
		}
	}

	return nil
}

// calculateChecksum is the sha256 hex digest of content.
func (e *EmbeddedMigration) calculateChecksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}

// validateChecksums confirms no previously-baselined migration file has
// changed content since the runner last validated it, catching an in-place
// edit to an already-applied migration rather than a new one appended.
func (e *EmbeddedMigration) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := e.GetEmbeddedMigrationContent(file)
		if err != nil {
			return fmt.Errorf("reading %s for checksum validation: %w", file, err)
		}

		current := e.calculateChecksum(content)
		if baseline, exists := e.checksums[file]; exists && current != baseline {
			return fmt.Errorf("%w for %s: file has been modified", ErrChecksumMismatch, file)
		}
	}

	return nil
}
