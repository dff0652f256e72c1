package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/nikuframedia/production-core/internal/storage"
)

var (
	// ErrSourceFileMissing is returned when SOURCE_FILE_PATH points at a file that does not exist.
	ErrSourceFileMissing = errors.New("source file does not exist")
)

const dockerEnvFile = "/.dockerenv"

// AppConfig is the process-wide configuration loaded once at CLI startup.
// It composes a storage.Config for the pooled database connection and adds
// the ingestion-specific and ambient API knobs enumerated in the external
// interfaces contract.
type AppConfig struct {
	DB *storage.Config

	// SourceFilePath is the path to the multi-sheet source file ingested by
	// the turbo pipeline. Required by ingest-turbo and inspector; unused by
	// migrate/release-gate/evaluate-feature-gates.
	SourceFilePath string

	// RedisURL backs the distributed ingestion lock and is optional; its
	// absence degrades the lock to a no-op (see internal/lock).
	RedisURL string

	// APIKeyHash is the bcrypt hash of the configured API_KEY, or empty if
	// API_KEY was not set. The plaintext value is discarded after hashing.
	APIKeyHash string

	// RequireAPIKey mirrors REQUIRE_API_KEY; consulted by the (out-of-core)
	// API surface, carried here because it is one env var among the rest.
	RequireAPIKey bool

	// CORSOrigins mirrors CORS_ORIGINS, parsed into a trimmed slice.
	CORSOrigins []string
}

// Load reads AppConfig from the environment. DATABASE_URL takes precedence
// over the host/docker pair; when unset, DATABASE_URL_DOCKER is used inside
// a container (detected via the presence of /.dockerenv) and
// DATABASE_URL_HOST otherwise. This mirrors how local-vs-compose database
// hosts are selected without a recompile.
func Load() (*AppConfig, error) {
	dbConfig := storage.LoadConfig()
	dbConfig.OverrideDatabaseURL(selectDatabaseURL())

	cfg := &AppConfig{
		DB:             dbConfig,
		SourceFilePath: GetEnvStr("SOURCE_FILE_PATH", ""),
		RedisURL:       GetEnvStr("REDIS_URL", ""),
		RequireAPIKey:  GetEnvBool("REQUIRE_API_KEY", false),
		CORSOrigins:    ParseCommaSeparatedList(GetEnvStr("CORS_ORIGINS", "")),
	}

	if apiKey := GetEnvStr("API_KEY", ""); apiKey != "" {
		hash, err := storage.HashAPIKey(apiKey)
		if err != nil {
			return nil, fmt.Errorf("hashing API_KEY: %w", err)
		}

		cfg.APIKeyHash = hash
	}

	return cfg, nil
}

// Validate checks the database scheme and, when SourceFilePath is set,
// that the file actually exists. Callers that don't need the source file
// (migrate, release-gate) should validate DB alone via cfg.DB.Validate().
func (c *AppConfig) Validate() error {
	if err := c.DB.Validate(); err != nil {
		return err
	}

	if c.SourceFilePath != "" {
		if _, err := os.Stat(c.SourceFilePath); err != nil {
			return fmt.Errorf("%w: %s", ErrSourceFileMissing, c.SourceFilePath)
		}
	}

	return nil
}

func selectDatabaseURL() string {
	if url := GetEnvStr("DATABASE_URL", ""); url != "" {
		return url
	}

	if isRunningInContainer() {
		return GetEnvStr("DATABASE_URL_DOCKER", "")
	}

	return GetEnvStr("DATABASE_URL_HOST", "")
}

func isRunningInContainer() bool {
	_, err := os.Stat(dockerEnvFile)

	return err == nil
}
