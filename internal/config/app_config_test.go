package config

import (
	"errors"
	"os"
	"testing"
)

func TestLoad_DatabaseURLPrecedence(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("DATABASE_URL", "postgres://direct@localhost/db")
	t.Setenv("DATABASE_URL_HOST", "postgres://host@localhost/db")
	t.Setenv("DATABASE_URL_DOCKER", "postgres://docker@localhost/db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if err := cfg.DB.Validate(); err != nil {
		t.Fatalf("DB.Validate() unexpected error: %v", err)
	}

	if got := cfg.DB.DatabaseURL(); got != "postgres://direct@localhost/db" {
		t.Fatalf("DB.DatabaseURL() = %q, want %q", got, "postgres://direct@localhost/db")
	}
}

func TestLoad_APIKeyIsHashedNotStoredPlaintext(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("DATABASE_URL", "postgres://direct@localhost/db")
	t.Setenv("API_KEY", "super-secret-key") // pragma: allowlist secret

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if cfg.APIKeyHash == "" {
		t.Fatal("expected APIKeyHash to be populated")
	}

	if cfg.APIKeyHash == "super-secret-key" {
		t.Fatal("APIKeyHash must not equal the plaintext API_KEY")
	}
}

func TestLoad_CORSOriginsParsed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("DATABASE_URL", "postgres://direct@localhost/db")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("expected 2 CORS origins, got %d: %v", len(cfg.CORSOrigins), cfg.CORSOrigins)
	}
}

func TestAppConfig_ValidateMissingSourceFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("DATABASE_URL", "postgres://direct@localhost/db")
	t.Setenv("SOURCE_FILE_PATH", "/nonexistent/path/to/source.xlsx")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}

	if err := cfg.Validate(); !errors.Is(err, ErrSourceFileMissing) {
		t.Fatalf("Validate() error = %v, want %v", err, ErrSourceFileMissing)
	}
}

func TestAppConfig_ValidateExistingSourceFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tmp, err := os.CreateTemp(t.TempDir(), "source-*.csv")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	_ = tmp.Close()

	t.Setenv("DATABASE_URL", "postgres://direct@localhost/db")
	t.Setenv("SOURCE_FILE_PATH", tmp.Name())

	cfg, loadErr := Load()
	if loadErr != nil {
		t.Fatalf("Load() unexpected error: %v", loadErr)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}
