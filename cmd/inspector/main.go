// Package main provides the Inspector CLI (§4.1): extracts every sheet of
// the source workbook to the same gzipped CSVs internal/extract produces
// for the turbo pipeline, profiles each one, measures every manifest-declared
// relationship's match rate, and writes the three reports operators and the
// feature-gate evaluator read downstream. Exits 0 on success; a file that
// cannot be opened or a sheet with no header row is an INSPECTOR_READ
// failure (§4.1), not a gate failure, so this CLI never writes
// RELEASE_BLOCKED.md itself.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	appconfig "github.com/nikuframedia/production-core/internal/config"
	"github.com/nikuframedia/production-core/internal/extract"
	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/inspector"
)

const extractOutputDir = "data/processed/extracted"

//nolint:gochecknoglobals // build-time version injection via -ldflags -X
var (
	name    = "inspector"
	version = "1.0.0-dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	manifestPath := flag.String("manifest", ingestmap.DefaultPath, "Path to the ingestion manifest")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(logger, *manifestPath); err != nil {
		logger.Error("inspection failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, manifestPath string) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if cfg.SourceFilePath == "" {
		return fmt.Errorf("SOURCE_FILE_PATH is required")
	}

	if _, err := os.Stat(cfg.SourceFilePath); err != nil {
		return fmt.Errorf("INSPECTOR_READ: %w", err)
	}

	manifest, err := ingestmap.Load(manifestPath)
	if err != nil {
		return err
	}

	sourceHash, err := extract.HashFile(cfg.SourceFilePath)
	if err != nil {
		return fmt.Errorf("INSPECTOR_READ: %w", err)
	}

	extractor, err := extract.Open(cfg.SourceFilePath, extractOutputDir)
	if err != nil {
		return fmt.Errorf("INSPECTOR_READ: %w", err)
	}
	defer extractor.Close()

	extractReport, err := extractor.ExtractAll()
	if err != nil {
		return fmt.Errorf("INSPECTOR_READ: %w", err)
	}

	logger.Info("extracted sheets for inspection", "sheets", len(extractReport.Sheets), "rows", extractReport.TotalRowsExtracted)

	sheetNames := make([]string, 0, len(extractReport.Sheets))
	for name := range extractReport.Sheets {
		sheetNames = append(sheetNames, name)
	}

	insp := inspector.New(extractOutputDir)

	profiles, err := insp.InspectAll(sheetNames)
	if err != nil {
		return err
	}

	if err := inspector.WriteProfileReport(inspector.ProfileReportPath, cfg.SourceFilePath, sourceHash, profiles); err != nil {
		return err
	}

	if err := inspector.WriteDataDictionary(inspector.DataDictionaryPath, cfg.SourceFilePath, profiles); err != nil {
		return err
	}

	relationships, err := insp.EvaluateRelationships(manifest)
	if err != nil {
		return err
	}

	if err := inspector.WriteRelationshipsReport(inspector.RelationshipsReportPath, relationships); err != nil {
		return err
	}

	logger.Info("inspection complete",
		"sheets", len(profiles),
		"relationships", len(relationships),
		"data_dictionary", inspector.DataDictionaryPath,
		"profile_report", inspector.ProfileReportPath,
		"relationships_report", inspector.RelationshipsReportPath,
	)

	return nil
}
