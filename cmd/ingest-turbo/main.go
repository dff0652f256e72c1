// Package main is the Turbo Ingestion Pipeline CLI: Extract → Load → Merge,
// followed by derived-column population, an aggregate-engine cycle, and the
// count validator, all inside one distributed-lock-guarded invocation
// (§4.2). A prior completed run against the same source file's SHA-256
// short-circuits the whole pipeline (§4.2.1, P7).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/nikuframedia/production-core/internal/aggregate"
	appconfig "github.com/nikuframedia/production-core/internal/config"
	"github.com/nikuframedia/production-core/internal/derived"
	"github.com/nikuframedia/production-core/internal/extract"
	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/lock"
	"github.com/nikuframedia/production-core/internal/merge"
	"github.com/nikuframedia/production-core/internal/runs"
	"github.com/nikuframedia/production-core/internal/stagingload"
	"github.com/nikuframedia/production-core/internal/storage"
	"github.com/nikuframedia/production-core/internal/validate"
)

const extractOutputDir = "data/processed/extracted"

// name/version mirror cmd/migrate's build-time version banner.
//
//nolint:gochecknoglobals // build-time version injection via -ldflags -X
var (
	name    = "ingest-turbo"
	version = "1.0.0-dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	manifestPath := flag.String("manifest", ingestmap.DefaultPath, "Path to the ingestion manifest")
	windowDays := flag.Int("window-days", aggregate.DefaultWindowDays, "Trailing window, in days, the aggregate engine revisits")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(context.Background(), logger, *manifestPath, *windowDays); err != nil {
		logger.Error("ingestion pipeline failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, manifestPath string, windowDays int) error {
	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.SourceFilePath == "" {
		return errors.New("SOURCE_FILE_PATH is required")
	}

	manifest, err := ingestmap.Load(manifestPath)
	if err != nil {
		return err
	}

	conn, err := storage.NewConnection(cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer conn.Close()

	locker, err := lock.New(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("building ingestion lock: %w", err)
	}

	if err := locker.Acquire(ctx); err != nil {
		return fmt.Errorf("another ingestion run is in progress: %w", err)
	}
	defer func() {
		if err := locker.Release(ctx); err != nil {
			logger.Warn("releasing ingestion lock failed", "error", err)
		}
	}()

	runStore := runs.NewStore(conn)

	sourceHash, err := extract.HashFile(cfg.SourceFilePath)
	if err != nil {
		return err
	}

	if prior, found, err := runStore.FindCompletedRunBySourceHash(ctx, sourceHash); err != nil {
		return err
	} else if found {
		logger.Info("source file already ingested by a completed run; skipping pipeline",
			"run_id", prior.RunID, "source_sha256", sourceHash)

		return nil
	}

	run, err := runStore.CreateRun(ctx, cfg.SourceFilePath, sourceHash)
	if err != nil {
		return err
	}

	logger.Info("ingestion run started", "run_id", run.RunID, "source", cfg.SourceFilePath, "source_sha256", sourceHash)

	if err := execute(ctx, logger, conn, runStore, run, manifest, cfg.SourceFilePath, windowDays); err != nil {
		if updErr := runStore.UpdateStatus(ctx, run, runs.StatusMergeFailed, err.Error()); updErr != nil {
			logger.Error("failed to record run failure", "error", updErr)
		}

		return err
	}

	return nil
}

// execute runs every pipeline stage and advances the run's lifecycle
// status as each completes, so a crash mid-pipeline leaves an accurate
// status behind rather than a run stuck at "pending".
func execute(
	ctx context.Context,
	logger *slog.Logger,
	conn *storage.Connection,
	runStore *runs.Store,
	run *runs.Run,
	manifest *ingestmap.Manifest,
	sourcePath string,
	windowDays int,
) error {
	if err := runStore.UpdateStatus(ctx, run, runs.StatusRunning, ""); err != nil {
		return err
	}

	extractor, err := extract.Open(sourcePath, extractOutputDir)
	if err != nil {
		return err
	}
	defer extractor.Close()

	extractReport, err := extractor.ExtractAll()
	if err != nil {
		return err
	}

	logger.Info("extract complete", "total_rows", extractReport.TotalRowsExtracted, "sheets", len(extractReport.Sheets))

	if err := writeJSONReport("extraction_report.json", extractReport); err != nil {
		return err
	}

	loader := stagingload.NewLoader(conn)

	loadResult, err := loader.LoadAll(ctx, logger, manifest, extractReport)
	if err != nil {
		return err
	}

	if err := writeJSONReport("load_report.json", loadResult); err != nil {
		return err
	}

	var rowsLoaded int64
	for _, r := range loadResult.Results {
		rowsLoaded += r.RowCount
	}

	if err := runStore.UpdateTotals(ctx, run.RunID, extractReport.TotalRowsExtracted, rowsLoaded, 0, 0); err != nil {
		return err
	}

	if err := runStore.UpdateStatus(ctx, run, runs.StatusMergeRunning, ""); err != nil {
		return err
	}

	merger := merge.NewMerger(conn)

	mergeReport, err := merger.MergeAll(ctx, manifest, run.RunID)
	if err != nil {
		return err
	}

	logger.Info("merge complete", "processed", mergeReport.TotalProcessed, "rejected", mergeReport.TotalRejected)

	if err := writeJSONReport("merge_report.json", mergeReport); err != nil {
		return err
	}

	if err := runStore.UpdateTotals(ctx, run.RunID, extractReport.TotalRowsExtracted, rowsLoaded, mergeReport.TotalProcessed, mergeReport.TotalRejected); err != nil {
		return err
	}

	populator := derived.NewPopulator(conn)

	derivedRows, err := populator.PopulateOrderPhases(ctx)
	if err != nil {
		return err
	}

	cacheVersion, err := populator.BumpCacheVersion(ctx)
	if err != nil {
		return err
	}

	logger.Info("derived columns populated", "rows", derivedRows, "cache_version", cacheVersion)

	engine := aggregate.NewEngine(conn)

	aggReport, err := engine.RunCycle(ctx, run.RunID, windowDays, time.Now())
	if err != nil {
		return err
	}

	logger.Info("aggregate cycle complete", "per_table", aggReport.PerTable, "wip_rows", aggReport.WIPRows)

	validator := validate.NewValidator(conn)

	validationReport, err := validator.ValidateAll(ctx, manifest, run.RunID)
	if err != nil {
		return err
	}

	wrote, err := validate.WriteCriticalMismatches(validate.DefaultReportPath, validationReport)
	if err != nil {
		return err
	}

	if wrote {
		logger.Warn("count contract violated; see " + validate.DefaultReportPath)
	}

	if err := runStore.UpdateStatus(ctx, run, runs.StatusMergeDone, ""); err != nil {
		return err
	}

	if err := writeJSONReport("ingestion_report.json", ingestionReport{
		RunID:       run.RunID,
		GeneratedAt: time.Now().UTC(),
		Extract:     extractReport,
		Load:        loadResult,
		Merge:       mergeReport,
		Aggregate:   aggReport,
		Validation:  validationReport,
	}); err != nil {
		return err
	}

	if !validationReport.AllValid {
		return fmt.Errorf("count validation failed for one or more sheets; see %s", validate.DefaultReportPath)
	}

	return nil
}
