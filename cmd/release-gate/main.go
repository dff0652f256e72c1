// Package main provides the Release Gate CLI (§4.4): the last composite
// check before a release is promoted. It re-runs the count validator and
// the feature-gate evaluator against the live database and the inspector's
// last relationships report, adds migration-head/partition-topology/
// benchmark-artifact checks, and writes reports/RELEASE_BLOCKED.md naming
// every failing check. Exits 0 when release-ready, non-zero otherwise.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	appconfig "github.com/nikuframedia/production-core/internal/config"
	"github.com/nikuframedia/production-core/internal/gate"
	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/inspector"
	"github.com/nikuframedia/production-core/internal/runs"
	"github.com/nikuframedia/production-core/internal/storage"
)

// defaultBenchmarkPaths are the performance-benchmark artifacts §6 expects
// on disk before a release is promoted. Their measured SLOs are consulted
// but not required to pass (§4.4); only presence is checked here.
var defaultBenchmarkPaths = []string{ //nolint:gochecknoglobals // fixed default, overridable via -benchmarks
	"reports/benchmarks/merge_bench.json",
	"reports/benchmarks/aggregate_bench.json",
}

//nolint:gochecknoglobals // build-time version injection via -ldflags -X
var (
	name    = "release-gate"
	version = "1.0.0-dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	manifestPath := flag.String("manifest", ingestmap.DefaultPath, "Path to the ingestion manifest")
	relationshipsPath := flag.String("relationships-report", inspector.RelationshipsReportPath, "Path to the inspector's relationships report")
	benchmarks := flag.String("benchmarks", strings.Join(defaultBenchmarkPaths, ","), "Comma-separated list of expected benchmark artifact paths")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	ok, err := run(context.Background(), logger, *manifestPath, *relationshipsPath, appconfig.ParseCommaSeparatedList(*benchmarks))
	if err != nil {
		logger.Error("release gate evaluation failed", "error", err)
		os.Exit(1)
	}

	if !ok {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, manifestPath, relationshipsPath string, benchmarkPaths []string) (bool, error) {
	cfg, err := appconfig.Load()
	if err != nil {
		return false, fmt.Errorf("loading configuration: %w", err)
	}

	if err := cfg.DB.Validate(); err != nil {
		return false, fmt.Errorf("invalid database configuration: %w", err)
	}

	manifest, err := ingestmap.Load(manifestPath)
	if err != nil {
		return false, err
	}

	conn, err := storage.NewConnection(cfg.DB)
	if err != nil {
		return false, fmt.Errorf("connecting to database: %w", err)
	}
	defer conn.Close()

	runStore := runs.NewStore(conn)

	var runID string

	latest, err := runStore.LatestRun(ctx)
	if err != nil && !errors.Is(err, runs.ErrRunNotFound) {
		return false, fmt.Errorf("loading latest ingestion run: %w", err)
	}

	if latest != nil {
		runID = latest.RunID
	}

	g := gate.New(conn)

	report, err := g.Evaluate(ctx, manifest, gate.Options{
		DatabaseURL:             cfg.DB.DatabaseURL(),
		RunID:                   runID,
		RelationshipsReportPath: relationshipsPath,
		BenchmarkPaths:          benchmarkPaths,
	})
	if err != nil {
		return false, fmt.Errorf("evaluating release gate: %w", err)
	}

	if _, err := gate.WriteBlocked(gate.DefaultReportPath, report); err != nil {
		return false, fmt.Errorf("writing %s: %w", gate.DefaultReportPath, err)
	}

	for _, c := range report.Checks {
		logger.Info("gate check", "name", c.Name, "passed", c.Passed, "detail", c.Detail)
	}

	if !report.ReleaseOK {
		logger.Error("release blocked; see " + gate.DefaultReportPath)

		return false, nil
	}

	logger.Info("release gate passed; release is ready for promotion")

	return true, nil
}
