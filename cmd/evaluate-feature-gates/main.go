// Package main provides the evaluate-feature-gates CLI (§4.5): regenerates
// FEATURE_GATES.json from the inspector's relationships report and the
// ingestion manifest's declared thresholds, without touching the database.
// Downstream services import that JSON and short-circuit endpoints flagged
// disabled with a structured NOT_SUPPORTED_BY_DATA response instead of
// computing against data the relationship can't actually support.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/nikuframedia/production-core/internal/featuregate"
	"github.com/nikuframedia/production-core/internal/ingestmap"
	"github.com/nikuframedia/production-core/internal/inspector"
)

//nolint:gochecknoglobals // build-time version injection via -ldflags -X
var (
	name    = "evaluate-feature-gates"
	version = "1.0.0-dev"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	manifestPath := flag.String("manifest", ingestmap.DefaultPath, "Path to the ingestion manifest")
	relationshipsPath := flag.String("relationships-report", inspector.RelationshipsReportPath, "Path to the inspector's relationships report")
	outputPath := flag.String("output", featuregate.DefaultReportPath, "Path to write FEATURE_GATES.json")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if err := run(logger, *manifestPath, *relationshipsPath, *outputPath); err != nil {
		logger.Error("feature gate evaluation failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, manifestPath, relationshipsPath, outputPath string) error {
	manifest, err := ingestmap.Load(manifestPath)
	if err != nil {
		return err
	}

	matchRates, err := featuregate.LoadRelationshipsReport(relationshipsPath)
	if err != nil {
		return err
	}

	report := featuregate.EvaluateAll(manifest, matchRates)

	if err := featuregate.WriteReport(outputPath, report); err != nil {
		return err
	}

	var disabled, degraded int

	for _, g := range report.Gates {
		if !g.Enabled {
			disabled++
		}

		if g.Degraded {
			degraded++
		}
	}

	logger.Info("feature gates evaluated",
		"gates", len(report.Gates),
		"disabled", disabled,
		"degraded", degraded,
		"output", outputPath,
	)

	return nil
}
