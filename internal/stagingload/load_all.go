package stagingload

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nikuframedia/production-core/internal/extract"
	"github.com/nikuframedia/production-core/internal/ingestmap"
)

// AllResult summarizes a staging load across every sheet present in an
// extraction report.
type AllResult struct {
	LoadedSheets int
	Results      map[string]Result
}

// LoadAll loads every sheet the extraction report produced that also has a
// staging mapping in the manifest, skipping (with a warning) anything the
// manifest does not know about rather than failing the whole run.
func (l *Loader) LoadAll(ctx context.Context, logger *slog.Logger, manifest *ingestmap.Manifest, report *extract.Report) (AllResult, error) {
	results := make(map[string]Result, len(report.Sheets))

	for sheetName, sheetResult := range report.Sheets {
		cfg, ok := manifest.SheetByName(sheetName)
		if !ok {
			logger.Warn("no staging mapping for sheet", "sheet", sheetName)
			continue
		}

		res, err := l.LoadSheet(ctx, sheetName, sheetResult.FilePath, cfg)
		if err != nil {
			return AllResult{}, fmt.Errorf("loading sheet %s: %w", sheetName, err)
		}

		logger.Info("loaded sheet",
			"sheet", sheetName,
			"staging_table", res.StagingTable,
			"row_count", res.RowCount,
			"elapsed_seconds", res.ElapsedSeconds,
			"throughput_rows_per_sec", res.ThroughputRowsPerSec,
		)

		results[sheetName] = res
	}

	return AllResult{LoadedSheets: len(results), Results: results}, nil
}
