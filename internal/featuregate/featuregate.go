// Package featuregate implements the Feature-Gate Evaluator (§4.5): reads
// the relationships report the inspector produces and decides, for every
// manifest-declared relationship, whether the feature it backs is enabled,
// disabled, or degraded. Grounded in
// original_source/scripts/evaluate_feature_gates.py, generalized from that
// script's two hardcoded gates to the manifest's declared relationship
// list, each carrying its own threshold/soft_threshold.
package featuregate

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nikuframedia/production-core/internal/ingestmap"
)

// MatchRate is the subset of a RelationshipResult (internal/inspector) the
// evaluator needs, kept narrow so this package doesn't import inspector
// just to read two numbers out of its JSON.
type MatchRate struct {
	MatchRate   float64 `json:"match_rate"`
	OrphanCount int     `json:"orphan_count"`
}

// relationshipsDoc mirrors RELATIONSHIPS_REPORT.json's shape.
type relationshipsDoc struct {
	GeneratedAt   string               `json:"generated_at"`
	Relationships map[string]MatchRate `json:"relationships"`
}

// Gate is one feature's evaluated state.
type Gate struct {
	Feature       string  `json:"feature"`
	Relationship  string  `json:"relationship"`
	MatchRate     float64 `json:"match_rate"`
	Threshold     float64 `json:"threshold"`
	SoftThreshold float64 `json:"soft_threshold"`
	Enabled       bool    `json:"enabled"`
	Degraded      bool    `json:"degraded"`
	OrphanCount   int     `json:"orphans_count"`
	Reason        string  `json:"reason"`
}

// Report is the full FEATURE_GATES.json document (§4.5: "top-level keys are
// feature names").
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Gates       map[string]Gate `json:"gates"`
}

// LoadRelationshipsReport reads RELATIONSHIPS_REPORT.json from path. A
// missing file is not an error: the original script treats "ingestion has
// not run yet" as a real, recoverable state and evaluates every relationship
// at match_rate=0 (every hard gate comes back disabled) rather than failing.
func LoadRelationshipsReport(path string) (map[string]MatchRate, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]MatchRate{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc relationshipsDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return doc.Relationships, nil
}

// EvaluateAll evaluates every relationship the manifest declares against the
// match rates the inspector measured. A relationship absent from
// matchRates (never measured, or the report predates it) evaluates at
// match_rate=0, which disables any feature gated on a hard threshold.
//
// A feature is enabled when its relationship's match rate meets Threshold
// (§4.5: "enabled (match-rate >= threshold)"), and flagged degraded whenever
// it falls short of the softer SoftThreshold independent of Enabled: the
// original's produto_join gate stays enabled while degraded, so degraded is
// not merely "about to be disabled".
func EvaluateAll(manifest *ingestmap.Manifest, matchRates map[string]MatchRate) Report {
	report := Report{GeneratedAt: time.Now().UTC(), Gates: map[string]Gate{}}

	for _, rel := range manifest.Relationships {
		mr := matchRates[rel.Name]

		enabled := mr.MatchRate >= rel.Threshold
		degraded := mr.MatchRate < rel.SoftThreshold

		reason := fmt.Sprintf("match rate %.1f%% %s threshold %.1f%%",
			mr.MatchRate*100, verdictWord(enabled), rel.Threshold*100)

		report.Gates[rel.Feature] = Gate{
			Feature:       rel.Feature,
			Relationship:  rel.Name,
			MatchRate:     mr.MatchRate,
			Threshold:     rel.Threshold,
			SoftThreshold: rel.SoftThreshold,
			Enabled:       enabled,
			Degraded:      degraded,
			OrphanCount:   mr.OrphanCount,
			Reason:        reason,
		}
	}

	return report
}

func verdictWord(enabled bool) string {
	if enabled {
		return "meets"
	}

	return "below"
}
