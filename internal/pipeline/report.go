package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/JakeFAU/pagelocalizer/internal/assets"
)

// Report describes one run. It is written as the JSON run manifest.
type Report struct {
	RunID            string          `json:"run_id,omitempty"`
	Input            string          `json:"input,omitempty"`
	Output           string          `json:"output,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	FinishedAt       time.Time       `json:"finished_at"`
	Rewrites         map[string]int  `json:"rewrites"`
	Removals         map[string]int  `json:"removals"`
	Patches          map[string]int  `json:"layout_patches"`
	Injected         []string        `json:"injected,omitempty"`
	SkippedFragments []string        `json:"skipped_fragments,omitempty"`
	Assets           []assets.Record `json:"assets"`
	Error            string          `json:"error,omitempty"`
}

func newReport(start time.Time) Report {
	return Report{
		StartedAt: start,
		Rewrites:  map[string]int{},
		Removals:  map[string]int{},
		Patches:   map[string]int{},
		Assets:    []assets.Record{},
	}
}

// AssetSummary counts asset records by status.
func (r Report) AssetSummary() map[assets.Status]int {
	out := make(map[assets.Status]int)
	for _, rec := range r.Assets {
		out[rec.Status]++
	}
	return out
}

// FailedAssets returns the records whose download failed. The page still
// points at their local paths.
func (r Report) FailedAssets() []assets.Record {
	var failed []assets.Record
	for _, rec := range r.Assets {
		if rec.Status == assets.StatusFailed {
			failed = append(failed, rec)
		}
	}
	return failed
}

// WriteReport writes report as indented JSON to path.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
