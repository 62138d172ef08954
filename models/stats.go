package models

import "time"

// StoreStats are the row counts the diagnostic run reports
type StoreStats struct {
	Properties              int `json:"properties"`
	Images                  int `json:"images"`
	PropertiesWithoutImages int `json:"properties_without_images"`
}

// CoveragePct is the share of properties that have at least one image
func (s StoreStats) CoveragePct() float64 {
	if s.Properties == 0 {
		return 0
	}
	with := s.Properties - s.PropertiesWithoutImages
	return float64(with) * 100 / float64(s.Properties)
}

type DiagnosticReport struct {
	GeneratedAt   time.Time  `json:"generated_at"`
	Stats         StoreStats `json:"stats"`
	CoveragePct   float64    `json:"coverage_pct"`
	SampleChecked int        `json:"sample_checked"`
	SampleBroken  []string   `json:"sample_broken"`
	RecentRuns    []Run      `json:"recent_runs,omitempty"`
}
