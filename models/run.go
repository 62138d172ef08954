package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

type RunKind string

const (
	RunKindImport  RunKind = "import"
	RunKindCleanup RunKind = "cleanup"
)

// Run is one row of the SQLite run ledger
type Run struct {
	ID         int64           `json:"id" db:"id"`
	Kind       RunKind         `json:"kind" db:"kind"`
	Provider   string          `json:"provider" db:"provider"`
	StartedAt  time.Time       `json:"started_at" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at" db:"finished_at"`
	Status     RunStatus       `json:"status" db:"status"`
	Processed  int             `json:"processed" db:"processed"`
	Imported   int             `json:"imported" db:"imported"`
	Skipped    int             `json:"skipped" db:"skipped"`
	Failed     int             `json:"failed" db:"failed"`
	Metadata   json.RawMessage `json:"metadata" db:"metadata"`
}

// RunStats are the externally visible counters of an import run
type RunStats struct {
	URLsProcessed int `json:"urls_processed"`
	URLsFailed    int `json:"urls_failed"`
	ListingsFound int `json:"listings_found"`
	Processed     int `json:"processed"`
	Imported      int `json:"imported"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	ImagesSaved   int `json:"images_saved"`
	ImageErrors   int `json:"image_errors"`
}

func (s *RunStats) Add(o RunStats) {
	s.URLsProcessed += o.URLsProcessed
	s.URLsFailed += o.URLsFailed
	s.ListingsFound += o.ListingsFound
	s.Processed += o.Processed
	s.Imported += o.Imported
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.ImagesSaved += o.ImagesSaved
	s.ImageErrors += o.ImageErrors
}

func (s *RunStats) ToJSON() json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
