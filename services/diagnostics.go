package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"studenthome_ingest/models"
)

// StatsReader is satisfied by both the Postgres store and the Supabase REST client
type StatsReader interface {
	Stats(ctx context.Context) (models.StoreStats, error)
	SampleImageURLs(ctx context.Context, n int) ([]string, error)
}

type RunHistory interface {
	RecentRuns(limit int) ([]models.Run, error)
}

type ReportUploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// DiagnosticsService reports table counts, image coverage and a liveness
// sample. It only reads.
type DiagnosticsService struct {
	reader   StatsReader
	checker  LinkChecker
	history  RunHistory
	uploader ReportUploader
	now      func() time.Time
}

func NewDiagnosticsService(reader StatsReader, checker LinkChecker) *DiagnosticsService {
	return &DiagnosticsService{
		reader:  reader,
		checker: checker,
		now:     time.Now,
	}
}

func (s *DiagnosticsService) SetHistory(h RunHistory) {
	s.history = h
}

func (s *DiagnosticsService) SetUploader(u ReportUploader) {
	s.uploader = u
}

func (s *DiagnosticsService) Run(ctx context.Context, sampleSize int) (*models.DiagnosticReport, error) {
	stats, err := s.reader.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	report := &models.DiagnosticReport{
		GeneratedAt:  s.now().UTC(),
		Stats:        stats,
		CoveragePct:  stats.CoveragePct(),
		SampleBroken: []string{},
	}

	if sampleSize > 0 {
		urls, err := s.reader.SampleImageURLs(ctx, sampleSize)
		if err != nil {
			return nil, fmt.Errorf("sample images: %w", err)
		}
		alive := s.checker.CheckAll(ctx, urls)
		for _, u := range urls {
			if !alive[u] {
				report.SampleBroken = append(report.SampleBroken, u)
			}
		}
		report.SampleChecked = len(urls)
	}

	if s.history != nil {
		runs, err := s.history.RecentRuns(10)
		if err != nil {
			log.Printf("Warning: could not load run history: %v", err)
		} else {
			report.RecentRuns = runs
		}
	}

	return report, nil
}

// Publish uploads the report as JSON under key
func (s *DiagnosticsService) Publish(ctx context.Context, key string, report *models.DiagnosticReport) error {
	if s.uploader == nil {
		return fmt.Errorf("no report uploader configured")
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return s.uploader.Upload(ctx, key, bytes.NewReader(data), "application/json")
}

// WriteSummary prints the human-readable report
func WriteSummary(w io.Writer, r *models.DiagnosticReport) {
	fmt.Fprintf(w, "Diagnostics at %s\n", r.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  properties:               %d\n", r.Stats.Properties)
	fmt.Fprintf(w, "  images:                   %d\n", r.Stats.Images)
	fmt.Fprintf(w, "  properties without image: %d\n", r.Stats.PropertiesWithoutImages)
	fmt.Fprintf(w, "  image coverage:           %.1f%%\n", r.CoveragePct)
	if r.SampleChecked > 0 {
		fmt.Fprintf(w, "  sample: %d checked, %d broken\n", r.SampleChecked, len(r.SampleBroken))
		for _, u := range r.SampleBroken {
			fmt.Fprintf(w, "    broken: %s\n", u)
		}
	}
	for _, run := range r.RecentRuns {
		fmt.Fprintf(w, "  run %d %s %s: %s (imported=%d failed=%d)\n",
			run.ID, run.Kind, run.Provider, run.Status, run.Imported, run.Failed)
	}
}
