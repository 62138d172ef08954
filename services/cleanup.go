package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/workers"
)

const defaultSweepPageSize = 500

// LinkChecker probes image URLs one at a time or in rate-limited batches
type LinkChecker interface {
	Check(ctx context.Context, url string) bool
	CheckAll(ctx context.Context, urls []string) map[string]bool
}

// Rebuilder re-runs a full import after the tables are cleared
type Rebuilder interface {
	Rebuild(ctx context.Context) (*models.RunStats, error)
}

type CleanupOptions struct {
	DeleteOrphans bool
}

// CleanupService reconciles stored image rows with what is actually reachable
type CleanupService struct {
	gateway   *Gateway
	checker   LinkChecker
	resolver  *media.Resolver
	rebuilder Rebuilder
	pageSize  int
	logFunc   workers.LogFunc
}

func NewCleanupService(gateway *Gateway, checker LinkChecker, resolver *media.Resolver) *CleanupService {
	return &CleanupService{
		gateway:  gateway,
		checker:  checker,
		resolver: resolver,
		pageSize: defaultSweepPageSize,
		logFunc:  workers.NoOpLogger,
	}
}

func (s *CleanupService) SetRebuilder(r Rebuilder) {
	s.rebuilder = r
}

func (s *CleanupService) SetLogger(fn workers.LogFunc) {
	s.logFunc = fn
}

func (s *CleanupService) SetPageSize(n int) {
	if n > 0 {
		s.pageSize = n
	}
}

// Run applies one cleanup policy. Chunk failures are counted in the report;
// only failures that stop the sweep itself are returned.
func (s *CleanupService) Run(ctx context.Context, policy models.CleanupPolicy, opts CleanupOptions) (*models.CleanupReport, error) {
	report := &models.CleanupReport{Policy: policy}
	log.Printf("Cleanup: starting (policy=%s)", policy)

	var err error
	switch policy {
	case models.PolicyFixURLsOnly:
		err = s.fixURLs(ctx, report)
	case models.PolicyFullRebuild:
		err = s.rebuild(ctx, report)
	default:
		if !policy.DeletesImages() {
			return nil, fmt.Errorf("unknown cleanup policy %q", policy)
		}
		err = s.deleteUnreachable(ctx, report)
		if err == nil && policy == models.PolicyDeleteImagelessProperties {
			err = s.deleteImageless(ctx, report)
		}
	}
	if err != nil {
		return report, err
	}

	if opts.DeleteOrphans && policy != models.PolicyFixURLsOnly {
		n, err := s.gateway.DeleteOrphanImages(ctx)
		if err != nil {
			return report, fmt.Errorf("delete orphan images: %w", err)
		}
		report.OrphansDeleted = n
	}

	log.Printf("Cleanup: done (policy=%s checked=%d broken=%d fixed=%d images_deleted=%d properties_deleted=%d)",
		policy, report.ImagesChecked, report.ImagesBroken, report.ImagesFixed, report.ImagesDeleted, report.PropertiesDeleted)
	s.logFunc(models.LogLevelInfo, "cleanup", fmt.Sprintf("%s: %d/%d images broken, %d images and %d properties deleted",
		policy, report.ImagesBroken, report.ImagesChecked, report.ImagesDeleted, report.PropertiesDeleted))
	return report, nil
}

// sweep probes every stored image and returns the unreachable rows
func (s *CleanupService) sweep(ctx context.Context, report *models.CleanupReport) ([]models.PropertyImage, error) {
	var broken []models.PropertyImage
	err := s.gateway.ForEachImagePage(ctx, s.pageSize, func(page []models.PropertyImage) error {
		urls := make([]string, len(page))
		for i, img := range page {
			urls[i] = img.ImageURL
		}
		alive := s.checker.CheckAll(ctx, urls)
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, img := range page {
			if !alive[img.ImageURL] {
				broken = append(broken, img)
			}
		}
		report.ImagesChecked += len(page)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("image sweep: %w", err)
	}
	report.ImagesBroken = len(broken)
	return broken, nil
}

func (s *CleanupService) fixURLs(ctx context.Context, report *models.CleanupReport) error {
	broken, err := s.sweep(ctx, report)
	if err != nil {
		return err
	}
	for _, img := range broken {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fixed, ok := s.findWorkingURL(ctx, img.ImageURL)
		if !ok {
			continue
		}
		if err := s.gateway.FixImageURL(ctx, img.ID, fixed); err != nil {
			log.Printf("Warning: could not update image %s: %v", img.ID, err)
			continue
		}
		report.ImagesFixed++
	}
	return nil
}

// findWorkingURL re-resolves a stored URL against every provider's templates
func (s *CleanupService) findWorkingURL(ctx context.Context, stored string) (string, bool) {
	for _, provider := range s.resolver.Providers() {
		ref := stored
		if media.IsAbsolute(stored) {
			r, ok := s.resolver.RefFromURL(provider, stored)
			if !ok {
				continue
			}
			ref = r
		}
		for _, candidate := range s.resolver.Candidates(provider, ref) {
			if candidate == stored {
				continue
			}
			if s.checker.Check(ctx, candidate) {
				return candidate, true
			}
		}
	}
	return "", false
}

func (s *CleanupService) deleteUnreachable(ctx context.Context, report *models.CleanupReport) error {
	broken, err := s.sweep(ctx, report)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(broken))
	for i, img := range broken {
		ids[i] = img.ID
	}
	res := s.gateway.DeleteBrokenImages(ctx, ids)
	report.ImagesDeleted = res.Deleted
	report.FailedChunks += res.FailedChunks

	n, err := s.gateway.RepairPrimaryImages(ctx)
	if err != nil {
		log.Printf("Warning: primary image repair failed: %v", err)
	}
	report.PrimariesRepaired = n
	return nil
}

func (s *CleanupService) deleteImageless(ctx context.Context, report *models.CleanupReport) error {
	ids, err := s.gateway.ListPropertiesMissingImages(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	res := s.gateway.DeleteProperties(ctx, ids)
	report.PropertiesDeleted = res.Deleted
	report.FailedChunks += res.FailedChunks
	return nil
}

func (s *CleanupService) rebuild(ctx context.Context, report *models.CleanupReport) error {
	if s.rebuilder == nil {
		return errors.New("full rebuild needs an importer")
	}
	if err := s.gateway.Clear(ctx); err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}
	log.Println("Cleanup: tables cleared, re-importing")

	stats, err := s.rebuilder.Rebuild(ctx)
	report.Rebuild = stats
	if err != nil {
		return fmt.Errorf("rebuild import: %w", err)
	}
	return s.deleteImageless(ctx, report)
}
