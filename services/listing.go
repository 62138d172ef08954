package services

import (
	"context"
	"fmt"
	"log"

	"studenthome_ingest/identity"
	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/normalize"
	"studenthome_ingest/workers"
)

const defaultImagesToProbe = 3

// ListingService turns extracted listings into stored properties with
// working images
type ListingService struct {
	gateway       *Gateway
	normalizer    *normalize.Normalizer
	resolver      *media.Resolver
	imagesToProbe int
	logFunc       workers.LogFunc
}

func NewListingService(gateway *Gateway, normalizer *normalize.Normalizer, resolver *media.Resolver, imagesToProbe int) *ListingService {
	if imagesToProbe <= 0 {
		imagesToProbe = defaultImagesToProbe
	}
	return &ListingService{
		gateway:       gateway,
		normalizer:    normalizer,
		resolver:      resolver,
		imagesToProbe: imagesToProbe,
		logFunc:       workers.NoOpLogger,
	}
}

func (s *ListingService) SetLogger(fn workers.LogFunc) {
	s.logFunc = fn
}

type preparedListing struct {
	property *models.Property
	images   []models.PropertyImage
}

// ProcessBatch normalizes, dedupes and stores one batch of listings. A listing
// with no reachable image among the probed ones is skipped, not failed.
func (s *ListingService) ProcessBatch(ctx context.Context, provider string, raws []models.RawListing) models.RunStats {
	var stats models.RunStats

	unique := identity.DedupeListings(raws, listingLocation)
	if dropped := len(raws) - len(unique); dropped > 0 {
		log.Printf("ListingService: %s dropped %d duplicate listings", provider, dropped)
	}
	stats.Processed = len(unique)

	prepared := make([]preparedListing, 0, len(unique))
	for i := range unique {
		if ctx.Err() != nil {
			break
		}
		raw := &unique[i]
		if raw.Provider == "" {
			raw.Provider = provider
		}

		prop := s.normalizer.Normalize(raw)
		images := s.resolveImages(ctx, provider, prop.Title, raw.ImageRefs)
		if len(images) == 0 {
			stats.Skipped++
			s.logFunc(models.LogLevelWarn, provider, fmt.Sprintf("skipped %q: no working image", prop.Title))
			continue
		}
		prepared = append(prepared, preparedListing{property: prop, images: images})
	}

	props := make([]*models.Property, len(prepared))
	imagesFor := make(map[*models.Property][]models.PropertyImage, len(prepared))
	for i, p := range prepared {
		props[i] = p.property
		imagesFor[p.property] = p.images
	}

	result := s.gateway.UpsertProperties(ctx, props)
	stats.Imported = result.InsertedCount()
	stats.Failed = result.FailedCount()
	for _, rowErr := range result.Errors {
		s.logFunc(models.LogLevelError, provider, rowErr.Error())
	}

	for _, prop := range result.Inserted {
		saved, err := s.gateway.UpsertImages(ctx, prop.ID, imagesFor[prop])
		if err != nil {
			stats.ImageErrors++
			log.Printf("Warning: %v", err)
			s.logFunc(models.LogLevelError, provider, err.Error())
			continue
		}
		stats.ImagesSaved += len(saved)
	}

	return stats
}

// resolveImages probes the first few refs and keeps those that answer. The
// rest are resolved against whichever template the probes settled on.
func (s *ListingService) resolveImages(ctx context.Context, provider, title string, refs []string) []models.PropertyImage {
	var urls []string
	live := false

	for i, ref := range identity.DedupeURLs(refs) {
		if i < s.imagesToProbe {
			if u, ok := s.resolver.ResolveLive(ctx, provider, ref); ok {
				urls = append(urls, u)
				live = true
			}
			continue
		}
		if u := s.resolver.Resolve(provider, ref); u != "" {
			urls = append(urls, u)
		}
	}
	if !live {
		return nil
	}

	urls = identity.DedupeURLs(urls)
	images := make([]models.PropertyImage, len(urls))
	for i, u := range urls {
		images[i] = models.PropertyImage{
			ImageURL: u,
			AltText:  fmt.Sprintf("%s - image %d", title, i+1),
		}
	}
	return images
}

func listingLocation(raw *models.RawListing) string {
	if loc := normalize.ExtractLocation(raw.AddressText); loc != "" {
		return loc
	}
	return normalize.LocationFromURL(raw.SourceURL)
}
