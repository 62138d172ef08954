package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/normalize"
)

func newListingService(store *memStore, checker *fakeChecker) *ListingService {
	resolver := media.NewResolver(checker)
	resolver.Register("example", []string{mediaBase, mediaBase + "/dir/crop/10:9-16:9"})
	return NewListingService(NewGateway(store, 50), normalize.New("example"), resolver, 3)
}

func studioFlat() models.RawListing {
	return models.RawListing{
		Title:        "Studio Flat",
		PriceText:    "£200 pw",
		AddressText:  "12 Main St, Leeds, LS1 1AA",
		BedroomsText: "1",
		ImageRefs:    []string{"/img/1.jpg"},
		SourceURL:    "https://www.example.co.uk/properties/1",
	}
}

func TestProcessBatch_StoresNormalizedProperty(t *testing.T) {
	store := newMemStore()
	svc := newListingService(store, newFakeChecker(mediaBase+"/img/1.jpg"))

	stats := svc.ProcessBatch(context.Background(), "example", []models.RawListing{studioFlat()})
	if stats.Imported != 1 || stats.Failed != 0 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(store.props) != 1 {
		t.Fatalf("expected 1 property, got %d", len(store.props))
	}
	var p models.Property
	for _, v := range store.props {
		p = v
	}
	if p.Price != 200 || p.PriceType != models.PriceWeekly {
		t.Fatalf("expected 200 weekly, got %.2f %s", p.Price, p.PriceType)
	}
	if p.Location != "Leeds" || p.Postcode != "LS1 1AA" {
		t.Fatalf("expected Leeds LS1 1AA, got %q %q", p.Location, p.Postcode)
	}
	if p.Bedrooms != 1 || p.Source != "example" {
		t.Fatalf("unexpected bedrooms %d or source %q", p.Bedrooms, p.Source)
	}

	images := store.imagesOf(p.ID)
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	if images[0].ImageURL != mediaBase+"/img/1.jpg" || !images[0].IsPrimary {
		t.Fatalf("unexpected image %+v", images[0])
	}
}

func TestProcessBatch_SkipsListingWithoutWorkingImage(t *testing.T) {
	store := newMemStore()
	svc := newListingService(store, newFakeChecker())

	stats := svc.ProcessBatch(context.Background(), "example", []models.RawListing{studioFlat()})
	if stats.Skipped != 1 || stats.Imported != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(store.props) != 0 {
		t.Fatal("listing without images should not be stored")
	}
}

func TestProcessBatch_FallsBackToSecondTemplate(t *testing.T) {
	store := newMemStore()
	cropped := mediaBase + "/dir/crop/10:9-16:9"
	svc := newListingService(store, newFakeChecker(cropped+"/img/1.jpg"))

	raw := studioFlat()
	raw.ImageRefs = []string{"/img/1.jpg", "/img/1.jpg", "/img/2.jpg", "/img/3.jpg", "/img/4.jpg"}
	stats := svc.ProcessBatch(context.Background(), "example", []models.RawListing{raw})
	if stats.Imported != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	pid := store.bySource[raw.SourceURL]
	images := store.imagesOf(pid)
	// /img/2 and /img/3 are probed and dead; /img/4 is past the probe limit
	if len(images) != 2 {
		t.Fatalf("expected 2 images, got %d: %+v", len(images), images)
	}
	if images[1].ImageURL != cropped+"/img/4.jpg" {
		t.Fatalf("unexpected unprobed image %s", images[1].ImageURL)
	}
}

func TestProcessBatch_DedupesListings(t *testing.T) {
	store := newMemStore()
	svc := newListingService(store, newFakeChecker(mediaBase+"/img/1.jpg"))

	a, b, c := studioFlat(), studioFlat(), studioFlat()
	b.SourceURL = "https://www.example.co.uk/properties/2"
	c.SourceURL = "https://www.example.co.uk/properties/3"

	stats := svc.ProcessBatch(context.Background(), "example", []models.RawListing{a, b, a, c, b})
	if stats.Processed != 3 || stats.Imported != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(store.props) != 3 {
		t.Fatalf("expected 3 properties, got %d", len(store.props))
	}
}

func TestProcessBatch_BadRowDoesNotSinkBatch(t *testing.T) {
	store := newMemStore()
	store.upsertErr = func(p *models.Property) error {
		if p.Title == "Flat 5" {
			return errors.New("duplicate key value")
		}
		return nil
	}
	svc := newListingService(store, newFakeChecker(mediaBase+"/img/1.jpg"))

	raws := make([]models.RawListing, 10)
	for i := range raws {
		raws[i] = studioFlat()
		raws[i].Title = fmt.Sprintf("Flat %d", i+1)
		raws[i].SourceURL = fmt.Sprintf("https://www.example.co.uk/properties/%d", i+1)
	}

	stats := svc.ProcessBatch(context.Background(), "example", raws)
	if stats.Imported != 9 || stats.Failed != 1 {
		t.Fatalf("expected imported=9 failed=1, got %+v", stats)
	}
	if stats.ImagesSaved != 9 {
		t.Fatalf("expected images only for stored rows, got %d", stats.ImagesSaved)
	}
	if len(store.images) != 9 {
		t.Fatalf("expected 9 image rows, got %d", len(store.images))
	}
}
