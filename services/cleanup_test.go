package services

import (
	"context"
	"testing"

	"studenthome_ingest/media"
	"studenthome_ingest/models"
)

const mediaBase = "https://media.example.co.uk"

func newCleanup(store *memStore, checker *fakeChecker) *CleanupService {
	resolver := media.NewResolver(checker)
	resolver.Register("example", []string{mediaBase, mediaBase + "/dir/crop/10:9-16:9"})
	return NewCleanupService(NewGateway(store, 50), checker, resolver)
}

func TestCleanup_KeepsPropertyWithOneWorkingImage(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Studio", mediaBase+"/1.jpg", mediaBase+"/2.jpg", mediaBase+"/3.jpg")
	checker := newFakeChecker(mediaBase + "/3.jpg")

	report, err := newCleanup(store, checker).Run(context.Background(), models.PolicyDeleteImagelessProperties, CleanupOptions{})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.ImagesChecked != 3 || report.ImagesBroken != 2 {
		t.Fatalf("expected 3 checked and 2 broken, got %d and %d", report.ImagesChecked, report.ImagesBroken)
	}
	if report.ImagesDeleted != 2 {
		t.Fatalf("expected 2 images deleted, got %d", report.ImagesDeleted)
	}
	if report.PropertiesDeleted != 0 {
		t.Fatalf("expected no properties deleted, got %d", report.PropertiesDeleted)
	}
	if !store.hasProperty(pid) {
		t.Fatal("property with a working image was deleted")
	}
	left := store.imagesOf(pid)
	if len(left) != 1 || left[0].ImageURL != mediaBase+"/3.jpg" {
		t.Fatalf("unexpected remaining images %+v", left)
	}
	if !left[0].IsPrimary {
		t.Fatal("remaining image should have been promoted to primary")
	}
}

func TestCleanup_DeletesPropertyWithNoWorkingImages(t *testing.T) {
	store := newMemStore()
	dead := store.seed("Dead", mediaBase+"/x.jpg", mediaBase+"/y.jpg")
	alive := store.seed("Alive", mediaBase+"/ok.jpg")
	checker := newFakeChecker(mediaBase + "/ok.jpg")

	report, err := newCleanup(store, checker).Run(context.Background(), models.PolicyDeleteImagelessProperties, CleanupOptions{})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.ImagesDeleted != 2 || report.PropertiesDeleted != 1 {
		t.Fatalf("expected 2 images and 1 property deleted, got %d and %d", report.ImagesDeleted, report.PropertiesDeleted)
	}
	if store.hasProperty(dead) {
		t.Fatal("imageless property survived")
	}
	if len(store.imagesOf(dead)) != 0 {
		t.Fatal("images of deleted property survived")
	}
	if !store.hasProperty(alive) {
		t.Fatal("healthy property was deleted")
	}
}

func TestCleanup_DeleteImagesPolicyKeepsProperties(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Dead", mediaBase+"/x.jpg")

	report, err := newCleanup(store, newFakeChecker()).Run(context.Background(), models.PolicyDeleteUnreachableImages, CleanupOptions{})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.ImagesDeleted != 1 {
		t.Fatalf("expected 1 image deleted, got %d", report.ImagesDeleted)
	}
	if !store.hasProperty(pid) {
		t.Fatal("delete-images must not remove properties")
	}
}

func TestCleanup_FixURLsRewritesToWorkingTemplate(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Flat", mediaBase+"/img/1.jpg", mediaBase+"/img/2.jpg")
	cropped := mediaBase + "/dir/crop/10:9-16:9/img/1.jpg"
	checker := newFakeChecker(cropped)

	report, err := newCleanup(store, checker).Run(context.Background(), models.PolicyFixURLsOnly, CleanupOptions{DeleteOrphans: true})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.ImagesFixed != 1 {
		t.Fatalf("expected 1 image fixed, got %d", report.ImagesFixed)
	}
	if report.ImagesDeleted != 0 || report.OrphansDeleted != 0 {
		t.Fatal("fix-urls must not delete anything")
	}
	images := store.imagesOf(pid)
	if len(images) != 2 {
		t.Fatalf("expected both images kept, got %d", len(images))
	}
	if images[0].ImageURL != cropped {
		t.Fatalf("expected %s, got %s", cropped, images[0].ImageURL)
	}
	if images[1].ImageURL != mediaBase+"/img/2.jpg" {
		t.Fatalf("unfixable image changed to %s", images[1].ImageURL)
	}
}

func TestCleanup_SweepPaginates(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 5; i++ {
		store.seed("Flat", mediaBase+"/ok.jpg")
	}
	svc := newCleanup(store, newFakeChecker(mediaBase+"/ok.jpg"))
	svc.SetPageSize(2)

	report, err := svc.Run(context.Background(), models.PolicyDeleteUnreachableImages, CleanupOptions{})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.ImagesChecked != 5 {
		t.Fatalf("expected 5 images checked, got %d", report.ImagesChecked)
	}
	if store.listCalls != 3 {
		t.Fatalf("expected 3 pages, got %d", store.listCalls)
	}
}

func TestCleanup_DeletesOrphans(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Gone", mediaBase+"/ok.jpg")
	delete(store.props, pid)

	report, err := newCleanup(store, newFakeChecker(mediaBase+"/ok.jpg")).Run(context.Background(), models.PolicyDeleteImagelessProperties, CleanupOptions{DeleteOrphans: true})
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if report.OrphansDeleted != 1 {
		t.Fatalf("expected 1 orphan deleted, got %d", report.OrphansDeleted)
	}
}

type fakeRebuilder struct {
	store *memStore
}

func (r *fakeRebuilder) Rebuild(ctx context.Context) (*models.RunStats, error) {
	r.store.seed("Fresh", mediaBase+"/ok.jpg")
	r.store.seed("Bare")
	return &models.RunStats{Imported: 2}, nil
}

func TestCleanup_FullRebuild(t *testing.T) {
	store := newMemStore()
	old := store.seed("Old", mediaBase+"/ok.jpg")
	svc := newCleanup(store, newFakeChecker(mediaBase+"/ok.jpg"))
	svc.SetRebuilder(&fakeRebuilder{store: store})

	report, err := svc.Run(context.Background(), models.PolicyFullRebuild, CleanupOptions{})
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if !store.cleared {
		t.Fatal("expected tables to be cleared")
	}
	if store.hasProperty(old) {
		t.Fatal("old property survived the rebuild")
	}
	if report.Rebuild == nil || report.Rebuild.Imported != 2 {
		t.Fatalf("unexpected rebuild stats %+v", report.Rebuild)
	}
	if report.PropertiesDeleted != 1 {
		t.Fatalf("expected the imageless rebuild row to be deleted, got %d", report.PropertiesDeleted)
	}
	if len(store.props) != 1 {
		t.Fatalf("expected 1 property after rebuild, got %d", len(store.props))
	}
}

func TestCleanup_FullRebuildNeedsImporter(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Keep", mediaBase+"/ok.jpg")

	if _, err := newCleanup(store, newFakeChecker()).Run(context.Background(), models.PolicyFullRebuild, CleanupOptions{}); err == nil {
		t.Fatal("expected an error without a rebuilder")
	}
	if !store.hasProperty(pid) {
		t.Fatal("tables were cleared without an importer")
	}
}

func TestCleanup_UnknownPolicy(t *testing.T) {
	if _, err := newCleanup(newMemStore(), newFakeChecker()).Run(context.Background(), "purge", CleanupOptions{}); err == nil {
		t.Fatal("expected an error for an unknown policy")
	}
}
