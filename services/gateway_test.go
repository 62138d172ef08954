package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"studenthome_ingest/models"
)

func validProperty(i int) *models.Property {
	return &models.Property{
		Title:     fmt.Sprintf("Flat %d", i),
		Price:     150,
		PriceType: models.PriceWeekly,
		Location:  "Leeds",
		Bedrooms:  1,
		Bathrooms: 1,
		Source:    "test",
		SourceURL: fmt.Sprintf("https://example.co.uk/flat/%d", i),
	}
}

func TestUpsertProperties_IsolatesBadRow(t *testing.T) {
	store := newMemStore()
	store.upsertErr = func(p *models.Property) error {
		if p.Title == "Flat 5" {
			return errors.New("violates check constraint")
		}
		return nil
	}
	gw := NewGateway(store, 50)

	batch := make([]*models.Property, 10)
	for i := range batch {
		batch[i] = validProperty(i + 1)
	}

	result := gw.UpsertProperties(context.Background(), batch)
	if result.InsertedCount() != 9 {
		t.Fatalf("expected 9 inserted, got %d", result.InsertedCount())
	}
	if result.FailedCount() != 1 {
		t.Fatalf("expected 1 failed, got %d", result.FailedCount())
	}
	if result.Errors[0].Index != 4 || result.Errors[0].Title != "Flat 5" {
		t.Fatalf("unexpected row error %+v", result.Errors[0])
	}
	if len(store.props) != 9 {
		t.Fatalf("expected 9 stored rows, got %d", len(store.props))
	}
}

func TestUpsertProperties_RejectsInvalidBeforeStore(t *testing.T) {
	store := newMemStore()
	gw := NewGateway(store, 50)

	bad := validProperty(1)
	bad.Bedrooms = 0
	result := gw.UpsertProperties(context.Background(), []*models.Property{bad, validProperty(2)})

	if result.InsertedCount() != 1 || result.FailedCount() != 1 {
		t.Fatalf("expected 1 inserted and 1 failed, got %d and %d", result.InsertedCount(), result.FailedCount())
	}
	if store.hasProperty(bad.ID) {
		t.Fatal("invalid property should not reach the store")
	}
}

func TestUpsertProperties_AssignsIDs(t *testing.T) {
	gw := NewGateway(newMemStore(), 50)
	p := validProperty(1)

	gw.UpsertProperties(context.Background(), []*models.Property{p})
	if p.ID == uuid.Nil {
		t.Fatal("expected an ID to be assigned")
	}
	if p.CreatedAt.IsZero() || p.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be set")
	}
}

func TestUpsertImages_FirstIsPrimary(t *testing.T) {
	store := newMemStore()
	gw := NewGateway(store, 50)
	pid := uuid.New()

	images := []models.PropertyImage{
		{ImageURL: "https://media.example.co.uk/a.jpg"},
		{ImageURL: "https://media.example.co.uk/b.jpg"},
		{ImageURL: "https://media.example.co.uk/c.jpg"},
	}
	saved, err := gw.UpsertImages(context.Background(), pid, images)
	if err != nil {
		t.Fatalf("upsert images: %v", err)
	}
	if len(saved) != 3 {
		t.Fatalf("expected 3 images, got %d", len(saved))
	}
	for i, img := range saved {
		if img.PropertyID != pid {
			t.Fatalf("image %d has property %s", i, img.PropertyID)
		}
		if img.ImageOrder != i {
			t.Fatalf("image %d has order %d", i, img.ImageOrder)
		}
		if img.IsPrimary != (i == 0) {
			t.Fatalf("image %d primary=%v", i, img.IsPrimary)
		}
	}
	if got := len(store.imagesOf(pid)); got != 3 {
		t.Fatalf("expected 3 stored images, got %d", got)
	}
}

func TestDeleteBrokenImages_ChunksAndContinues(t *testing.T) {
	store := newMemStore()
	pid := store.seed("Flat", "a", "b", "c", "d", "e")
	var ids []uuid.UUID
	for _, img := range store.imagesOf(pid) {
		ids = append(ids, img.ID)
	}
	poisoned := ids[2]
	store.deleteErr = func(chunk []uuid.UUID) error {
		for _, id := range chunk {
			if id == poisoned {
				return errors.New("statement timeout")
			}
		}
		return nil
	}
	gw := NewGateway(store, 2)

	res := gw.DeleteBrokenImages(context.Background(), append(ids, ids[0]))
	if res.FailedChunks != 1 {
		t.Fatalf("expected 1 failed chunk, got %d", res.FailedChunks)
	}
	if res.Deleted != 3 {
		t.Fatalf("expected 3 deleted, got %d", res.Deleted)
	}
	if len(store.deleteSize) != 3 {
		t.Fatalf("expected 3 chunks, got %v", store.deleteSize)
	}
	for _, n := range store.deleteSize {
		if n > 2 {
			t.Fatalf("chunk of %d exceeds chunk size", n)
		}
	}
	if got := len(store.imagesOf(pid)); got != 2 {
		t.Fatalf("expected 2 images left from the failed chunk, got %d", got)
	}
}
