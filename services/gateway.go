package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"studenthome_ingest/models"
)

// PropertyStore is the slice of the relational store the pipeline writes through
type PropertyStore interface {
	UpsertProperty(ctx context.Context, p *models.Property) error
	ReplaceImages(ctx context.Context, propertyID uuid.UUID, images []models.PropertyImage) error
	ListImages(ctx context.Context, after uuid.UUID, limit int) ([]models.PropertyImage, error)
	UpdateImageURL(ctx context.Context, id uuid.UUID, imageURL string) error
	DeleteImages(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteProperties(ctx context.Context, ids []uuid.UUID) (int64, error)
	DeleteOrphanImages(ctx context.Context) (int64, error)
	PropertiesWithoutImages(ctx context.Context) ([]uuid.UUID, error)
	EnsurePrimaryImages(ctx context.Context) (int64, error)
	ClearAll(ctx context.Context) error
}

const DefaultChunkSize = 50

// Gateway applies batch semantics on top of the store: row-by-row inserts so
// one bad row never sinks a batch, and chunked deletes that keep going when
// a chunk fails.
type Gateway struct {
	store     PropertyStore
	chunkSize int
	now       func() time.Time
}

func NewGateway(store PropertyStore, chunkSize int) *Gateway {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Gateway{
		store:     store,
		chunkSize: chunkSize,
		now:       time.Now,
	}
}

// RowError records why one row of a batch was rejected
type RowError struct {
	Index int
	Title string
	Err   error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %v", e.Index, e.Title, e.Err)
}

type BatchResult struct {
	Inserted []*models.Property
	Errors   []RowError
}

func (r *BatchResult) InsertedCount() int { return len(r.Inserted) }
func (r *BatchResult) FailedCount() int   { return len(r.Errors) }

// UpsertProperties writes each property on its own. IDs and timestamps are
// assigned here; the store may replace the ID with an existing row's.
func (g *Gateway) UpsertProperties(ctx context.Context, batch []*models.Property) *BatchResult {
	result := &BatchResult{}
	for i, p := range batch {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		now := g.now()
		p.CreatedAt, p.UpdatedAt = now, now

		err := p.Validate()
		if err == nil {
			err = g.store.UpsertProperty(ctx, p)
		}
		if err != nil {
			rowErr := RowError{Index: i, Title: p.Title, Err: err}
			log.Printf("Warning: property rejected: %v", rowErr)
			result.Errors = append(result.Errors, rowErr)
			continue
		}
		result.Inserted = append(result.Inserted, p)
	}
	return result
}

// UpsertImages replaces a property's images. Order follows the slice and
// only the first image is primary.
func (g *Gateway) UpsertImages(ctx context.Context, propertyID uuid.UUID, images []models.PropertyImage) ([]models.PropertyImage, error) {
	now := g.now()
	out := make([]models.PropertyImage, len(images))
	for i, img := range images {
		if img.ID == uuid.Nil {
			img.ID = uuid.New()
		}
		img.PropertyID = propertyID
		img.ImageOrder = i
		img.IsPrimary = i == 0
		img.CreatedAt = now
		out[i] = img
	}

	if err := g.store.ReplaceImages(ctx, propertyID, out); err != nil {
		return nil, fmt.Errorf("images for %s: %w", propertyID, err)
	}
	return out, nil
}

type DeleteResult struct {
	Deleted      int64
	FailedChunks int
	FailedIDs    int
}

func (g *Gateway) DeleteBrokenImages(ctx context.Context, ids []uuid.UUID) DeleteResult {
	return g.deleteInChunks(ctx, "images", ids, g.store.DeleteImages)
}

func (g *Gateway) DeleteProperties(ctx context.Context, ids []uuid.UUID) DeleteResult {
	return g.deleteInChunks(ctx, "properties", ids, g.store.DeleteProperties)
}

func (g *Gateway) deleteInChunks(ctx context.Context, label string, ids []uuid.UUID, del func(context.Context, []uuid.UUID) (int64, error)) DeleteResult {
	var result DeleteResult
	ids = uniqueIDs(ids)

	for start := 0; start < len(ids); start += g.chunkSize {
		end := min(start+g.chunkSize, len(ids))
		n, err := del(ctx, ids[start:end])
		if err != nil {
			log.Printf("Warning: deleting %s chunk %d-%d failed: %v", label, start, end, err)
			result.FailedChunks++
			result.FailedIDs += end - start
			continue
		}
		result.Deleted += n
	}
	return result
}

func (g *Gateway) ListPropertiesMissingImages(ctx context.Context) ([]uuid.UUID, error) {
	ids, err := g.store.PropertiesWithoutImages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list properties missing images: %w", err)
	}
	return ids, nil
}

// ForEachImagePage walks every image row in id order, pageSize at a time
func (g *Gateway) ForEachImagePage(ctx context.Context, pageSize int, fn func([]models.PropertyImage) error) error {
	after := uuid.Nil
	for {
		page, err := g.store.ListImages(ctx, after, pageSize)
		if err != nil {
			return fmt.Errorf("list images after %s: %w", after, err)
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (g *Gateway) FixImageURL(ctx context.Context, id uuid.UUID, imageURL string) error {
	return g.store.UpdateImageURL(ctx, id, imageURL)
}

func (g *Gateway) DeleteOrphanImages(ctx context.Context) (int64, error) {
	return g.store.DeleteOrphanImages(ctx)
}

func (g *Gateway) RepairPrimaryImages(ctx context.Context) (int64, error) {
	return g.store.EnsurePrimaryImages(ctx)
}

func (g *Gateway) Clear(ctx context.Context) error {
	return g.store.ClearAll(ctx)
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
