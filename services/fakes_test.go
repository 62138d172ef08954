package services

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"studenthome_ingest/models"
)

// memStore is an in-memory PropertyStore with hooks for injecting failures
type memStore struct {
	mu         sync.Mutex
	props      map[uuid.UUID]models.Property
	bySource   map[string]uuid.UUID
	images     map[uuid.UUID]models.PropertyImage
	upsertErr  func(p *models.Property) error
	deleteErr  func(ids []uuid.UUID) error
	cleared    bool
	listCalls  int
	deleteSize []int
}

func newMemStore() *memStore {
	return &memStore{
		props:    make(map[uuid.UUID]models.Property),
		bySource: make(map[string]uuid.UUID),
		images:   make(map[uuid.UUID]models.PropertyImage),
	}
}

func (m *memStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	if m.upsertErr != nil {
		if err := m.upsertErr(p); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.SourceURL != "" {
		if id, ok := m.bySource[p.SourceURL]; ok {
			p.ID = id
		}
		m.bySource[p.SourceURL] = p.ID
	}
	m.props[p.ID] = *p
	return nil
}

func (m *memStore) ReplaceImages(ctx context.Context, propertyID uuid.UUID, images []models.PropertyImage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, img := range m.images {
		if img.PropertyID == propertyID {
			delete(m.images, id)
		}
	}
	for _, img := range images {
		m.images[img.ID] = img
	}
	return nil
}

func (m *memStore) ListImages(ctx context.Context, after uuid.UUID, limit int) ([]models.PropertyImage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []models.PropertyImage
	for _, img := range m.images {
		if bytes.Compare(img.ID[:], after[:]) > 0 {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateImageURL(ctx context.Context, id uuid.UUID, imageURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img := m.images[id]
	img.ImageURL = imageURL
	m.images[id] = img
	return nil
}

func (m *memStore) DeleteImages(ctx context.Context, ids []uuid.UUID) (int64, error) {
	m.deleteSize = append(m.deleteSize, len(ids))
	if m.deleteErr != nil {
		if err := m.deleteErr(ids); err != nil {
			return 0, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		if _, ok := m.images[id]; ok {
			delete(m.images, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) DeleteProperties(ctx context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, id := range ids {
		p, ok := m.props[id]
		if !ok {
			continue
		}
		delete(m.props, id)
		delete(m.bySource, p.SourceURL)
		for imgID, img := range m.images {
			if img.PropertyID == id {
				delete(m.images, imgID)
			}
		}
		n++
	}
	return n, nil
}

func (m *memStore) DeleteOrphanImages(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, img := range m.images {
		if _, ok := m.props[img.PropertyID]; !ok {
			delete(m.images, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) PropertiesWithoutImages(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	has := make(map[uuid.UUID]bool)
	for _, img := range m.images {
		has[img.PropertyID] = true
	}
	var ids []uuid.UUID
	for id := range m.props {
		if !has[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) EnsurePrimaryImages(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := make(map[uuid.UUID]models.PropertyImage)
	hasPrimary := make(map[uuid.UUID]bool)
	for _, img := range m.images {
		if img.IsPrimary {
			hasPrimary[img.PropertyID] = true
		}
		if cur, ok := first[img.PropertyID]; !ok || img.ImageOrder < cur.ImageOrder {
			first[img.PropertyID] = img
		}
	}
	var n int64
	for pid, img := range first {
		if hasPrimary[pid] {
			continue
		}
		img.IsPrimary = true
		m.images[img.ID] = img
		n++
	}
	return n, nil
}

func (m *memStore) ClearAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props = make(map[uuid.UUID]models.Property)
	m.bySource = make(map[string]uuid.UUID)
	m.images = make(map[uuid.UUID]models.PropertyImage)
	m.cleared = true
	return nil
}

func (m *memStore) imagesOf(propertyID uuid.UUID) []models.PropertyImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PropertyImage
	for _, img := range m.images {
		if img.PropertyID == propertyID {
			out = append(out, img)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ImageOrder < out[j].ImageOrder })
	return out
}

func (m *memStore) hasProperty(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.props[id]
	return ok
}

// seed stores a property with one image row per URL
func (m *memStore) seed(title string, urls ...string) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.props[id] = models.Property{ID: id, Title: title, Source: "test", SourceURL: "https://example.co.uk/" + id.String()}
	for i, u := range urls {
		img := models.PropertyImage{ID: uuid.New(), PropertyID: id, ImageURL: u, ImageOrder: i, IsPrimary: i == 0}
		m.images[img.ID] = img
	}
	return id
}

// fakeChecker treats URLs in alive as reachable and everything else as broken
type fakeChecker struct {
	mu    sync.Mutex
	alive map[string]bool
	calls []string
}

func newFakeChecker(alive ...string) *fakeChecker {
	c := &fakeChecker{alive: make(map[string]bool)}
	for _, u := range alive {
		c.alive[u] = true
	}
	return c
}

func (c *fakeChecker) Check(ctx context.Context, url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, url)
	return c.alive[url]
}

func (c *fakeChecker) CheckAll(ctx context.Context, urls []string) map[string]bool {
	out := make(map[string]bool, len(urls))
	for _, u := range urls {
		out[u] = c.Check(ctx, u)
	}
	return out
}
