package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"studenthome_ingest/config"
	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/normalize"
	"studenthome_ingest/services"
	"studenthome_ingest/workers"
)

// recordingStore keeps upserted rows in memory; only the import path is exercised
type recordingStore struct {
	mu        sync.Mutex
	props     []models.Property
	images    map[uuid.UUID][]models.PropertyImage
	upsertErr func(p *models.Property) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{images: make(map[uuid.UUID][]models.PropertyImage)}
}

func (s *recordingStore) UpsertProperty(ctx context.Context, p *models.Property) error {
	if s.upsertErr != nil {
		if err := s.upsertErr(p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = append(s.props, *p)
	return nil
}

func (s *recordingStore) ReplaceImages(ctx context.Context, propertyID uuid.UUID, images []models.PropertyImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[propertyID] = images
	return nil
}

func (s *recordingStore) ListImages(ctx context.Context, after uuid.UUID, limit int) ([]models.PropertyImage, error) {
	return nil, nil
}
func (s *recordingStore) UpdateImageURL(ctx context.Context, id uuid.UUID, imageURL string) error {
	return nil
}
func (s *recordingStore) DeleteImages(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return 0, nil
}
func (s *recordingStore) DeleteProperties(ctx context.Context, ids []uuid.UUID) (int64, error) {
	return 0, nil
}
func (s *recordingStore) DeleteOrphanImages(ctx context.Context) (int64, error) { return 0, nil }
func (s *recordingStore) PropertiesWithoutImages(ctx context.Context) ([]uuid.UUID, error) {
	return nil, nil
}
func (s *recordingStore) EnsurePrimaryImages(ctx context.Context) (int64, error) { return 0, nil }
func (s *recordingStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.props = nil
	s.images = make(map[uuid.UUID][]models.PropertyImage)
	return nil
}

type memLedger struct {
	mu   sync.Mutex
	runs []models.Run
	logs []string
}

func (l *memLedger) CreateRun(run *models.Run) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, *run)
	return int64(len(l.runs)), nil
}

func (l *memLedger) UpdateRun(run *models.Run) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs[run.ID-1] = *run
	return nil
}

func (l *memLedger) Log(runID *int64, level models.LogLevel, message, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, message)
	return nil
}

type harness struct {
	orch   *Orchestrator
	store  *recordingStore
	ledger *memLedger
	pages  *mapFetcher
	media  *httptest.Server
}

// newHarness wires a real listing pipeline to an image host that only serves /img/1.jpg
func newHarness(t *testing.T, startURLs ...string) *harness {
	t.Helper()
	mediaSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/img/1.jpg" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(mediaSrv.Close)

	provider := testProvider()
	provider.MediaTemplates = []string{mediaSrv.URL}
	provider.StartURLs = startURLs
	cfg := &config.Config{
		Import:    config.ImportConfig{BatchSize: 4, DeleteChunkSize: 50},
		Providers: map[string]*config.ProviderConfig{provider.ID: provider},
	}

	checker := workers.NewLivenessChecker(mediaSrv.Client(), config.LivenessConfig{
		Timeout:     2 * time.Second,
		BatchSize:   10,
		Concurrency: 2,
	}, "")
	resolver := media.NewResolver(checker)
	store := newRecordingStore()
	gateway := services.NewGateway(store, cfg.Import.DeleteChunkSize)
	listings := services.NewListingService(gateway, normalize.New(""), resolver, 3)
	cleanup := services.NewCleanupService(gateway, checker, resolver)
	ledger := &memLedger{}

	orch := NewOrchestrator(cfg, ledger, listings, cleanup, resolver, mediaSrv.Client())
	pages := &mapFetcher{pages: map[string]string{}}
	orch.SetFetcher(provider.ID, pages)
	orch.SetDiscoveryFetcher(&mapFetcher{pages: map[string]string{}})

	return &harness{orch: orch, store: store, ledger: ledger, pages: pages, media: mediaSrv}
}

func TestRunProvider_EndToEnd(t *testing.T) {
	h := newHarness(t, leedsSearch)
	h.pages.pages[leedsSearch] = string(loadFixture(t, "embedded_studio.html"))

	stats, err := h.orch.RunProvider(context.Background(), "example")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.Imported != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(h.store.props) != 1 {
		t.Fatalf("expected 1 property, got %d", len(h.store.props))
	}

	p := h.store.props[0]
	if p.Price != 200 || p.PriceType != models.PriceWeekly {
		t.Fatalf("expected 200 weekly, got %.2f %s", p.Price, p.PriceType)
	}
	if p.Location != "Leeds" || p.Postcode != "LS1 1AA" || p.Bedrooms != 1 {
		t.Fatalf("unexpected location %q postcode %q bedrooms %d", p.Location, p.Postcode, p.Bedrooms)
	}
	if p.Source != "example" {
		t.Fatalf("unexpected source %q", p.Source)
	}

	images := h.store.images[p.ID]
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}
	if images[0].ImageURL != h.media.URL+"/img/1.jpg" {
		t.Fatalf("expected %s/img/1.jpg, got %s", h.media.URL, images[0].ImageURL)
	}

	if len(h.ledger.runs) != 1 || h.ledger.runs[0].Status != models.RunStatusCompleted {
		t.Fatalf("expected one completed run, got %+v", h.ledger.runs)
	}
	if h.ledger.runs[0].Imported != 1 {
		t.Fatalf("run ledger has imported=%d", h.ledger.runs[0].Imported)
	}
}

func TestRunAll_ReturnsTotals(t *testing.T) {
	h := newHarness(t, leedsSearch)
	h.pages.pages[leedsSearch] = string(loadFixture(t, "embedded_studio.html"))

	stats, err := h.orch.RunAll(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats == nil {
		t.Fatal("expected aggregated stats")
	}
	if stats.URLsProcessed != 1 || stats.Imported != 1 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected totals %+v", stats)
	}
	if stats.ImagesSaved != 1 {
		t.Fatalf("images saved = %d", stats.ImagesSaved)
	}
}

func TestRunProvider_FetchFailureContinues(t *testing.T) {
	broken := "https://www.example.co.uk/student-accommodation/Nowhere.html"
	h := newHarness(t, broken, leedsSearch)
	h.pages.pages[leedsSearch] = string(loadFixture(t, "embedded_studio.html"))

	stats, err := h.orch.RunProvider(context.Background(), "example")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stats.URLsProcessed != 2 || stats.URLsFailed != 1 {
		t.Fatalf("expected 2 processed and 1 failed URL, got %+v", stats)
	}
	if stats.Imported != 1 {
		t.Fatalf("expected the reachable page to import, got %+v", stats)
	}
}

func TestRunProvider_Unknown(t *testing.T) {
	h := newHarness(t)
	if _, err := h.orch.RunProvider(context.Background(), "nope"); err == nil {
		t.Fatal("expected an error for an unknown provider")
	}
}

func TestImportDataset_BadRowIsolated(t *testing.T) {
	h := newHarness(t)
	h.store.upsertErr = func(p *models.Property) error {
		if p.Title == "Flat 5" {
			return errors.New("new row violates check constraint")
		}
		return nil
	}

	stats, err := h.orch.ImportDataset(context.Background(), filepath.Join("testdata", "dataset.json"), "example")
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if stats.Imported != 9 || stats.Failed != 1 {
		t.Fatalf("expected imported=9 failed=1, got %+v", stats)
	}
	if stats.ListingsFound != 10 || stats.Processed != 10 {
		t.Fatalf("unexpected counters %+v", stats)
	}
}

func TestRunCleanup_FullRebuildReimportsDataset(t *testing.T) {
	h := newHarness(t)
	h.orch.SetRebuildSource(filepath.Join("testdata", "dataset.json"))

	report, err := h.orch.RunCleanup(context.Background(), models.PolicyFullRebuild, services.CleanupOptions{})
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if report.Rebuild == nil || report.Rebuild.Imported != 10 {
		t.Fatalf("unexpected rebuild stats %+v", report.Rebuild)
	}
	if len(h.store.props) != 10 {
		t.Fatalf("expected 10 properties after rebuild, got %d", len(h.store.props))
	}
	// cleanup run plus the nested import run
	if len(h.ledger.runs) != 2 || h.ledger.runs[0].Kind != models.RunKindCleanup {
		t.Fatalf("unexpected ledger %+v", h.ledger.runs)
	}
}

func TestHandleCommand_PauseResume(t *testing.T) {
	h := newHarness(t, leedsSearch)
	h.pages.pages[leedsSearch] = string(loadFixture(t, "embedded_studio.html"))
	ctx := context.Background()

	if err := h.orch.HandleCommand(ctx, &models.Command{Command: models.CmdPause}); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !h.orch.IsPaused() {
		t.Fatal("expected importer to be paused")
	}
	if stats, err := h.orch.RunAll(ctx); err != nil || stats != nil {
		t.Fatalf("paused RunAll = %+v, %v", stats, err)
	}
	if err := h.orch.HandleCommand(ctx, &models.Command{Command: models.CmdImportNow}); err != nil {
		t.Fatalf("import_now: %v", err)
	}
	if len(h.store.props) != 0 {
		t.Fatal("paused importer should not import")
	}

	if err := h.orch.HandleCommand(ctx, &models.Command{Command: models.CmdResume}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	params := []byte(`{"provider":"example"}`)
	if err := h.orch.HandleCommand(ctx, &models.Command{Command: models.CmdImportProvider, Params: params}); err != nil {
		t.Fatalf("import_provider: %v", err)
	}
	if len(h.store.props) != 1 {
		t.Fatalf("expected 1 property after resume, got %d", len(h.store.props))
	}

	bad := &models.Command{Command: models.CmdCleanup, Params: []byte(`{"policy":"purge"}`)}
	if err := h.orch.HandleCommand(ctx, bad); err == nil {
		t.Fatal("expected an error for an unknown cleanup policy")
	}
}

func TestWriteDump(t *testing.T) {
	h := newHarness(t, leedsSearch)
	h.pages.pages[leedsSearch] = string(loadFixture(t, "embedded_studio.html"))
	path := filepath.Join(t.TempDir(), "dump.json")
	h.orch.SetDump(path)

	if _, err := h.orch.RunProvider(context.Background(), "example"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if err := h.orch.WriteDump(); err != nil {
		t.Fatalf("dump failed: %v", err)
	}
	dumped, err := LoadDataset(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("reload dump: %v", err)
	}
	if len(dumped) != 1 || dumped[0].Title != "Studio Flat" {
		t.Fatalf("unexpected dump %+v", dumped)
	}
}
