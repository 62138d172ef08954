package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
	"studenthome_ingest/config"
	"studenthome_ingest/identity"
	"studenthome_ingest/logging"
	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/services"
	"studenthome_ingest/storage"
)

// RunLedger records runs and their logs. SQLiteStore implements it.
type RunLedger interface {
	CreateRun(run *models.Run) (int64, error)
	UpdateRun(run *models.Run) error
	Log(runID *int64, level models.LogLevel, message, provider string) error
}

type Orchestrator struct {
	cfg      *config.Config
	ledger   RunLedger
	listings *services.ListingService
	cleanup  *services.CleanupService
	resolver *media.Resolver

	fetchers         map[string]Fetcher
	discoveryFetcher Fetcher
	datasets         DatasetOpener
	rebuildSource    string

	limMu    sync.Mutex
	limiters map[string]*rate.Limiter

	dumpMu   sync.Mutex
	dumpPath string
	dumped   []models.RawListing

	runMu  sync.Mutex
	paused atomic.Bool
}

func NewOrchestrator(cfg *config.Config, ledger RunLedger, listings *services.ListingService, cleanup *services.CleanupService, resolver *media.Resolver, client *http.Client) *Orchestrator {
	o := &Orchestrator{
		cfg:              cfg,
		ledger:           ledger,
		listings:         listings,
		cleanup:          cleanup,
		resolver:         resolver,
		fetchers:         make(map[string]Fetcher),
		discoveryFetcher: NewHTTPFetcher(client, cfg.Scraper.UserAgent),
		limiters:         make(map[string]*rate.Limiter),
	}
	for id, p := range cfg.Providers {
		o.fetchers[id] = NewFetcher(p, cfg.Scraper, cfg.Proxy, client)
		resolver.Register(id, p.MediaTemplates)
	}
	if cleanup != nil {
		cleanup.SetRebuilder(o)
	}
	return o
}

// SetFetcher replaces the page fetcher of one provider
func (o *Orchestrator) SetFetcher(providerID string, f Fetcher) {
	o.fetchers[providerID] = f
}

func (o *Orchestrator) SetDiscoveryFetcher(f Fetcher) {
	o.discoveryFetcher = f
}

func (o *Orchestrator) SetDatasetOpener(d DatasetOpener) {
	o.datasets = d
}

// SetRebuildSource makes full rebuilds import from a dataset instead of crawling
func (o *Orchestrator) SetRebuildSource(src string) {
	o.rebuildSource = src
}

// SetDump keeps every extracted listing so WriteDump can save them
func (o *Orchestrator) SetDump(path string) {
	o.dumpPath = path
}

func (o *Orchestrator) Close() {
	for id, f := range o.fetchers {
		if err := f.Close(); err != nil {
			log.Printf("Warning: closing %s fetcher: %v", id, err)
		}
	}
}

// =============================================================================
// Import
// =============================================================================

// RunAll imports every provider and returns the summed counters. A paused
// importer returns nil stats without running.
func (o *Orchestrator) RunAll(ctx context.Context) (*models.RunStats, error) {
	if o.paused.Load() {
		log.Println("Importer is paused, skipping run")
		return nil, nil
	}
	o.runMu.Lock()
	defer o.runMu.Unlock()

	return o.runAll(ctx)
}

func (o *Orchestrator) runAll(ctx context.Context) (*models.RunStats, error) {
	total := &models.RunStats{}
	for _, id := range o.ProviderIDs() {
		stats, err := o.runProvider(ctx, id)
		if stats != nil {
			total.Add(*stats)
		}
		if tmpl, ok := o.resolver.Chosen(id); ok {
			logging.Debugf("Media template for %s: %s", id, tmpl)
		}
		if err != nil {
			log.Printf("Error running provider %s: %v", id, err)
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
		}
	}
	return total, nil
}

func (o *Orchestrator) RunProvider(ctx context.Context, providerID string) (*models.RunStats, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.runProvider(ctx, providerID)
}

// runProvider crawls one provider: discover, fetch, extract, then hand
// listings to the listing service in batches
func (o *Orchestrator) runProvider(ctx context.Context, providerID string) (*models.RunStats, error) {
	provider, ok := o.cfg.Providers[providerID]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", providerID)
	}
	fetcher, ok := o.fetchers[providerID]
	if !ok {
		return nil, fmt.Errorf("no fetcher for provider: %s", providerID)
	}

	run, runID := o.startRun(models.RunKindImport, providerID)
	stats := &models.RunStats{}
	defer o.finishRun(run, stats)

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Starting import for %s", provider.Name), providerID)

	pace := o.paceFor(provider)
	discovered := NewDiscoverer(o.discoveryFetcher, pace).Discover(ctx, provider)
	worklist := identity.DedupeURLs(provider.StartURLs, discovered)
	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Worklist: %d URLs", len(worklist)), providerID)

	var pending []models.RawListing
	for _, u := range worklist {
		if err := ctx.Err(); err != nil {
			run.Status = models.RunStatusFailed
			return stats, err
		}
		if err := pace(ctx, u); err != nil {
			run.Status = models.RunStatusFailed
			return stats, err
		}

		stats.URLsProcessed++
		page, err := fetcher.Fetch(ctx, u)
		if err != nil {
			stats.URLsFailed++
			o.log(runID, models.LogLevelWarn, fmt.Sprintf("Fetch failed: %v", err), providerID)
			continue
		}

		found := Extract(page.HTML, page.URL, provider)
		if len(found) == 0 {
			o.log(runID, models.LogLevelInfo, fmt.Sprintf("No listings on %s", page.URL), providerID)
			continue
		}
		stats.ListingsFound += len(found)
		pending = append(pending, found...)

		if len(pending) >= o.batchSize() {
			o.flush(ctx, runID, providerID, pending, stats)
			pending = nil
		}
	}
	o.flush(ctx, runID, providerID, pending, stats)

	run.Status = models.RunStatusCompleted
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d URLs (%d failed), %d listings, %d imported, %d skipped, %d failed",
			stats.URLsProcessed, stats.URLsFailed, stats.ListingsFound, stats.Imported, stats.Skipped, stats.Failed), providerID)
	return stats, nil
}

func (o *Orchestrator) flush(ctx context.Context, runID int64, providerID string, batch []models.RawListing, stats *models.RunStats) {
	if len(batch) == 0 {
		return
	}
	o.keepForDump(batch)

	result := o.listings.ProcessBatch(ctx, providerID, batch)
	stats.Add(result)
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Progress: processed=%d imported=%d skipped=%d failed=%d",
			stats.Processed, stats.Imported, stats.Skipped, stats.Failed), providerID)
}

// ImportDataset imports previously extracted listings. Records without a
// provider are attributed to providerID.
func (o *Orchestrator) ImportDataset(ctx context.Context, src, providerID string) (*models.RunStats, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()
	return o.importDataset(ctx, src, providerID)
}

func (o *Orchestrator) importDataset(ctx context.Context, src, providerID string) (*models.RunStats, error) {
	label := providerID
	if label == "" {
		label = "dataset"
	}
	run, runID := o.startRun(models.RunKindImport, label)
	stats := &models.RunStats{}
	defer o.finishRun(run, stats)

	listings, err := LoadDataset(ctx, src, o.datasets)
	if err != nil {
		run.Status = models.RunStatusFailed
		o.log(runID, models.LogLevelError, err.Error(), label)
		return stats, err
	}
	stats.ListingsFound = len(listings)
	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Importing %d listings from %s", len(listings), src), label)

	groups := make(map[string][]models.RawListing)
	var order []string
	for _, l := range listings {
		p := l.Provider
		if p == "" {
			p = providerID
		}
		if _, seen := groups[p]; !seen {
			order = append(order, p)
		}
		groups[p] = append(groups[p], l)
	}

	size := o.batchSize()
	for _, p := range order {
		group := groups[p]
		for start := 0; start < len(group); start += size {
			if err := ctx.Err(); err != nil {
				run.Status = models.RunStatusFailed
				return stats, err
			}
			end := min(start+size, len(group))
			o.flush(ctx, runID, p, group[start:end], stats)
		}
	}

	run.Status = models.RunStatusCompleted
	o.log(runID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d listings, %d imported, %d skipped, %d failed",
			stats.ListingsFound, stats.Imported, stats.Skipped, stats.Failed), label)
	return stats, nil
}

// Rebuild re-imports everything after a full-rebuild cleanup cleared the tables
func (o *Orchestrator) Rebuild(ctx context.Context) (*models.RunStats, error) {
	o.resolver.Reset()
	if o.rebuildSource != "" {
		return o.importDataset(ctx, o.rebuildSource, "")
	}
	return o.runAll(ctx)
}

// =============================================================================
// Cleanup
// =============================================================================

func (o *Orchestrator) RunCleanup(ctx context.Context, policy models.CleanupPolicy, opts services.CleanupOptions) (*models.CleanupReport, error) {
	if o.cleanup == nil {
		return nil, fmt.Errorf("cleanup service not initialized")
	}
	o.runMu.Lock()
	defer o.runMu.Unlock()

	run, runID := o.startRun(models.RunKindCleanup, string(policy))
	stats := &models.RunStats{}
	defer o.finishRun(run, stats)

	o.log(runID, models.LogLevelInfo, fmt.Sprintf("Starting cleanup (policy=%s)", policy), "cleanup")
	report, err := o.cleanup.Run(ctx, policy, opts)
	if report != nil {
		stats.Processed = report.ImagesChecked
		stats.Failed = report.FailedChunks
		if data, jerr := json.Marshal(report); jerr == nil {
			run.Metadata = data
		}
	}
	if err != nil {
		run.Status = models.RunStatusFailed
		o.log(runID, models.LogLevelError, fmt.Sprintf("Cleanup failed: %v", err), "cleanup")
		return report, err
	}

	run.Status = models.RunStatusCompleted
	return report, nil
}

// =============================================================================
// Commands
// =============================================================================

func (o *Orchestrator) HandleCommand(ctx context.Context, cmd *models.Command) error {
	params, err := storage.ParseCommandParams(cmd)
	if err != nil {
		return err
	}

	switch cmd.Command {
	case models.CmdImportNow:
		_, err := o.RunAll(ctx)
		return err
	case models.CmdImportProvider:
		if params.Provider != "" {
			_, err := o.RunProvider(ctx, params.Provider)
			return err
		}
		_, err := o.RunAll(ctx)
		return err
	case models.CmdCleanup:
		policy, err := models.ParseCleanupPolicy(params.Policy)
		if err != nil {
			return err
		}
		_, err = o.RunCleanup(ctx, policy, services.CleanupOptions{DeleteOrphans: true})
		return err
	case models.CmdPause:
		o.paused.Store(true)
		log.Println("Importer paused")
	case models.CmdResume:
		o.paused.Store(false)
		log.Println("Importer resumed")
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}

	return nil
}

func (o *Orchestrator) IsPaused() bool {
	return o.paused.Load()
}

func (o *Orchestrator) ProviderIDs() []string {
	ids := make([]string, 0, len(o.cfg.Providers))
	for id := range o.cfg.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// =============================================================================
// Helpers
// =============================================================================

// paceFor returns a limiter-backed wait keyed by host, so every request to
// one host is spaced by the provider's delay
func (o *Orchestrator) paceFor(provider *config.ProviderConfig) PaceFunc {
	delay := o.cfg.Scraper.FetchDelay
	if provider.RateLimitMS > 0 {
		delay = time.Duration(provider.RateLimitMS) * time.Millisecond
	}
	return func(ctx context.Context, rawURL string) error {
		if delay <= 0 {
			return nil
		}
		return o.limiterFor(hostOf(rawURL), delay).Wait(ctx)
	}
}

func (o *Orchestrator) limiterFor(host string, delay time.Duration) *rate.Limiter {
	o.limMu.Lock()
	defer o.limMu.Unlock()
	lim, ok := o.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(delay), 1)
		o.limiters[host] = lim
	}
	return lim
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

func (o *Orchestrator) batchSize() int {
	if o.cfg.Import.BatchSize > 0 {
		return o.cfg.Import.BatchSize
	}
	return 50
}

func (o *Orchestrator) startRun(kind models.RunKind, provider string) (*models.Run, int64) {
	run := &models.Run{
		Kind:      kind,
		Provider:  provider,
		StartedAt: time.Now(),
		Status:    models.RunStatusRunning,
	}
	id, err := o.ledger.CreateRun(run)
	if err != nil {
		log.Printf("Warning: failed to record run: %v", err)
	}
	run.ID = id
	return run, id
}

func (o *Orchestrator) finishRun(run *models.Run, stats *models.RunStats) {
	now := time.Now()
	run.FinishedAt = &now
	if run.Status == models.RunStatusRunning {
		run.Status = models.RunStatusFailed
	}
	run.Processed = stats.Processed
	run.Imported = stats.Imported
	run.Skipped = stats.Skipped
	run.Failed = stats.Failed
	if run.Metadata == nil {
		run.Metadata = stats.ToJSON()
	}
	if run.ID == 0 {
		return
	}
	if err := o.ledger.UpdateRun(run); err != nil {
		log.Printf("Warning: failed to update run %d: %v", run.ID, err)
	}
}

func (o *Orchestrator) log(runID int64, level models.LogLevel, message, provider string) {
	log.Printf("[%s] %s: %s", level, provider, message)
	if runID == 0 {
		return
	}
	o.ledger.Log(&runID, level, message, provider)
}

func (o *Orchestrator) keepForDump(batch []models.RawListing) {
	if o.dumpPath == "" {
		return
	}
	o.dumpMu.Lock()
	o.dumped = append(o.dumped, batch...)
	o.dumpMu.Unlock()
}

// WriteDump saves the listings seen so far to the -dump path
func (o *Orchestrator) WriteDump() error {
	if o.dumpPath == "" {
		return nil
	}
	o.dumpMu.Lock()
	defer o.dumpMu.Unlock()
	if err := WriteDataset(o.dumpPath, o.dumped); err != nil {
		return err
	}
	log.Printf("Wrote %d listings to %s", len(o.dumped), o.dumpPath)
	return nil
}
