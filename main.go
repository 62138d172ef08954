package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"studenthome_ingest/config"
	"studenthome_ingest/httputil"
	"studenthome_ingest/logging"
	"studenthome_ingest/media"
	"studenthome_ingest/models"
	"studenthome_ingest/normalize"
	"studenthome_ingest/scheduler"
	"studenthome_ingest/scraper"
	"studenthome_ingest/services"
	"studenthome_ingest/storage"
	"studenthome_ingest/workers"
)

var (
	importNow  = flag.Bool("import", false, "Run an import once and exit")
	providerID = flag.String("provider", "", "Limit the import to one provider, or attribute dataset records to it")
	dataset    = flag.String("dataset", "", "Import listings from a JSON dataset (path or s3://bucket/key)")
	dumpPath   = flag.String("dump", "", "Write every extracted listing to this JSON file")
	cleanup    = flag.Bool("cleanup", false, "Run an image cleanup once and exit")
	policyFlag = flag.String("policy", "", "Cleanup policy: fix-urls, delete-images, delete-imageless, full-rebuild")
	orphans    = flag.Bool("orphans", false, "Also delete image rows whose property no longer exists")
	diagnose   = flag.Bool("diagnose", false, "Print table counts and image coverage, then exit")
	sampleSize = flag.Int("sample", 50, "Number of image URLs to probe during diagnostics")
	reportKey  = flag.String("report-key", "", "Upload the diagnostic report to S3 under this key")
	migrate    = flag.Bool("migrate", false, "Create the Postgres schema and exit")
	sendCmd    = flag.String("send", "", "Queue a command for the running daemon: import_now, import_provider, cleanup, pause, resume")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogLevel)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting studenthome_ingest...")
	log.Printf("Loaded %d provider configs", len(cfg.Providers))
	for id, p := range cfg.Providers {
		log.Printf("  - %s (%s, %s fetcher)", p.Name, id, p.Fetcher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients := httputil.NewClients(cfg)
	if cfg.Proxy.URL != "" {
		log.Printf("Proxy: %s", maskConnectionString(cfg.Proxy.URL))
	}

	if *diagnose {
		runDiagnostics(ctx, cfg, clients)
		return
	}

	if *sendCmd != "" {
		if err := queueCommand(cfg.DBPath, models.CommandType(*sendCmd)); err != nil {
			log.Fatalf("Failed to queue command: %v", err)
		}
		return
	}

	if err := cfg.RequireAdmin(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	pgStore, err := storage.NewPostgresStore(ctx, cfg.Supabase.DBURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer pgStore.Close()
	log.Printf("Connected to Postgres: %s", maskConnectionString(cfg.Supabase.DBURL))

	if *migrate {
		if err := pgStore.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Schema is up to date")
		return
	}

	sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open SQLite: %v", err)
	}
	defer sqliteStore.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	runLog := func(level models.LogLevel, source, message string) {
		sqliteStore.Log(nil, level, message, source)
	}

	checker := workers.NewLivenessChecker(clients.Probe, cfg.Liveness, cfg.Scraper.UserAgent)
	checker.SetLogger(runLog)
	resolver := media.NewResolver(checker)

	gateway := services.NewGateway(pgStore, cfg.Import.DeleteChunkSize)
	listingService := services.NewListingService(gateway, normalize.New(normalize.DefaultSource), resolver, cfg.Liveness.ImagesToProbe)
	listingService.SetLogger(runLog)
	cleanupService := services.NewCleanupService(gateway, checker, resolver)
	cleanupService.SetLogger(runLog)

	log.Println("Services initialized")

	orchestrator := scraper.NewOrchestrator(cfg, sqliteStore, listingService, cleanupService, resolver, clients.Scraping)
	defer orchestrator.Close()

	if cfg.S3.Enabled() {
		s3Store, err := storage.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Printf("Warning: S3 unavailable: %v", err)
		} else {
			orchestrator.SetDatasetOpener(s3Store)
		}
	}
	if *dumpPath != "" {
		orchestrator.SetDump(*dumpPath)
	}

	switch {
	case *importNow || *dataset != "":
		runImport(ctx, orchestrator)
		return
	case *cleanup:
		runCleanup(ctx, orchestrator)
		return
	}

	// Daemon mode
	if cfg.Scheduler.RebuildDataset != "" {
		orchestrator.SetRebuildSource(cfg.Scheduler.RebuildDataset)
	}
	sched := scheduler.New(cfg, orchestrator, sqliteStore)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	log.Println("Goodbye!")
}

func runImport(ctx context.Context, orchestrator *scraper.Orchestrator) {
	start := time.Now()
	var stats *models.RunStats
	var err error

	switch {
	case *dataset != "":
		log.Printf("Importing dataset %s...", *dataset)
		stats, err = orchestrator.ImportDataset(ctx, *dataset, *providerID)
	case *providerID != "":
		log.Printf("Importing %s...", *providerID)
		stats, err = orchestrator.RunProvider(ctx, *providerID)
	default:
		log.Println("Importing all providers...")
		stats, err = orchestrator.RunAll(ctx)
	}

	if dumpErr := orchestrator.WriteDump(); dumpErr != nil {
		log.Printf("Warning: could not write dump: %v", dumpErr)
	}
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}
	if stats == nil {
		log.Println("Importer is paused, nothing imported")
		return
	}
	log.Printf("Import complete in %s: urls=%d (failed %d) processed=%d imported=%d skipped=%d failed=%d images=%d",
		time.Since(start).Round(time.Second), stats.URLsProcessed, stats.URLsFailed,
		stats.Processed, stats.Imported, stats.Skipped, stats.Failed, stats.ImagesSaved)
}

func runCleanup(ctx context.Context, orchestrator *scraper.Orchestrator) {
	policy, err := models.ParseCleanupPolicy(*policyFlag)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	if policy == models.PolicyFullRebuild && *dataset != "" {
		orchestrator.SetRebuildSource(*dataset)
	}

	report, err := orchestrator.RunCleanup(ctx, policy, services.CleanupOptions{DeleteOrphans: *orphans})
	if report != nil {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	}
	if err != nil {
		log.Fatalf("Cleanup failed: %v", err)
	}
}

func runDiagnostics(ctx context.Context, cfg *config.Config, clients *httputil.Clients) {
	if err := cfg.RequireReader(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	var reader services.StatsReader
	if cfg.Supabase.URL != "" && cfg.Supabase.ReadKey() != "" {
		log.Printf("Reading counts from %s", cfg.Supabase.URL)
		reader = storage.NewSupabaseStore(cfg.Supabase, clients.API)
	} else {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.Supabase.DBURL)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		reader = pgStore
	}

	checker := workers.NewLivenessChecker(clients.Probe, cfg.Liveness, cfg.Scraper.UserAgent)
	diag := services.NewDiagnosticsService(reader, checker)

	if sqliteStore, err := storage.NewSQLiteStore(cfg.DBPath); err != nil {
		log.Printf("Warning: run history unavailable: %v", err)
	} else {
		defer sqliteStore.Close()
		diag.SetHistory(sqliteStore)
	}

	report, err := diag.Run(ctx, *sampleSize)
	if err != nil {
		log.Fatalf("Diagnostics failed: %v", err)
	}
	services.WriteSummary(os.Stdout, report)

	if *reportKey == "" {
		return
	}
	if !cfg.S3.Enabled() {
		log.Fatalf("Configuration error: -report-key needs S3_BUCKET, S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY")
	}
	s3Store, err := storage.NewS3Store(ctx, cfg.S3)
	if err != nil {
		log.Fatalf("Failed to set up S3: %v", err)
	}
	diag.SetUploader(s3Store)
	if err := diag.Publish(ctx, *reportKey, report); err != nil {
		log.Fatalf("Report upload failed: %v", err)
	}
	log.Printf("Report uploaded to s3://%s/%s", cfg.S3.Bucket, *reportKey)
}

// maskConnectionString masks password in connection string for logging
func maskConnectionString(connStr string) string {
	// Simple mask - find :// and mask until @
	start := 0
	for i := 0; i < len(connStr)-3; i++ {
		if connStr[i:i+3] == "://" {
			start = i + 3
			break
		}
	}
	if start == 0 {
		return connStr
	}

	// Find : after user
	colonIdx := -1
	atIdx := -1
	for i := start; i < len(connStr); i++ {
		if connStr[i] == ':' && colonIdx == -1 {
			colonIdx = i
		}
		if connStr[i] == '@' {
			atIdx = i
			break
		}
	}

	if colonIdx > 0 && atIdx > colonIdx {
		return connStr[:colonIdx+1] + "****" + connStr[atIdx:]
	}
	return connStr
}

func queueCommand(dbPath string, cmd models.CommandType) error {
	switch cmd {
	case models.CmdImportNow, models.CmdImportProvider, models.CmdCleanup, models.CmdPause, models.CmdResume:
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	if cmd == models.CmdCleanup {
		if _, err := models.ParseCleanupPolicy(*policyFlag); err != nil {
			return err
		}
	}

	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	params := &models.CommandParams{Provider: *providerID, Policy: *policyFlag}
	if err := store.EnqueueCommand(cmd, params); err != nil {
		return err
	}
	log.Printf("Queued %s", cmd)
	return nil
}
