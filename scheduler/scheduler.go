package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"studenthome_ingest/config"
	"studenthome_ingest/models"
	"studenthome_ingest/services"
)

const commandPollInterval = 5 * time.Second

// Runner is the orchestrator as seen by the daemon
type Runner interface {
	RunAll(ctx context.Context) (*models.RunStats, error)
	RunCleanup(ctx context.Context, policy models.CleanupPolicy, opts services.CleanupOptions) (*models.CleanupReport, error)
	HandleCommand(ctx context.Context, cmd *models.Command) error
	IsPaused() bool
}

// CommandQueue is the SQLite commands table
type CommandQueue interface {
	GetPendingCommands() ([]models.Command, error)
	MarkCommandProcessed(id int64) error
	GetLastRunTime(kind models.RunKind) (time.Time, error)
}

type Scheduler struct {
	cfg          *config.Config
	runner       Runner
	queue        CommandQueue
	cron         *cron.Cron
	ticker       *time.Ticker
	stopCh       chan struct{}
	stopOnce     sync.Once
	pollInterval time.Duration
}

func New(cfg *config.Config, runner Runner, queue CommandQueue) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		runner:       runner,
		queue:        queue,
		cron:         cron.New(),
		stopCh:       make(chan struct{}),
		pollInterval: commandPollInterval,
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	sc := s.cfg.Scheduler

	policy, err := models.ParseCleanupPolicy(sc.CleanupPolicy)
	if err != nil {
		return err
	}

	cronJobs := 0
	if sc.ImportCron != "" {
		log.Printf("Scheduling imports with cron: %s", sc.ImportCron)
		if _, err := s.cron.AddFunc(sc.ImportCron, func() { s.runImport(ctx) }); err != nil {
			return fmt.Errorf("invalid import cron expression: %w", err)
		}
		cronJobs++
	}
	if sc.CleanupCron != "" {
		log.Printf("Scheduling cleanup (%s) with cron: %s", policy, sc.CleanupCron)
		_, err := s.cron.AddFunc(sc.CleanupCron, func() { s.runCleanup(ctx, policy) })
		if err != nil {
			return fmt.Errorf("invalid cleanup cron expression: %w", err)
		}
		cronJobs++
	}
	if cronJobs > 0 {
		s.cron.Start()
	}

	go s.pollCommands(ctx)

	if sc.ImportCron == "" && sc.ImportInterval > 0 {
		log.Printf("Scheduling imports every %s", sc.ImportInterval)
		s.ticker = time.NewTicker(sc.ImportInterval)
		go func() {
			if s.importOverdue(sc.ImportInterval) {
				log.Println("Last import is older than the interval, running now")
				s.runImport(ctx)
			}
			for {
				select {
				case <-s.ticker.C:
					s.runImport(ctx)
				case <-s.stopCh:
					return
				case <-ctx.Done():
					return
				}
			}
		}()
	} else if cronJobs == 0 {
		log.Println("No schedule configured, daemon will only respond to commands")
	}

	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		<-s.cron.Stop().Done()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
	})
}

func (s *Scheduler) runImport(ctx context.Context) {
	if s.runner.IsPaused() {
		log.Println("Importer paused, skipping scheduled import")
		return
	}
	stats, err := s.runner.RunAll(ctx)
	if err != nil {
		log.Printf("Scheduled import error: %v", err)
		return
	}
	if stats != nil {
		log.Printf("Scheduled import done: processed=%d imported=%d skipped=%d failed=%d images=%d",
			stats.URLsProcessed, stats.Imported, stats.Skipped, stats.Failed, stats.ImagesSaved)
	}
}

func (s *Scheduler) runCleanup(ctx context.Context, policy models.CleanupPolicy) {
	if s.runner.IsPaused() {
		log.Println("Importer paused, skipping scheduled cleanup")
		return
	}
	if _, err := s.runner.RunCleanup(ctx, policy, services.CleanupOptions{DeleteOrphans: true}); err != nil {
		log.Printf("Scheduled cleanup error: %v", err)
	}
}

func (s *Scheduler) importOverdue(interval time.Duration) bool {
	last, err := s.queue.GetLastRunTime(models.RunKindImport)
	if err != nil {
		log.Printf("Error getting last import time: %v", err)
		return false
	}
	return time.Since(last) >= interval
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processCommands(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) processCommands(ctx context.Context) {
	cmds, err := s.queue.GetPendingCommands()
	if err != nil {
		log.Printf("Error getting commands: %v", err)
		return
	}

	for _, cmd := range cmds {
		log.Printf("Processing command: %s", cmd.Command)
		if err := s.runner.HandleCommand(ctx, &cmd); err != nil {
			log.Printf("Command error: %v", err)
		}
		if err := s.queue.MarkCommandProcessed(cmd.ID); err != nil {
			log.Printf("Error marking command processed: %v", err)
		}
	}
}
