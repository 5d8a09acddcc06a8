package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"auctionwatch/config"
	"auctionwatch/models"
	"auctionwatch/storage"
)

// Runner is one periodic pipeline task.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Scheduler drives the periodic tasks: change detection (cron or ticker),
// reminder scans, the deferred-notification sweep, and source ingestion. It
// also polls the local command table so operators can trigger any task
// out of band.
type Scheduler struct {
	cfg    *config.Config
	store  *storage.SQLiteStore
	cron   *cron.Cron
	stopCh chan struct{}

	detect    Runner
	reminders Runner
	sweep     Runner
	ingest    Runner

	// One mutex per task so a slow tick is skipped rather than stacked.
	locks map[models.CommandType]*sync.Mutex
}

func New(cfg *config.Config, store *storage.SQLiteStore, detect, reminders, sweep, ingest Runner) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		store:     store,
		cron:      cron.New(),
		stopCh:    make(chan struct{}),
		detect:    detect,
		reminders: reminders,
		sweep:     sweep,
		ingest:    ingest,
		locks: map[models.CommandType]*sync.Mutex{
			models.CmdRunDetect:    {},
			models.CmdRunReminders: {},
			models.CmdRunSweep:     {},
			models.CmdRunIngest:    {},
		},
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	go s.pollCommands(ctx)

	if s.cfg.Monitor.DetectCron != "" {
		log.Printf("Starting detection with cron: %s", s.cfg.Monitor.DetectCron)
		_, err := s.cron.AddFunc(s.cfg.Monitor.DetectCron, func() {
			s.runTask(ctx, models.CmdRunDetect, s.detect)
		})
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.cron.Start()
	} else if s.cfg.Monitor.DetectInterval > 0 {
		log.Printf("Starting detection with interval: %s", s.cfg.Monitor.DetectInterval)
		go s.runTicker(ctx, s.cfg.Monitor.DetectInterval, models.CmdRunDetect, s.detect)
	} else {
		log.Println("No detection schedule configured, daemon will only respond to commands")
	}

	if s.cfg.Monitor.ReminderInterval > 0 {
		go s.runTicker(ctx, s.cfg.Monitor.ReminderInterval, models.CmdRunReminders, s.reminders)
	}
	if s.cfg.Monitor.SweepInterval > 0 {
		go s.runTicker(ctx, s.cfg.Monitor.SweepInterval, models.CmdRunSweep, s.sweep)
	}
	if s.ingest != nil && s.cfg.Monitor.IngestInterval > 0 {
		go s.runTicker(ctx, s.cfg.Monitor.IngestInterval, models.CmdRunIngest, s.ingest)
	}

	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	close(s.stopCh)
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, task models.CommandType, r Runner) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runTask(ctx, task, r)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runTask executes one tick, skipping when the previous tick of the same
// task is still running.
func (s *Scheduler) runTask(ctx context.Context, task models.CommandType, r Runner) {
	mu := s.locks[task]
	if !mu.TryLock() {
		log.Printf("Skipping %s tick: previous run still in progress", task)
		return
	}
	defer mu.Unlock()

	if err := r.Run(ctx); err != nil {
		log.Printf("Task %s error: %v", task, err)
	}
}

func (s *Scheduler) pollCommands(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cmds, err := s.store.GetPendingCommands()
			if err != nil {
				log.Printf("Error getting commands: %v", err)
				continue
			}

			for _, cmd := range cmds {
				log.Printf("Processing command: %s", cmd.Command)
				if err := s.handleCommand(ctx, &cmd); err != nil {
					log.Printf("Command error: %v", err)
				}
				if err := s.store.MarkCommandProcessed(cmd.ID); err != nil {
					log.Printf("Error marking command processed: %v", err)
				}
			}
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) handleCommand(ctx context.Context, cmd *models.Command) error {
	switch cmd.Command {
	case models.CmdRunDetect:
		s.runTask(ctx, cmd.Command, s.detect)
	case models.CmdRunReminders:
		s.runTask(ctx, cmd.Command, s.reminders)
	case models.CmdRunSweep:
		s.runTask(ctx, cmd.Command, s.sweep)
	case models.CmdRunIngest:
		if s.ingest == nil {
			return fmt.Errorf("no ingest source configured")
		}
		s.runTask(ctx, cmd.Command, s.ingest)
	default:
		return fmt.Errorf("unknown command: %s", cmd.Command)
	}
	return nil
}
