package main

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AnuragDani/subscription-billing/internal/billing"
	"github.com/AnuragDani/subscription-billing/internal/logger"
)

// cycleRunner is the part of the cycle processor the scheduler drives
type cycleRunner interface {
	Run(ctx context.Context, targetDate time.Time) (*billing.RunResult, error)
}

// SchedulerConfig holds scheduler configuration
type SchedulerConfig struct {
	Schedule   string
	Enabled    bool
	RunTimeout time.Duration
}

// SchedulerStatus represents the current state of the scheduler
type SchedulerStatus struct {
	Running    bool               `json:"running"`
	Enabled    bool               `json:"enabled"`
	Schedule   string             `json:"schedule"`
	LastRun    *time.Time         `json:"last_run,omitempty"`
	NextRun    *time.Time         `json:"next_run,omitempty"`
	LastResult *billing.RunResult `json:"last_result,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
}

// Scheduler triggers billing runs on a cron schedule and records their outcome
type Scheduler struct {
	runner cycleRunner
	config SchedulerConfig
	clock  func() time.Time
	logger *logger.Logger
	cron   *cron.Cron

	mu         sync.RWMutex
	running    bool
	entryID    cron.EntryID
	lastRun    *time.Time
	lastResult *billing.RunResult
	lastError  string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(runner cycleRunner, config SchedulerConfig, clock func() time.Time, log *logger.Logger) *Scheduler {
	if config.RunTimeout <= 0 {
		config.RunTimeout = 5 * time.Minute
	}
	if clock == nil {
		clock = billing.SystemClock
	}
	if log == nil {
		log = logger.Discard()
	}
	cronLog := cron.PrintfLogger(log)
	return &Scheduler{
		runner: runner,
		config: config,
		clock:  clock,
		logger: log,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
}

// Start registers the billing job and starts the cron loop. A disabled scheduler
// still answers Status and TriggerManual.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.config.Enabled {
		return nil
	}

	id, err := s.cron.AddFunc(s.config.Schedule, s.tick)
	if err != nil {
		return err
	}
	s.entryID = id
	s.running = true
	s.cron.Start()

	s.logger.Info("Billing scheduler started", "schedule", s.config.Schedule)
	return nil
}

// Stop halts the schedule and waits for a running job to complete
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping billing scheduler, waiting for current run to complete...")
	<-s.cron.Stop().Done()
	s.logger.Info("Billing scheduler stopped")
}

// tick executes one scheduled billing run as of now
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	if _, err := s.TriggerManual(ctx, s.clock()); err != nil {
		s.logger.Error("Scheduled billing run failed", "error", err)
	}
}

// TriggerManual runs the billing cycle for targetDate now and records the outcome
func (s *Scheduler) TriggerManual(ctx context.Context, targetDate time.Time) (*billing.RunResult, error) {
	started := s.clock()
	result, err := s.runner.Run(ctx, targetDate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &started
	if err != nil {
		s.lastError = err.Error()
		return result, err
	}
	s.lastError = ""
	s.lastResult = result
	return result, nil
}

// Status returns the current scheduler status
func (s *Scheduler) Status() *SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &SchedulerStatus{
		Running:    s.running,
		Enabled:    s.config.Enabled,
		Schedule:   s.config.Schedule,
		LastRun:    s.lastRun,
		LastResult: s.lastResult,
		LastError:  s.lastError,
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}
