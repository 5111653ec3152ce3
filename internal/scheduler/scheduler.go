// Package scheduler runs the three periodic pipeline tasks on cron:
// mailbox ingestion, the queue worker, and the janitor.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"support-mail-ai-go/internal/config"
)

// Task names accepted by RunTask.
const (
	TaskIngest  = "ingest"
	TaskWorker  = "worker"
	TaskJanitor = "janitor"
)

// Runner is one periodic pipeline task.
type Runner interface {
	Run(ctx context.Context)
}

// Scheduler manages the periodic pipeline tasks
type Scheduler struct {
	cron      *cron.Cron
	config    *config.SchedulerConfig
	tasks     map[string]Runner
	entries   map[string]cron.EntryID
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.SchedulerConfig, ingest, worker, janitor Runner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		config: cfg,
		tasks: map[string]Runner{
			TaskIngest:  ingest,
			TaskWorker:  worker,
			TaskJanitor: janitor,
		},
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	intervals := map[string]int{
		TaskIngest:  s.config.IngestIntervalMinutes,
		TaskWorker:  s.config.WorkerIntervalMinutes,
		TaskJanitor: s.config.JanitorIntervalMinutes,
	}

	for name, minutes := range intervals {
		schedule := fmt.Sprintf("0 */%d * * * *", minutes)
		taskName := name

		entryID, err := s.cron.AddFunc(schedule, func() { s.runTask(taskName) })
		if err != nil {
			return fmt.Errorf("failed to add cron job %s: %w", taskName, err)
		}
		s.entries[taskName] = entryID
	}

	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started (ingest every %dm, worker every %dm, janitor every %dm)",
		s.config.IngestIntervalMinutes, s.config.WorkerIntervalMinutes, s.config.JanitorIntervalMinutes)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	// Cancel context to stop any running tasks
	s.cancel()

	// Stop the cron scheduler
	ctx := s.cron.Stop()

	// Wait for all tasks to complete
	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runTask executes one task, serialized per scheduler instance by cron.
func (s *Scheduler) runTask(name string) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Infof("Scheduler not running, skipping %s cycle", name)
		return
	}
	task := s.tasks[name]
	s.mu.RUnlock()

	if task == nil {
		return
	}

	start := time.Now()
	task.Run(s.ctx)
	logrus.Debugf("Task %s finished in %v", name, time.Since(start))
}

// RunTask runs one named task immediately (for manual triggering).
func (s *Scheduler) RunTask(name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok || task == nil {
		return fmt.Errorf("unknown task %q", name)
	}

	logrus.Infof("Running task %s once", name)
	s.wg.Add(1)
	defer s.wg.Done()
	task.Run(s.ctx)
	return nil
}

// NextRuns returns the next scheduled run per task.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := make(map[string]time.Time, len(s.entries))
	if !s.isRunning {
		return next
	}
	for name, id := range s.entries {
		next[name] = s.cron.Entry(id).Next
	}
	return next
}

// Wait waits for in-flight tasks to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
