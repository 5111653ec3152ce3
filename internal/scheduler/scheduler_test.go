package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"support-mail-ai-go/internal/config"
)

type countingRunner struct {
	runs int
}

func (r *countingRunner) Run(ctx context.Context) {
	r.runs++
}

func newTestScheduler() (*Scheduler, *countingRunner, *countingRunner, *countingRunner) {
	cfg := &config.SchedulerConfig{
		IngestIntervalMinutes:  5,
		WorkerIntervalMinutes:  1,
		JanitorIntervalMinutes: 5,
	}
	ingest := &countingRunner{}
	worker := &countingRunner{}
	janitor := &countingRunner{}
	return NewScheduler(cfg, ingest, worker, janitor), ingest, worker, janitor
}

func TestSchedulerStartStop(t *testing.T) {
	s, _, _, _ := newTestScheduler()

	assert.False(t, s.IsRunning())
	assert.NoError(t, s.Start())
	assert.True(t, s.IsRunning())

	// Starting twice is an error.
	assert.Error(t, s.Start())

	next := s.NextRuns()
	assert.Len(t, next, 3)
	assert.Contains(t, next, TaskIngest)
	assert.Contains(t, next, TaskWorker)
	assert.Contains(t, next, TaskJanitor)

	assert.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())

	// Stopping a stopped scheduler is a no-op.
	assert.NoError(t, s.Stop())
	assert.Empty(t, s.NextRuns())
}

func TestRunTaskByName(t *testing.T) {
	s, ingest, worker, janitor := newTestScheduler()

	assert.NoError(t, s.RunTask(TaskWorker))
	assert.Equal(t, 0, ingest.runs)
	assert.Equal(t, 1, worker.runs)
	assert.Equal(t, 0, janitor.runs)

	assert.NoError(t, s.RunTask(TaskIngest))
	assert.Equal(t, 1, ingest.runs)

	assert.Error(t, s.RunTask("no-such-task"))
	s.Wait()
}
