package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is a function run periodically by a Scheduler.
type Task struct {
	Name     string
	Interval time.Duration
	// RunAtStart runs the task once immediately on Start.
	RunAtStart bool
	Fn         func(ctx context.Context) error
}

// Scheduler owns a set of periodic tasks. Each task runs in its own
// goroutine; a run never overlaps with the previous run of the same task.
type Scheduler struct {
	tasks  []Task
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks, logger: slog.Default()}
}

// Add registers a task. It has no effect on a running scheduler until the
// next Start.
func (s *Scheduler) Add(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
}

// Start launches every task. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	for _, t := range s.tasks {
		if t.Interval <= 0 || t.Fn == nil {
			s.logger.Warn("skipping periodic task", "task", t.Name, "interval", t.Interval)
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
}

// Stop cancels every task and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	if t.RunAtStart {
		s.runTask(ctx, t)
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, t)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("periodic task panicked", "task", t.Name, "panic", r)
		}
	}()
	if err := t.Fn(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("periodic task failed", "task", t.Name, "error", err)
	}
}
