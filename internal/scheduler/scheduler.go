package scheduler

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gtfodev/rtspcore/internal/corelog"
)

// Scheduler is the task pool of N worker goroutines (default
// one per CPU core) pop runnable tasks off a FIFO and invoke Run.
type Scheduler struct {
	log *corelog.Logger

	runnableCh chan *Task
	workers    int

	nextWorkerID atomic.Int64

	wg       sync.WaitGroup
	timeouts *TimeoutService

	stopped atomic.Bool
}

// New builds a Scheduler with the given worker count (<=0 selects
// runtime.NumCPU()) and starts its Timeout Service.
func New(workers int, log *corelog.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil {
		log = corelog.Default()
	}
	s := &Scheduler{
		log:        log,
		runnableCh: make(chan *Task, 4096),
		workers:    workers,
	}
	s.timeouts = newTimeoutService(s)
	return s
}

// Start launches the worker goroutines and the timeout service task.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx, int64(i))
	}
	s.timeouts.start(ctx)
}

// Stop signals all workers to drain and exit, and waits for them.
func (s *Scheduler) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	close(s.runnableCh)
	s.wg.Wait()
	s.timeouts.stop()
}

func (s *Scheduler) workerLoop(ctx context.Context, workerID int64) {
	defer s.wg.Done()
	for task := range s.runnableCh {
		s.runOne(workerID, task)
	}
}

func (s *Scheduler) runOne(workerID int64, t *Task) {
	t.mu.Lock()
	events := EventFlags(t.mailbox.Swap(0))
	t.runnable.Store(false)
	result := t.run.Run(events)
	t.mu.Unlock()

	switch {
	case result == Terminate:
		t.dead.Store(true)
		s.log.Debugc(corelog.CategoryScheduler, "task terminated", "task", t.name, "worker", workerID)
	case result == WaitForSignal:
		// Task will be re-enqueued externally via Signal.
	default:
		s.timeouts.scheduleAfter(t, int64(result))
	}
}

// Signal ORs flag into t's mailbox and enqueues it if it isn't already
// runnable.
func (s *Scheduler) Signal(t *Task, flag EventFlags) {
	if t.dead.Load() {
		return
	}
	t.mailbox.Or(uint32(flag))
	s.enqueue(t)
}

// Kill signals a task for termination (administrative kill).
func (s *Scheduler) Kill(t *Task) {
	s.Signal(t, EventKill)
}

func (s *Scheduler) enqueue(t *Task) {
	if !t.runnable.CompareAndSwap(false, true) {
		return // already queued or executing; mailbox OR above will be observed next Run
	}
	select {
	case s.runnableCh <- t:
	default:
		// Runnable queue briefly saturated; spawn a goroutine so the
		// signal is never dropped (bounded by the channel's own
		// backpressure in steady state).
		go func() { s.runnableCh <- t }()
	}
}

// Timeouts exposes the scheduler's Timeout Service for tasks that need
// to Refresh an external deadline.
func (s *Scheduler) Timeouts() *TimeoutService { return s.timeouts }
