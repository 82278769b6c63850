package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// timeoutEntry is one scheduled (deadline, task) pair. The heap shape —
// a stored index field maintained by heap.Interface.Swap so Fix/Remove
// can locate an entry in O(log n) — is grounded on the teacher's
// pkg/nest/queue.go ticketHeap, generalized from a priority queue of
// API command tickets to a priority queue of task deadlines.
type timeoutEntry struct {
	deadline time.Time
	task     *Task
	index    int
}

type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timeoutHeap) Push(x interface{}) {
	e := x.(*timeoutEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeoutHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimeoutService is the min-heap periodic scanner of tasks
// either get enqueued here by the scheduler (positive Run return) or
// register an explicit deadline via Register (e.g. an RTSP session's
// idle timeout). A single background goroutine scans due entries and
// signals their owning task.
type TimeoutService struct {
	sched *Scheduler

	mu      sync.Mutex
	h       timeoutHeap
	entries map[*Task]*timeoutEntry // every pending registration, reschedules included

	wake   chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

func newTimeoutService(s *Scheduler) *TimeoutService {
	return &TimeoutService{
		sched:   s,
		entries: make(map[*Task]*timeoutEntry),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (ts *TimeoutService) start(ctx context.Context) {
	go ts.loop(ctx)
}

func (ts *TimeoutService) stop() {
	close(ts.stopCh)
	<-ts.done
}

// scheduleAfter is used by the scheduler itself for a task's positive
// Run() return value: re-enqueue after micros microseconds.
func (ts *TimeoutService) scheduleAfter(t *Task, micros int64) {
	ts.Register(t, time.Now().Add(time.Duration(micros)*time.Microsecond))
}

// Register (re-)schedules t to be signalled with EventTimeout at
// deadline, replacing any prior registration for t. A refresh is a
// map lookup plus heap.Fix, O(log n) in the number of pending
// registrations; the periodic scan pops each due entry, O(due·log n).
func (ts *TimeoutService) Register(t *Task, deadline time.Time) {
	ts.mu.Lock()
	if e, ok := ts.entries[t]; ok {
		e.deadline = deadline
		heap.Fix(&ts.h, e.index)
	} else {
		e := &timeoutEntry{deadline: deadline, task: t}
		heap.Push(&ts.h, e)
		ts.entries[t] = e
	}
	ts.mu.Unlock()
	ts.nudge()
}

// Cancel removes any pending timeout registration for t.
func (ts *TimeoutService) Cancel(t *Task) {
	ts.mu.Lock()
	if e, ok := ts.entries[t]; ok {
		heap.Remove(&ts.h, e.index)
		delete(ts.entries, t)
	}
	ts.mu.Unlock()
}

func (ts *TimeoutService) nudge() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

func (ts *TimeoutService) loop(ctx context.Context) {
	defer close(ts.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		ts.mu.Lock()
		var next time.Time
		hasNext := false
		if len(ts.h) > 0 {
			next = ts.h[0].deadline
			hasNext = true
		}
		ts.mu.Unlock()

		var wait time.Duration
		if hasNext {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		} else {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-ts.stopCh:
			return
		case <-timer.C:
			ts.fireDue()
		case <-ts.wake:
			// loop recomputes the next deadline
		}
	}
}

func (ts *TimeoutService) fireDue() {
	now := time.Now()
	var due []*Task
	ts.mu.Lock()
	for len(ts.h) > 0 && !ts.h[0].deadline.After(now) {
		e := heap.Pop(&ts.h).(*timeoutEntry)
		delete(ts.entries, e.task)
		due = append(due, e.task)
	}
	ts.mu.Unlock()

	for _, t := range due {
		ts.sched.Signal(t, EventTimeout)
	}
}
