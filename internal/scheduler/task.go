// Package scheduler implements the task/event scheduler of // a small pool of worker goroutines that dequeue runnable tasks and
// invoke their Run hook. Tasks are cooperative — Run returns a
// RunResult that reschedules, idles for a duration, or terminates the
// task — so no request ever blocks a worker for longer than one Run
// invocation.
//
// The min-heap timeout service lives in timeout.go; the
// heap shape (container/heap.Interface plus a stored index field for
// O(log n) Fix/Remove) is grounded on the teacher's
// pkg/nest/queue.go ticketHeap.
package scheduler

import (
	"sync"
	"sync/atomic"
)

// EventFlags is the mailbox bitmask delivered to Run.
type EventFlags uint32

const (
	EventReadReady EventFlags = 1 << iota
	EventWriteReady
	EventTimeout
	EventKill
	EventSignal // generic user signal (e.g. "data available", "lock granted")
)

// RunResult is what Run returns to tell the scheduler what happens next.
type RunResult int64

const (
	// Terminate tells the scheduler to detach the task; it is
	// destroyed once its reference count reaches zero.
	Terminate RunResult = -1
	// WaitForSignal tells the scheduler the task will be re-signalled
	// externally (by the poller or another task) and should not be
	// re-enqueued now.
	WaitForSignal RunResult = 0
)

// IdleFor builds a RunResult requesting re-enqueue after the given
// number of microseconds via the Timeout Service.
func IdleFor(micros int64) RunResult {
	if micros <= 0 {
		micros = 1
	}
	return RunResult(micros)
}

// Runnable is implemented by anything the scheduler can drive. Run is
// invoked with the task's mutex held and the mailbox flags that were
// pending, already cleared from the mailbox.
type Runnable interface {
	Run(events EventFlags) RunResult
}

// Task wraps a Runnable with the bookkeeping the scheduler requires: a
// mailbox, a single-writer mutex ("at most one Run at a time"), a
// reference count, and an affinity pin used by ForceSameThread.
type Task struct {
	name string
	run  Runnable

	mu sync.Mutex // held for the duration of one Run invocation

	mailbox   atomic.Uint32
	runnable  atomic.Bool // true while queued or executing
	refcount  atomic.Int32
	dead      atomic.Bool
	affinity  atomic.Int64 // worker id this task is pinned to, -1 if unpinned
	onDestroy func()
}

// NewTask wraps run as a scheduled Task. refcount starts at 1 for the
// caller's own handle; Release must be called to match.
func NewTask(name string, run Runnable) *Task {
	t := &Task{name: name, run: run}
	t.refcount.Store(1)
	t.affinity.Store(-1)
	return t
}

// Name returns the task's diagnostic name.
func (t *Task) Name() string { return t.name }

// Retain increments the reference count; callers resolving a Task out
// of a registry must Retain before use and Release when done.
func (t *Task) Retain() { t.refcount.Add(1) }

// Release decrements the reference count, destroying the task's
// onDestroy hook when it reaches zero.
func (t *Task) Release() {
	if t.refcount.Add(-1) == 0 {
		if t.onDestroy != nil {
			t.onDestroy()
		}
	}
}

// SetOnDestroy installs the hook invoked when the refcount reaches zero.
func (t *Task) SetOnDestroy(fn func()) { t.onDestroy = fn }

// IsDead reports whether the task has already terminated.
func (t *Task) IsDead() bool { return t.dead.Load() }

// ForceSameThread records workerID as the task's affinity pin. The
// scheduler's workers do not consult the pin: whichever worker pops
// the task next runs it, so lock hand-off across workers is not
// prevented.
func (t *Task) ForceSameThread(workerID int64) { t.affinity.Store(workerID) }

// ClearAffinity releases a pin set by ForceSameThread.
func (t *Task) ClearAffinity() { t.affinity.Store(-1) }

func (t *Task) affinityID() int64 { return t.affinity.Load() }
