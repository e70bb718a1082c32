// Package sched provides the per-partition scheduler resource: a FIFO work
// queue drained cooperatively by an external driving thread, plus the delay
// mechanism used to schedule maintenance ticks. Each partition has one
// scheduler, so everything enqueued on it runs strictly sequentially on
// whichever goroutine calls RunPending.
package sched

import (
	"sync"
	"time"

	"github.com/vk/reflow/internal/registry"
)

// Scheduler queues units of work for a partition and wakes the driving
// thread when new work arrives.
type Scheduler struct {
	mu          sync.Mutex
	queue       []func()
	notify      []func()
	initialized bool
}

// Def locates a partition's scheduler on its registry node.
var Def = registry.Def[*Scheduler]{
	Kind: "scheduler",
	New: func(_ *registry.Node, _ registry.Path) *Scheduler {
		return &Scheduler{}
	},
}

// MarkInitialized records that the embedding has finished wiring this
// partition. Construction itself must stay effect-free, so this is a
// separate, explicit step.
func (s *Scheduler) MarkInitialized() {
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
}

// Initialized reports whether MarkInitialized has been called.
func (s *Scheduler) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Enqueue appends fn to the work queue and fires any pending one-shot
// wake notifications.
func (s *Scheduler) Enqueue(fn func()) {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	wake := s.notify
	s.notify = nil
	s.mu.Unlock()

	for _, cb := range wake {
		cb()
	}
}

// After schedules fn to be enqueued once d has elapsed. The delay runs on
// its own timer, never on the calling goroutine, so the caller's current
// unit of work finishes before fn can possibly run.
func (s *Scheduler) After(d time.Duration, fn func()) {
	time.AfterFunc(d, func() { s.Enqueue(fn) })
}

// RunPending drains the queue, including work enqueued while draining, and
// returns. It must only be called from the partition's driving thread.
func (s *Scheduler) RunPending() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// OnMorePendingWork registers a one-shot callback fired when work becomes
// available. If work is already queued the callback fires immediately, so
// the driving thread can never sleep through a wakeup.
func (s *Scheduler) OnMorePendingWork(fn func()) {
	s.mu.Lock()
	if len(s.queue) > 0 {
		s.mu.Unlock()
		fn()
		return
	}
	s.notify = append(s.notify, fn)
	s.mu.Unlock()
}

// Wake fires pending wake notifications without enqueueing work. The
// driving loop uses it to re-check its continuation flag after an
// asynchronous stop request.
func (s *Scheduler) Wake() {
	s.mu.Lock()
	wake := s.notify
	s.notify = nil
	s.mu.Unlock()

	for _, cb := range wake {
		cb()
	}
}
