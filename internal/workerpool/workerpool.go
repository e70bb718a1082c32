// Package workerpool provides a bounded dispatcher for short-lived blocking
// tasks, typically file I/O. At most capacity tasks run at once; tasks
// submitted beyond that wait in a FIFO queue. Workers are ephemeral: one
// that finds no queued work exits and returns its permit, so resource usage
// tracks currently active work rather than peak historical concurrency.
package workerpool

import (
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/vk/reflow/internal/registry"
)

// Pool dispatches tasks with a fixed concurrency cap. All queue and permit
// transitions happen under a single lock; Submit never blocks the caller.
type Pool struct {
	logger   *slog.Logger
	capacity int

	mu      sync.Mutex
	running int
	queue   []func()
}

// New creates a pool. Capacity must be positive; anything else is a
// programming error and panics.
func New(capacity int, logger *slog.Logger) *Pool {
	if capacity <= 0 {
		panic("workerpool: capacity must be > 0")
	}
	return &Pool{logger: logger, capacity: capacity}
}

// Def returns a registry descriptor building pools of the given capacity,
// so a partition can hold its pool as a located resource.
func Def(capacity int, logger *slog.Logger) registry.Def[*Pool] {
	return registry.Def[*Pool]{
		Kind: "workerpool",
		New: func(_ *registry.Node, _ registry.Path) *Pool {
			return New(capacity, logger)
		},
	}
}

// Capacity returns the fixed concurrency cap.
func (p *Pool) Capacity() int {
	return p.capacity
}

// Submit schedules task for execution and returns immediately. While a
// permit is free a new worker starts at once; otherwise the task joins the
// FIFO queue and runs on the next worker that frees up. Task failures never
// reach the submitter; callers needing a result must arrange their own
// channel inside the task.
func (p *Pool) Submit(task func()) {
	p.mu.Lock()
	if p.running < p.capacity {
		p.running++
		p.mu.Unlock()
		go p.work(task)
		return
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()
}

// work runs task, then keeps draining the queue until it is empty, at which
// point the worker gives its permit back and exits.
func (p *Pool) work(task func()) {
	for {
		p.invoke(task)

		p.mu.Lock()
		if len(p.queue) == 0 {
			p.running--
			p.mu.Unlock()
			return
		}
		task = p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()
	}
}

// invoke contains a task failure within the worker. A panicking task must
// not take the dispatcher down with it.
func (p *Pool) invoke(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("worker task panicked",
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task()
}
