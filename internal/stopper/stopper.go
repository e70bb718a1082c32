// Package stopper holds the stop-state resources used to coordinate a
// graceful shutdown: a per-subsystem Stop cell and the root Coordinator
// that broadcasts "all stop" and aggregates acknowledgements.
package stopper

import (
	"sync"

	"github.com/vk/reflow/internal/registry"
)

// Stop is a single shutdown cell. Both flags transition false→true at most
// once; callbacks registered via OnStopped fire exactly once, after the
// transition to stopped, on the goroutine that calls MarkStopped.
type Stop struct {
	mu        sync.Mutex
	requested bool
	stopped   bool
	callbacks []func()
}

// RequestStop marks the cell as stopping. Idempotent: only the first call
// has effect.
func (s *Stop) RequestStop() {
	s.mu.Lock()
	s.requested = true
	s.mu.Unlock()
}

// Requested reports whether a stop has been requested.
func (s *Stop) Requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Stopped reports whether the cell has fully stopped.
func (s *Stop) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// OnStopped registers fn to run once the cell stops. If it already has,
// fn runs immediately on the caller's goroutine.
func (s *Stop) OnStopped(fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		fn()
		return
	}
	s.callbacks = append(s.callbacks, fn)
	s.mu.Unlock()
}

// MarkStopped transitions the cell to stopped and fires pending callbacks
// in registration order. Idempotent; a second call does nothing.
func (s *Stop) MarkStopped() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.requested = true
	cbs := s.callbacks
	s.callbacks = nil
	s.mu.Unlock()

	for _, fn := range cbs {
		fn()
	}
}

// subsystem pairs a dependent's stop cell with its teardown hook.
type subsystem struct {
	name     string
	stop     *Stop
	shutdown func()
}

// Coordinator is the application-wide stop resource, located on the root
// registry. Its own Stop cell tracks the application's shutdown; dependent
// subsystems register teardown hooks that the all-stop broadcast triggers.
type Coordinator struct {
	Stop

	depMu sync.Mutex
	deps  []subsystem
}

// Def locates the global coordinator on a registry node.
var Def = registry.Def[*Coordinator]{
	Kind: "stop",
	New: func(_ *registry.Node, _ registry.Path) *Coordinator {
		return &Coordinator{}
	},
}

// Register adds a dependent subsystem. The shutdown hook may be nil when
// the subsystem acknowledges on its own; otherwise AllStop runs it off the
// processing thread and marks the cell stopped when it returns. The
// returned cell is what the subsystem (or its owner) observes.
func (c *Coordinator) Register(name string, shutdown func()) *Stop {
	dep := subsystem{name: name, stop: &Stop{}, shutdown: shutdown}
	c.depMu.Lock()
	c.deps = append(c.deps, dep)
	c.depMu.Unlock()
	return dep.stop
}

// AllStop broadcasts a stop request to every registered dependent.
// Idempotent: dependents already asked to stop are not asked again. The
// broadcast itself never blocks; teardown hooks run on their own
// goroutines and acknowledge by marking their cells stopped.
func (c *Coordinator) AllStop() {
	c.depMu.Lock()
	deps := make([]subsystem, len(c.deps))
	copy(deps, c.deps)
	c.depMu.Unlock()

	for _, dep := range deps {
		if dep.stop.Requested() {
			continue
		}
		dep.stop.RequestStop()
		if dep.shutdown == nil {
			continue
		}
		go func(dep subsystem) {
			dep.shutdown()
			dep.stop.MarkStopped()
		}(dep)
	}
}

// AllStopped reports whether every registered dependent has acknowledged.
// Dependents with no teardown hook must acknowledge themselves.
func (c *Coordinator) AllStopped() bool {
	c.depMu.Lock()
	defer c.depMu.Unlock()
	for _, dep := range c.deps {
		if !dep.stop.Stopped() {
			return false
		}
	}
	return true
}
