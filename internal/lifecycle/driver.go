// Package lifecycle implements the application lifecycle driver: a timed
// state machine that keeps a partition's activity signal alive, detects
// scheduling outages, and walks a requested stop through a bounded,
// multi-phase shutdown.
//
// All driver state is owned by the partition's processing thread: every
// maintenance tick runs as one unit of scheduler work, and each tick
// schedules exactly one successor, so at most one tick is ever pending or
// running per partition.
package lifecycle

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vk/reflow/internal/engine"
	"github.com/vk/reflow/internal/pulse"
	"github.com/vk/reflow/internal/stopper"
)

// Tuning bundles the timing constants of the driver.
type Tuning struct {
	// Heartbeat is the interval between maintenance ticks.
	Heartbeat time.Duration
	// Restart is the outage threshold: a tick arriving more than this
	// long after the stability baseline restarts the activity signal.
	Restart time.Duration
	// Grace bounds how long a halting application waits for in-flight
	// updates to settle before finalizing.
	Grace time.Duration
	// Finalize bounds how long finalization waits for dependent
	// subsystems to acknowledge stop.
	Finalize time.Duration
}

// DefaultTuning returns the stock timing constants.
func DefaultTuning() Tuning {
	return Tuning{
		Heartbeat: time.Second,
		Restart:   10 * time.Second,
		Grace:     2 * time.Second,
		Finalize:  2 * time.Second,
	}
}

// startGrace bounds the initial stability window at startup and the
// resume horizon after a detected outage.
const startGrace = 200 * time.Millisecond

// Queue is the slice of the partition scheduler the driver needs: run a
// unit of work on the processing thread now, or after a delay on a
// dedicated timer.
type Queue interface {
	Enqueue(fn func())
	After(d time.Duration, fn func())
}

// Clock returns the current time; injectable for tests.
type Clock func() time.Time

// Driver runs the maintenance loop for one partition.
type Driver struct {
	logger *slog.Logger
	link   engine.Link
	queue  Queue
	coord  *stopper.Coordinator
	sinks  pulse.Sink
	tuning Tuning
	clock  Clock
	runID  string

	// Mutated only on the processing thread; the lock exists for
	// observers (healthcheck) reading phase and stability concurrently.
	mu               sync.Mutex
	phase            Phase
	stability        time.Time
	haltAt           time.Time
	graceDeadline    time.Time
	finalizeDeadline time.Time
	seq              uint64
	lateWarned       bool
}

// Option tweaks a Driver at construction.
type Option func(*Driver)

// WithClock substitutes the time source; tests use a fake.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithRunID stamps beats with the given run identifier.
func WithRunID(id string) Option {
	return func(d *Driver) { d.runID = id }
}

// New assembles a driver. The coordinator must be the root stop resource;
// sinks may be nil when nobody consumes heartbeats.
func New(logger *slog.Logger, link engine.Link, queue Queue, coord *stopper.Coordinator, sinks pulse.Sink, tuning Tuning, opts ...Option) *Driver {
	d := &Driver{
		logger: logger,
		link:   link,
		queue:  queue,
		coord:  coord,
		sinks:  sinks,
		tuning: tuning,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Phase returns the current lifecycle phase.
func (d *Driver) Phase() Phase {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phase
}

// Stability returns the current stability baseline: everything up to this
// time is finalized and will not be retracted.
func (d *Driver) Stability() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stability
}

// Start enqueues the bootstrap step: hand the link to the behavior, emit
// the initial always-active demand with a stability window bounded by the
// start grace constant, and schedule the first maintenance tick.
func (d *Driver) Start(behavior engine.Behavior) {
	d.queue.Enqueue(func() {
		now := d.clock()

		if behavior != nil {
			behavior(d.link)
		}

		d.mu.Lock()
		d.stability = now.Add(startGrace)
		stable := d.stability
		d.mu.Unlock()

		d.link.Push(stable, now, engine.AlwaysActive(now))
		d.logger.Debug("lifecycle started", "stable_until", stable, "run_id", d.runID)
		d.queue.After(d.tuning.Heartbeat, d.tick)
	})
}

// tick is one maintenance step. It always emits a heartbeat first, then
// acts according to the current phase, and reschedules itself unless the
// driver has reached Stopped.
func (d *Driver) tick() {
	now := d.clock()

	d.mu.Lock()
	phase := d.phase
	d.seq++
	seq := d.seq
	d.mu.Unlock()

	if d.sinks != nil {
		d.sinks.OnBeat(pulse.Beat{At: now, Phase: phase.String(), RunID: d.runID, Seq: seq})
	}

	switch phase {
	case Running:
		d.maintain(now)
	case Halting:
		d.drainGrace(now)
	case Finalizing:
		d.finalize(now)
	case Stopped:
		return
	}

	if d.Phase() != Stopped {
		d.queue.After(d.tuning.Heartbeat, d.tick)
	}
}

// maintain advances the stability baseline while the application runs.
// A stop request takes priority over everything, including a pending
// outage restart: a halting application must not be resurrected.
func (d *Driver) maintain(now time.Time) {
	if d.coord.Requested() {
		d.beginHalt(now)
		return
	}

	d.mu.Lock()
	prev := d.stability
	d.mu.Unlock()

	if gap := now.Sub(prev); gap > d.tuning.Restart {
		resume := now.Add(startGrace)
		d.logger.Info("scheduling outage detected, restarting activity signal",
			"gap", gap, "down_from", prev, "resume_at", resume)

		d.mu.Lock()
		d.stability = resume
		d.mu.Unlock()
		d.link.Push(resume, now, engine.Restart(prev, resume))
		return
	}

	// Idle advance. The baseline may already sit slightly ahead of the
	// wall clock (start grace, restart horizon); never move it back.
	stable := prev
	if now.After(stable) {
		stable = now
	}
	d.mu.Lock()
	d.stability = stable
	d.mu.Unlock()
	d.link.Push(stable, now, engine.Idle())
}

// beginHalt records the stop observation and emits the deactivation
// update: the signal goes down at tHalt, and everything up to the
// finalization deadline is declared final so the engine can flush.
func (d *Driver) beginHalt(now time.Time) {
	d.mu.Lock()
	d.phase = Halting
	d.haltAt = now
	d.graceDeadline = now.Add(d.tuning.Grace)
	d.finalizeDeadline = d.graceDeadline.Add(d.tuning.Finalize)
	stable := d.finalizeDeadline
	if stable.Before(d.stability) {
		stable = d.stability
	}
	d.stability = stable
	d.mu.Unlock()

	d.logger.Info("stop requested, halting", "halt_at", now,
		"grace", d.tuning.Grace, "finalize", d.tuning.Finalize)
	d.link.Push(stable, now, engine.Deactivate(now))
}

// drainGrace keeps heartbeating until real time reaches the grace
// boundary, then starts finalization with an all-stop broadcast.
func (d *Driver) drainGrace(now time.Time) {
	d.mu.Lock()
	deadline := d.graceDeadline
	d.mu.Unlock()

	if now.Before(deadline) {
		return
	}

	d.mu.Lock()
	d.phase = Finalizing
	d.mu.Unlock()

	d.logger.Info("grace elapsed, broadcasting all-stop")
	d.coord.AllStop()
}

// finalize waits for the finalization deadline and for every dependent
// subsystem to acknowledge, then transitions to Stopped and fires the
// registered stop callbacks on this processing thread.
func (d *Driver) finalize(now time.Time) {
	d.mu.Lock()
	deadline := d.finalizeDeadline
	d.mu.Unlock()

	if now.Before(deadline) {
		return
	}
	if !d.coord.AllStopped() {
		d.mu.Lock()
		warned := d.lateWarned
		d.lateWarned = true
		d.mu.Unlock()
		if !warned {
			d.logger.Warn("dependent subsystems still stopping past the finalize deadline")
		}
		return
	}

	d.mu.Lock()
	d.phase = Stopped
	d.mu.Unlock()

	d.logger.Info("stopped")
	d.coord.MarkStopped()
}
