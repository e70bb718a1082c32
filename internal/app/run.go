package app

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"runtime"
	"sync/atomic"
	"syscall"

	"github.com/vk/reflow/internal/ctxlog"
	"github.com/vk/reflow/internal/engine"
	"github.com/vk/reflow/internal/lifecycle"
	"github.com/vk/reflow/internal/pulse"
	"github.com/vk/reflow/internal/registry"
	"github.com/vk/reflow/internal/sched"
	"github.com/vk/reflow/internal/stopper"
	"github.com/vk/reflow/internal/watch"
	"github.com/vk/reflow/internal/workerpool"
)

// ErrAborted is returned when a second interrupt cuts the graceful
// shutdown short.
var ErrAborted = errors.New("aborted before graceful shutdown completed")

// Run wires the runtime together and drives the default partition until
// the lifecycle reaches Stopped (or a second interrupt aborts the wait).
// The supplied behavior is the embedding's compiled user program; nil is
// valid and leaves the activity signal as the only behavior.
func (a *App) Run(ctx context.Context, behavior engine.Behavior) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run started.", "run_id", a.runID)

	if runtime.GOMAXPROCS(0) == 1 {
		a.logger.Warn("running on a single OS thread; worker pool and timers will contend with the processing loop")
	}

	root := registry.NewRoot("reflow")
	part := root.Child("default")
	scheduler := sched.Def.Default(part)
	coord := stopper.Def.Default(root)
	pool := workerpool.Def(a.model.Workers, a.logger).Default(part)
	scheduler.MarkInitialized()
	a.logger.Debug("partition resources located.", "path", part.Path().String(), "workers", pool.Capacity())

	sinks := pulse.Fanout{&pulse.LogSink{Logger: a.logger}}
	sinks = append(sinks, a.wirePulses(coord)...)
	if s := a.wireWatch(ctx, coord, pool); s != nil {
		sinks = append(sinks, s)
	}

	link := engine.NewLogLink(a.logger)
	a.driver = lifecycle.New(a.logger, link, scheduler, coord, sinks,
		lifecycle.Tuning(a.model.Tuning), lifecycle.WithRunID(a.runID))

	a.startHealthcheck()
	defer a.closeHealthcheck(ctx)

	a.driver.Start(behavior)
	a.logger.Info("runtime started.", "run_id", a.runID)

	return a.loop(ctx, scheduler, coord)
}

// wirePulses connects the configured external heartbeat endpoints. A sink
// that cannot even be constructed is skipped with a warning; the runtime
// must come up regardless of monitoring availability.
func (a *App) wirePulses(coord *stopper.Coordinator) []pulse.Sink {
	var sinks []pulse.Sink
	for _, p := range a.model.Pulses {
		sink, err := pulse.NewSocketSink(a.logger, p.URL, p.Namespace)
		if err != nil {
			a.logger.Warn("skipping pulse endpoint", "name", p.Name, "error", err)
			continue
		}
		coord.Register("pulse:"+p.Name, func() {
			if err := sink.Close(); err != nil {
				a.logger.Warn("pulse endpoint close failed", "name", p.Name, "error", err)
			}
		})
		sinks = append(sinks, sink)
	}
	return sinks
}

// wireWatch builds the file-change backend for the configured directories
// and drains each stream into the log (concrete file I/O belongs to the
// behavior engine, not this runtime). When the polling backend is used it
// doubles as a heartbeat sink, returned so the driver pumps it.
func (a *App) wireWatch(ctx context.Context, coord *stopper.Coordinator, pool *workerpool.Pool) pulse.Sink {
	if len(a.model.Watch.Dirs) == 0 {
		return nil
	}

	var backend watch.Backend
	var beatSink pulse.Sink
	if a.model.Watch.Poll {
		poller := watch.NewPoller(a.logger, pool)
		backend, beatSink = poller, poller
	} else {
		fsn, err := watch.NewFSNotify(a.logger)
		if err != nil {
			a.logger.Warn("OS file notification unavailable, falling back to polling", "error", err)
			poller := watch.NewPoller(a.logger, pool)
			backend, beatSink = poller, poller
		} else {
			backend = fsn
		}
	}

	coord.Register("watch", func() {
		if err := backend.Close(); err != nil {
			a.logger.Warn("watch backend close failed", "error", err)
		}
	})

	for _, dir := range a.model.Watch.Dirs {
		events, err := backend.Watch(dir)
		if err != nil {
			a.logger.Warn("cannot watch directory", "dir", dir, "error", err)
			continue
		}
		go a.drainEvents(ctx, dir, events)
	}
	return beatSink
}

// drainEvents consumes one directory's change stream until it closes.
func (a *App) drainEvents(ctx context.Context, dir string, events <-chan watch.Event) {
	logger := ctxlog.FromContext(ctx)
	for ev := range events {
		logger.Info("file change observed", "dir", dir, "path", ev.Path, "op", ev.Op.String())
	}
	logger.Debug("watch stream closed.", "dir", dir)
}

// loop is the external driving thread: process pending work, then sleep
// until more arrives. The continuation flag flips once the stop
// coordinator reports stopped. A first interrupt requests a graceful
// stop and the loop keeps running so the shutdown phases can complete; a
// second interrupt abandons the wait.
func (a *App) loop(ctx context.Context, scheduler *sched.Scheduler, coord *stopper.Coordinator) error {
	sigCh := a.signals
	if sigCh == nil {
		sigCh = make(chan os.Signal, 2)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	var running atomic.Bool
	running.Store(true)
	coord.OnStopped(func() {
		running.Store(false)
		scheduler.Wake()
	})

	requestStop := func(reason string) {
		a.logger.Info("stop requested.", "reason", reason)
		coord.RequestStop()
		scheduler.Wake()
	}

	done := ctx.Done()
	stopping := false
	for {
		scheduler.RunPending()
		if !running.Load() {
			break
		}

		wake := make(chan struct{}, 1)
		scheduler.OnMorePendingWork(func() {
			select {
			case wake <- struct{}{}:
			default:
			}
		})

		select {
		case <-wake:
		case <-done:
			done = nil // fires once; the graceful path takes over
			stopping = true
			requestStop("context cancelled")
		case <-sigCh:
			if stopping {
				a.logger.Warn("second interrupt, abandoning graceful shutdown")
				return ErrAborted
			}
			stopping = true
			requestStop("interrupt")
		}
	}

	a.logger.Info("runtime stopped.", "run_id", a.runID)
	return nil
}
