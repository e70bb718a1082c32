package lifecycle

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reflow/internal/engine"
	"github.com/vk/reflow/internal/pulse"
	"github.com/vk/reflow/internal/stopper"
)

// manualQueue is a deterministic Queue: immediate work and delayed ticks
// are both fired explicitly by the test.
type manualQueue struct {
	work    []func()
	delayed []func()
}

func (q *manualQueue) Enqueue(fn func()) { q.work = append(q.work, fn) }

func (q *manualQueue) After(_ time.Duration, fn func()) { q.delayed = append(q.delayed, fn) }

func (q *manualQueue) runPending() {
	for len(q.work) > 0 {
		fn := q.work[0]
		q.work = q.work[1:]
		fn()
	}
}

func (q *manualQueue) fireTick(t *testing.T) {
	t.Helper()
	require.NotEmpty(t, q.delayed, "no tick scheduled")
	require.Len(t, q.delayed, 1, "more than one tick pending for the partition")
	fn := q.delayed[0]
	q.delayed = q.delayed[1:]
	fn()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock *fakeClock
	queue *manualQueue
	link  *engine.RecordingLink
	coord *stopper.Coordinator
	d     *Driver
}

func newFixture(t *testing.T, tuning Tuning) *fixture {
	t.Helper()
	f := &fixture{
		clock: &fakeClock{now: time.Unix(1_000_000, 0)},
		queue: &manualQueue{},
		link:  &engine.RecordingLink{},
		coord: &stopper.Coordinator{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.d = New(logger, f.link, f.queue, f.coord, nil, tuning, WithClock(f.clock.Now))
	return f
}

func testTuning() Tuning {
	return Tuning{
		Heartbeat: time.Second,
		Restart:   10 * time.Second,
		Grace:     2 * time.Second,
		Finalize:  3 * time.Second,
	}
}

func TestStartEmitsAlwaysActiveAndSchedulesOneTick(t *testing.T) {
	f := newFixture(t, testTuning())
	behaviorCalled := false
	f.d.Start(func(link engine.Link) {
		behaviorCalled = true
		assert.Same(t, engine.Link(f.link), link)
	})
	f.queue.runPending()

	assert.True(t, behaviorCalled)
	updates := f.link.Updates()
	require.Len(t, updates, 1)
	start := f.clock.Now()
	assert.Equal(t, start.Add(startGrace), updates[0].Stable,
		"initial stability window is bounded by the start grace constant")
	require.Len(t, updates[0].Desc.Spans, 1)
	assert.True(t, updates[0].Desc.Spans[0].Active)
	assert.Len(t, f.queue.delayed, 1)
}

func TestStabilityNeverDecreases(t *testing.T) {
	f := newFixture(t, testTuning())
	f.d.Start(nil)
	f.queue.runPending()

	prev := f.d.Stability()
	steps := []time.Duration{
		time.Second, time.Second, // idle ticks
		15 * time.Second, // outage
		time.Second, time.Second, // idle again
		20 * time.Second, // another outage
	}
	for _, step := range steps {
		f.clock.Advance(step)
		f.queue.fireTick(t)
		cur := f.d.Stability()
		assert.False(t, cur.Before(prev), "stability regressed after advancing %v", step)
		prev = cur
	}
}

func TestIdleTickAdvancesStabilityToNow(t *testing.T) {
	f := newFixture(t, testTuning())
	f.d.Start(nil)
	f.queue.runPending()

	f.clock.Advance(time.Second)
	f.queue.fireTick(t)

	assert.Equal(t, f.clock.Now(), f.d.Stability())
	updates := f.link.Updates()
	require.Len(t, updates, 2)
	assert.Empty(t, updates[1].Desc.Spans, "idle update carries no activity change")
}

func TestOutageRestartsTheActivitySignal(t *testing.T) {
	f := newFixture(t, testTuning())
	f.d.Start(nil)
	f.queue.runPending()
	baseline := f.d.Stability()

	const gap = 42 * time.Second
	f.clock.Advance(gap)
	f.queue.fireTick(t)

	updates := f.link.Updates()
	require.Len(t, updates, 2)
	restart := updates[1]

	require.Len(t, restart.Desc.Spans, 2, "outage must deactivate then reactivate")
	down, up := restart.Desc.Spans[0], restart.Desc.Spans[1]
	assert.False(t, down.Active)
	assert.True(t, up.Active)
	assert.Equal(t, baseline, down.From, "downtime starts at the previous stability point")
	assert.Equal(t, down.Until, up.From)
	assert.GreaterOrEqual(t, down.Until.Sub(down.From), gap-startGrace,
		"downtime interval must cover the observed gap")

	assert.Equal(t, f.clock.Now().Add(startGrace), f.d.Stability(),
		"new baseline sits a grace window past the restart")
}

func TestSmallGapIsNotAnOutage(t *testing.T) {
	f := newFixture(t, testTuning())
	f.d.Start(nil)
	f.queue.runPending()

	f.clock.Advance(9 * time.Second) // below the 10s threshold
	f.queue.fireTick(t)

	updates := f.link.Updates()
	require.Len(t, updates, 2)
	assert.Empty(t, updates[1].Desc.Spans)
}

func TestShutdownWalksThePhasesWithBoundedDelays(t *testing.T) {
	tuning := testTuning()
	f := newFixture(t, tuning)
	dep := f.coord.Register("subsystem", nil)

	var callbackAt []Phase
	f.coord.OnStopped(func() { callbackAt = append(callbackAt, f.d.Phase()) })

	f.d.Start(nil)
	f.queue.runPending()
	require.Equal(t, Running, f.d.Phase())

	f.coord.RequestStop()
	t0 := f.clock.Now()

	f.clock.Advance(time.Second)
	f.queue.fireTick(t)
	require.Equal(t, Halting, f.d.Phase())

	// Still inside the grace window.
	f.clock.Advance(time.Second)
	f.queue.fireTick(t)
	assert.Equal(t, Halting, f.d.Phase())

	// Grace elapsed: finalization begins and the all-stop broadcast asks
	// the dependent to stop.
	f.clock.Advance(tuning.Grace)
	f.queue.fireTick(t)
	assert.Equal(t, Finalizing, f.d.Phase())
	assert.True(t, dep.Requested())

	// The dependent acknowledges, but the finalize deadline has not
	// passed yet, so the driver keeps waiting.
	dep.MarkStopped()
	f.queue.fireTick(t)
	assert.Equal(t, Finalizing, f.d.Phase())

	f.clock.Advance(tuning.Finalize)
	f.queue.fireTick(t)
	assert.Equal(t, Stopped, f.d.Phase())
	assert.True(t, f.coord.Stopped())

	assert.False(t, f.clock.Now().Before(t0.Add(tuning.Grace+tuning.Finalize)),
		"stopped before grace+finalize elapsed")

	require.Len(t, callbackAt, 1, "stop callback fires exactly once")
	assert.Equal(t, Stopped, callbackAt[0], "callback fires only after the Stopped transition")

	assert.Empty(t, f.queue.delayed, "a stopped driver schedules no further ticks")
}

func TestFinalizeWaitsForSlowDependents(t *testing.T) {
	tuning := testTuning()
	f := newFixture(t, tuning)
	dep := f.coord.Register("slow", nil)

	f.d.Start(nil)
	f.queue.runPending()
	f.coord.RequestStop()

	f.clock.Advance(time.Second)
	f.queue.fireTick(t) // Halting
	f.clock.Advance(tuning.Grace)
	f.queue.fireTick(t) // Finalizing
	f.clock.Advance(tuning.Finalize + 5*time.Second)
	f.queue.fireTick(t)
	assert.Equal(t, Finalizing, f.d.Phase(), "must not stop while a dependent has not acknowledged")

	dep.MarkStopped()
	f.clock.Advance(time.Second)
	f.queue.fireTick(t)
	assert.Equal(t, Stopped, f.d.Phase())
}

func TestDoubleStopIsIdempotent(t *testing.T) {
	tuning := testTuning()
	f := newFixture(t, tuning)

	fired := 0
	f.coord.OnStopped(func() { fired++ })

	f.d.Start(nil)
	f.queue.runPending()

	f.coord.RequestStop()
	f.coord.RequestStop()

	for i := 0; i < 10 && f.d.Phase() != Stopped; i++ {
		f.clock.Advance(2 * time.Second)
		f.queue.fireTick(t)
		f.coord.RequestStop() // keep re-requesting mid-shutdown
	}

	assert.Equal(t, Stopped, f.d.Phase())
	assert.Equal(t, 1, fired)
}

func TestStopRequestSuppressesRestartDetection(t *testing.T) {
	f := newFixture(t, testTuning())
	f.d.Start(nil)
	f.queue.runPending()

	f.coord.RequestStop()
	f.clock.Advance(time.Hour) // would be a massive outage
	f.queue.fireTick(t)

	require.Equal(t, Halting, f.d.Phase())
	updates := f.link.Updates()
	last := updates[len(updates)-1]
	require.Len(t, last.Desc.Spans, 1)
	assert.False(t, last.Desc.Spans[0].Active,
		"a halting application must not be resurrected by restart logic")
}

type countingSink struct {
	beats []pulse.Beat
}

func (s *countingSink) OnBeat(b pulse.Beat) { s.beats = append(s.beats, b) }

func TestEveryTickEmitsExactlyOneHeartbeat(t *testing.T) {
	f := newFixture(t, testTuning())
	sink := &countingSink{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.d = New(logger, f.link, f.queue, f.coord, sink, testTuning(),
		WithClock(f.clock.Now), WithRunID("run-1"))

	f.d.Start(nil)
	f.queue.runPending()

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		f.queue.fireTick(t)
	}

	require.Len(t, sink.beats, 3)
	for i, b := range sink.beats {
		assert.Equal(t, uint64(i+1), b.Seq)
		assert.Equal(t, "running", b.Phase)
		assert.Equal(t, "run-1", b.RunID)
	}
}
