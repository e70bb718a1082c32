// Package engine defines the boundary with the behavior engine proper: the
// combinator compiler and signal algebra live outside this runtime and are
// reached only through the small interfaces here. The runtime pushes
// timestamped update events over a Link and drives per-partition work
// through a Stepper; it never inspects signal semantics itself.
package engine

import (
	"log/slog"
	"sync"
	"time"
)

// Span is one activity interval of the application signal. A zero Until
// means the span is open-ended.
type Span struct {
	Active bool
	From   time.Time
	Until  time.Time
}

// SignalDesc is the abstract signal description attached to an update
// event. The runtime only ever produces activity spans; richer descriptions
// belong to the behavior engine.
type SignalDesc struct {
	Spans []Span
}

// AlwaysActive describes a signal that is active from t onward.
func AlwaysActive(t time.Time) SignalDesc {
	return SignalDesc{Spans: []Span{{Active: true, From: t}}}
}

// Restart describes an application that was effectively down for
// [from, until) and resumes afterward.
func Restart(from, until time.Time) SignalDesc {
	return SignalDesc{Spans: []Span{
		{Active: false, From: from, Until: until},
		{Active: true, From: until},
	}}
}

// Deactivate describes a signal that goes inactive at t and stays so.
func Deactivate(t time.Time) SignalDesc {
	return SignalDesc{Spans: []Span{{Active: false, From: t}}}
}

// Idle is the no-op description used when an update only advances the
// stable time.
func Idle() SignalDesc {
	return SignalDesc{}
}

// Link accepts timestamped update events destined for the behavior engine.
// The runtime calls a given link only from its partition's processing
// thread and never advances its stable time backwards.
type Link interface {
	Push(stable, at time.Time, desc SignalDesc)
}

// Behavior is the hook through which the embedding supplies the compiled
// user program for a partition. The runtime calls it once, before the
// first maintenance tick, with the link it will keep updating.
type Behavior func(link Link)

// Stepper is the contract between a partition's scheduler and the external
// thread driving it. RunPending processes all currently queued work and
// returns; OnMorePendingWork registers a one-shot notification fired when
// new work arrives, letting the driving thread sleep instead of busy-poll.
type Stepper interface {
	RunPending()
	OnMorePendingWork(fn func())
}

// LogLink is the default Link: it records updates to the logger at debug
// level. A stable-time regression indicates a bug in the caller; it is
// clamped and logged rather than propagated.
type LogLink struct {
	logger *slog.Logger

	mu     sync.Mutex
	stable time.Time
}

// NewLogLink creates a LogLink writing to logger.
func NewLogLink(logger *slog.Logger) *LogLink {
	return &LogLink{logger: logger}
}

// Push implements Link.
func (l *LogLink) Push(stable, at time.Time, desc SignalDesc) {
	l.mu.Lock()
	if stable.Before(l.stable) {
		l.logger.Warn("update link: stable time regressed, clamping",
			"stable", stable, "previous", l.stable)
		stable = l.stable
	}
	l.stable = stable
	l.mu.Unlock()

	l.logger.Debug("update pushed", "stable", stable, "at", at, "spans", len(desc.Spans))
}

// Stable returns the most recently pushed stable time.
func (l *LogLink) Stable() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stable
}

// Recorded is one captured update event.
type Recorded struct {
	Stable time.Time
	At     time.Time
	Desc   SignalDesc
}

// RecordingLink captures every pushed update; tests assert against the
// recorded sequence.
type RecordingLink struct {
	mu      sync.Mutex
	updates []Recorded
}

// Push implements Link.
func (l *RecordingLink) Push(stable, at time.Time, desc SignalDesc) {
	l.mu.Lock()
	l.updates = append(l.updates, Recorded{Stable: stable, At: at, Desc: desc})
	l.mu.Unlock()
}

// Updates returns a snapshot of everything pushed so far.
func (l *RecordingLink) Updates() []Recorded {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Recorded, len(l.updates))
	copy(out, l.updates)
	return out
}
