// Package pulse fans lifecycle heartbeats out to interested sinks. The
// lifecycle driver emits one Beat per maintenance tick; sinks use them to
// drive periodic work (the polling file watcher) or to surface liveness
// externally (logs, a monitoring endpoint).
package pulse

import (
	"log/slog"
	"time"
)

// Beat is one heartbeat of a partition's maintenance loop.
type Beat struct {
	At    time.Time
	Phase string
	RunID string
	Seq   uint64
}

// Sink consumes heartbeats. OnBeat is called from the partition's
// processing thread and must not block.
type Sink interface {
	OnBeat(b Beat)
}

// Fanout forwards each beat to every sink in order.
type Fanout []Sink

// OnBeat implements Sink.
func (f Fanout) OnBeat(b Beat) {
	for _, s := range f {
		s.OnBeat(b)
	}
}

// LogSink writes each beat to the logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// OnBeat implements Sink.
func (s *LogSink) OnBeat(b Beat) {
	s.Logger.Debug("heartbeat", "seq", b.Seq, "phase", b.Phase, "at", b.At, "run_id", b.RunID)
}
