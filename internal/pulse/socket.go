package pulse

import (
	"fmt"
	"log/slog"
	"net/url"
	"sync/atomic"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// SocketSink publishes beats to a monitoring endpoint over socket.io.
// Delivery is fire-and-forget: beats emitted while disconnected are
// dropped, and a connection that keeps failing disables the sink after
// logging once rather than spamming the log on every tick.
type SocketSink struct {
	logger *slog.Logger
	io     *socket.Socket

	connected atomic.Bool
	warned    atomic.Bool
	dropped   atomic.Uint64
}

// NewSocketSink connects to rawURL (the socket.io endpoint) under the given
// namespace and returns a sink emitting "beat" events.
func NewSocketSink(logger *slog.Logger, rawURL, namespace string) (*SocketSink, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("pulse: invalid endpoint URL: %w", err)
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	opts := socket.DefaultOptions()
	if parsedURL.Path != "" {
		opts.SetPath(parsedURL.Path)
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(namespace, opts)

	s := &SocketSink{logger: logger, io: io}

	io.On(types.EventName("connect"), func(...any) {
		s.connected.Store(true)
		s.warned.Store(false)
		logger.Info("pulse endpoint connected", "url", rawURL, "namespace", namespace, "sid", io.Id())
	})
	io.On(types.EventName("disconnect"), func(...any) {
		s.connected.Store(false)
	})
	io.On(types.EventName("connect_error"), func(errs ...any) {
		s.connected.Store(false)
		if s.warned.CompareAndSwap(false, true) {
			logger.Warn("pulse endpoint unreachable, beats will be dropped", "url", rawURL, "error", errs)
		}
	})

	io.Connect()
	return s, nil
}

// OnBeat implements Sink. It never blocks the processing thread.
func (s *SocketSink) OnBeat(b Beat) {
	if !s.connected.Load() {
		s.dropped.Add(1)
		return
	}
	s.io.Emit("beat", map[string]any{
		"at":     b.At.UnixMilli(),
		"phase":  b.Phase,
		"run_id": b.RunID,
		"seq":    b.Seq,
	})
}

// Dropped reports how many beats were discarded while disconnected.
func (s *SocketSink) Dropped() uint64 {
	return s.dropped.Load()
}

// Close disconnects from the endpoint and accounts for beats that never
// made it out.
func (s *SocketSink) Close() error {
	s.io.Disconnect()
	if n := s.Dropped(); n > 0 {
		s.logger.Info("pulse endpoint closed", "dropped_beats", n)
	}
	return nil
}
