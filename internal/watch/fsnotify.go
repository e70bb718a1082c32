package watch

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotify is the OS-notification backend: one shared fsnotify watcher
// with per-directory fan-out channels.
type FSNotify struct {
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu     sync.Mutex
	subs   map[string]chan Event
	closed bool
}

// NewFSNotify starts the backend and its routing goroutine.
func NewFSNotify(logger *slog.Logger) (*FSNotify, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: starting fsnotify backend: %w", err)
	}
	f := &FSNotify{
		logger:  logger,
		watcher: w,
		subs:    make(map[string]chan Event),
	}
	go f.route()
	return f, nil
}

// Watch implements Backend.
func (f *FSNotify) Watch(dir string) (<-chan Event, error) {
	dir = filepath.Clean(dir)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("watch: backend closed")
	}
	if ch, ok := f.subs[dir]; ok {
		return ch, nil
	}
	if err := f.watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watch: watching %s: %w", dir, err)
	}
	ch := make(chan Event, 64)
	f.subs[dir] = ch
	return ch, nil
}

// Unwatch implements Backend.
func (f *FSNotify) Unwatch(dir string) error {
	dir = filepath.Clean(dir)

	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[dir]
	if !ok {
		return nil
	}
	delete(f.subs, dir)
	close(ch)
	if err := f.watcher.Remove(dir); err != nil {
		return fmt.Errorf("watch: unwatching %s: %w", dir, err)
	}
	return nil
}

// Close implements Backend. It stops the OS watcher and closes every
// subscriber stream.
func (f *FSNotify) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	// Closing the watcher ends the routing goroutine, which closes the
	// subscriber channels.
	return f.watcher.Close()
}

// route forwards OS events to the matching directory stream until the
// watcher closes.
func (f *FSNotify) route() {
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				f.closeSubs()
				return
			}
			f.deliver(ev)
		case err, ok := <-f.watcher.Errors:
			if !ok {
				f.closeSubs()
				return
			}
			f.logger.Warn("watch backend error", "error", err)
		}
	}
}

func (f *FSNotify) deliver(ev fsnotify.Event) {
	out := Event{Path: ev.Name, At: time.Now()}
	switch {
	case ev.Has(fsnotify.Create):
		out.Op = Create
	case ev.Has(fsnotify.Write):
		out.Op = Write
	case ev.Has(fsnotify.Remove):
		out.Op = Remove
	case ev.Has(fsnotify.Rename):
		out.Op = Rename
	case ev.Has(fsnotify.Chmod):
		out.Op = Chmod
	default:
		return
	}

	dir := filepath.Dir(ev.Name)

	// The lock is held across the send: Unwatch closes subscriber channels
	// under the same lock, so the send can never hit a closed channel.
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[dir]
	if !ok {
		return
	}

	select {
	case ch <- out:
	default:
		// A consumer that stopped draining must not stall the router.
		f.logger.Debug("watch event dropped, subscriber stream full", "dir", dir, "path", ev.Name)
	}
}

func (f *FSNotify) closeSubs() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for dir, ch := range f.subs {
		close(ch)
		delete(f.subs, dir)
	}
}
