package watch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vk/reflow/internal/pulse"
	"github.com/vk/reflow/internal/workerpool"
)

// fileState is the per-file snapshot the poller diffs between scans.
type fileState struct {
	modTime time.Time
	size    int64
}

// polled tracks one watched directory.
type polled struct {
	ch       chan Event
	snapshot map[string]fileState
	scanning bool
}

// Poller is the fallback Backend for platforms without a usable OS
// notification facility. It is heartbeat-driven: each beat submits one
// scan task per watched directory to the worker pool, so blocking
// directory I/O runs on pool workers, never on the processing thread, and
// total scan concurrency stays bounded by the pool's capacity.
type Poller struct {
	logger *slog.Logger
	pool   *workerpool.Pool

	mu     sync.Mutex
	dirs   map[string]*polled
	closed bool
}

// NewPoller creates a polling backend that scans on the given pool.
func NewPoller(logger *slog.Logger, pool *workerpool.Pool) *Poller {
	return &Poller{
		logger: logger,
		pool:   pool,
		dirs:   make(map[string]*polled),
	}
}

// Watch implements Backend. The initial snapshot is taken immediately so
// that files existing before the watch never show up as created.
func (p *Poller) Watch(dir string) (<-chan Event, error) {
	dir = filepath.Clean(dir)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("watch: backend closed")
	}
	if d, ok := p.dirs[dir]; ok {
		return d.ch, nil
	}

	snapshot, err := scanDir(dir)
	if err != nil {
		return nil, fmt.Errorf("watch: initial scan of %s: %w", dir, err)
	}
	d := &polled{ch: make(chan Event, 64), snapshot: snapshot}
	p.dirs[dir] = d
	return d.ch, nil
}

// Unwatch implements Backend.
func (p *Poller) Unwatch(dir string) error {
	dir = filepath.Clean(dir)

	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.dirs[dir]
	if !ok {
		return nil
	}
	delete(p.dirs, dir)
	close(d.ch)
	return nil
}

// Close implements Backend.
func (p *Poller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for dir, d := range p.dirs {
		close(d.ch)
		delete(p.dirs, dir)
	}
	return nil
}

// OnBeat implements pulse.Sink: every heartbeat kicks off at most one scan
// per directory. A directory whose previous scan is still running is
// skipped until it finishes.
func (p *Poller) OnBeat(_ pulse.Beat) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for dir, d := range p.dirs {
		if d.scanning {
			continue
		}
		d.scanning = true
		p.pool.Submit(func() { p.scan(dir, d) })
	}
}

// scan diffs the directory against its previous snapshot and emits the
// changes. Runs on a pool worker.
func (p *Poller) scan(dir string, d *polled) {
	now := time.Now()
	next, err := scanDir(dir)

	p.mu.Lock()
	defer p.mu.Unlock()
	d.scanning = false
	if p.closed || p.dirs[dir] != d {
		return // unwatched while scanning
	}
	if err != nil {
		p.logger.Warn("poll scan failed", "dir", dir, "error", err)
		return
	}

	for name, st := range next {
		prev, existed := d.snapshot[name]
		switch {
		case !existed:
			p.emit(d, Event{Path: filepath.Join(dir, name), Op: Create, At: now})
		case st.modTime != prev.modTime || st.size != prev.size:
			p.emit(d, Event{Path: filepath.Join(dir, name), Op: Write, At: now})
		}
	}
	for name := range d.snapshot {
		if _, ok := next[name]; !ok {
			p.emit(d, Event{Path: filepath.Join(dir, name), Op: Remove, At: now})
		}
	}
	d.snapshot = next
}

func (p *Poller) emit(d *polled, ev Event) {
	select {
	case d.ch <- ev:
	default:
		p.logger.Debug("watch event dropped, subscriber stream full", "path", ev.Path)
	}
}

// scanDir snapshots the regular files directly under dir.
func scanDir(dir string) (map[string]fileState, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]fileState, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue // raced with a concurrent remove
		}
		out[entry.Name()] = fileState{modTime: info.ModTime(), size: info.Size()}
	}
	return out, nil
}
