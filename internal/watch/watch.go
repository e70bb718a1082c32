// Package watch provides the file-change capability consumed by the
// behavior engine: an abstract per-directory event stream with pluggable
// platform backends. The fsnotify backend rides the OS notification
// facility; the polling backend is contractually equivalent but less
// timely, trading latency for portability.
package watch

import "time"

// Op classifies a file change.
type Op uint8

const (
	Create Op = iota + 1
	Write
	Remove
	Rename
	Chmod
)

// String implements fmt.Stringer.
func (o Op) String() string {
	switch o {
	case Create:
		return "create"
	case Write:
		return "write"
	case Remove:
		return "remove"
	case Rename:
		return "rename"
	case Chmod:
		return "chmod"
	default:
		return "unknown"
	}
}

// Event is one observed change under a watched directory.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Backend watches directories for changes. Watch returns the event stream
// for dir, creating the watch on first call and returning the same stream
// afterwards; Unwatch tears the watch down and closes the stream.
type Backend interface {
	Watch(dir string) (<-chan Event, error)
	Unwatch(dir string) error
	Close() error
}
