// Package config defines the format-agnostic runtime configuration model
// and the Loader interface concrete formats implement. The rest of the
// runtime consumes only this model; the HCL front-end lives in
// internal/hcl.
package config

import (
	"context"
	"time"
)

// Tuning holds the lifecycle timing constants.
type Tuning struct {
	Heartbeat time.Duration
	Restart   time.Duration
	Grace     time.Duration
	Finalize  time.Duration
}

// PulseSink configures one external heartbeat endpoint.
type PulseSink struct {
	Name      string
	URL       string
	Namespace string
}

// Watch configures the file-change capability.
type Watch struct {
	// Poll forces the polling backend even where OS notification is
	// available.
	Poll bool
	Dirs []string
}

// Model is the complete runtime configuration.
type Model struct {
	Tuning  Tuning
	Workers int
	Pulses  []PulseSink
	Watch   Watch
}

// Default returns the stock configuration used when no file is given.
func Default() *Model {
	return &Model{
		Tuning: Tuning{
			Heartbeat: time.Second,
			Restart:   10 * time.Second,
			Grace:     2 * time.Second,
			Finalize:  2 * time.Second,
		},
		Workers: 8,
	}
}

// Loader loads a configuration file into the model.
type Loader interface {
	Load(ctx context.Context, path string) (*Model, error)
}
