package hcl

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/reflow/internal/config"
	"github.com/vk/reflow/internal/ctxlog"
)

func testCtx() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reflow.hcl")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadWithoutPathReturnsDefaults(t *testing.T) {
	model, err := NewLoader().Load(testCtx(), "")
	require.NoError(t, err)
	if diff := cmp.Diff(config.Default(), model); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
runtime {
  heartbeat_interval = "250ms"
  restart_threshold  = "30s"
  grace_delay        = "5s"
  finalize_delay     = "4s"
  worker_capacity    = 16
}

pulse "dashboard" {
  url       = "wss://ops.example.com/socket.io"
  namespace = "/reflow"
}

watch {
  poll = true
  dirs = ["in", "out"]
}
`)

	model, err := NewLoader().Load(testCtx(), path)
	require.NoError(t, err)

	want := &config.Model{
		Tuning: config.Tuning{
			Heartbeat: 250 * time.Millisecond,
			Restart:   30 * time.Second,
			Grace:     5 * time.Second,
			Finalize:  4 * time.Second,
		},
		Workers: 16,
		Pulses: []config.PulseSink{
			{Name: "dashboard", URL: "wss://ops.example.com/socket.io", Namespace: "/reflow"},
		},
		Watch: config.Watch{Poll: true, Dirs: []string{"in", "out"}},
	}
	if diff := cmp.Diff(want, model); diff != "" {
		t.Errorf("model mismatch (-want +got):\n%s", diff)
	}
}

func TestOmittedSettingsKeepDefaults(t *testing.T) {
	path := writeConfig(t, `
runtime {
  worker_capacity = 4
}
`)
	model, err := NewLoader().Load(testCtx(), path)
	require.NoError(t, err)

	assert.Equal(t, 4, model.Workers)
	assert.Equal(t, config.Default().Tuning, model.Tuning)
}

func TestPulseNamespaceDefaultsToRoot(t *testing.T) {
	path := writeConfig(t, `
pulse "x" {
  url = "ws://localhost:3000"
}
`)
	model, err := NewLoader().Load(testCtx(), path)
	require.NoError(t, err)
	require.Len(t, model.Pulses, 1)
	assert.Equal(t, "/", model.Pulses[0].Namespace)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"malformed duration": `runtime { heartbeat_interval = "soon" }`,
		"zero heartbeat":     `runtime { heartbeat_interval = "0s" }`,
		"negative workers":   `runtime { worker_capacity = -1 }`,
		"pulse without url":  `pulse "x" {}`,
		"unknown block":      `nonsense {}`,
		"syntax error":       `runtime {`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewLoader().Load(testCtx(), writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
