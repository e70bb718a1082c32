package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/google/uuid"

	"github.com/vk/reflow/internal/config"
	"github.com/vk/reflow/internal/ctxlog"
	"github.com/vk/reflow/internal/lifecycle"
)

// Config holds the process-level settings for an App instance.
type Config struct {
	ConfigPath      string // optional HCL runtime configuration
	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	Workers         int // overrides the configured worker capacity when > 0
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Workers < 0 {
		return nil, errors.New("workers must not be negative")
	}
	if cfg.HealthcheckPort < 0 {
		return nil, errors.New("healthcheck port must not be negative")
	}
	return &cfg, nil
}

// App encapsulates the runtime's dependencies, configuration, and
// lifecycle.
type App struct {
	outW       io.Writer
	logger     *slog.Logger
	model      *config.Model
	runID      string
	healthPort int

	driver     *lifecycle.Driver
	httpServer *http.Server

	// signals overrides the interrupt source; nil installs the OS notifier.
	signals chan os.Signal
}

// NewApp constructs the application with its own isolated logger and a
// fully loaded configuration model. A configuration that cannot be loaded
// is a fatal startup error.
func NewApp(outW io.Writer, appConfig *Config, loader config.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)

	model, err := loader.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if appConfig.Workers > 0 {
		model.Workers = appConfig.Workers
	}
	logger.Debug("configuration resolved.", "workers", model.Workers)

	return &App{
		outW:       outW,
		logger:     logger,
		model:      model,
		runID:      uuid.NewString(),
		healthPort: appConfig.HealthcheckPort,
	}
}

// RunID returns this process run's identifier.
func (a *App) RunID() string {
	return a.runID
}

// Model returns the resolved configuration. Primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}
