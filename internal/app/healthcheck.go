package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vk/reflow/internal/lifecycle"
)

// healthHandler reports the current lifecycle phase. The endpoint stays
// healthy through a graceful shutdown and flips to 503 only at Stopped.
func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	a.logger.Debug("Health check endpoint hit.", "remote_addr", r.RemoteAddr, "path", r.URL.Path)

	phase := lifecycle.Running
	if a.driver != nil {
		phase = a.driver.Phase()
	}
	if phase == lifecycle.Stopped {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	fmt.Fprintln(w, phase.String())
}

// startHealthcheck runs the health check HTTP server when a port is
// configured.
func (a *App) startHealthcheck() {
	if a.healthPort <= 0 {
		a.logger.Debug("Health check server not started: disabled")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.healthHandler)

	addr := fmt.Sprintf(":%d", a.healthPort)
	a.httpServer = &http.Server{Addr: addr, Handler: mux}

	go func() {
		a.logger.Info("health check server starting", "address", fmt.Sprintf("http://localhost%s/health", addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("health check server failed unexpectedly", "error", err)
		}
	}()
}

// closeHealthcheck shuts the server down with a bounded grace period.
func (a *App) closeHealthcheck(ctx context.Context) {
	if a.httpServer == nil {
		return
	}

	// The stop path often arrives with ctx already cancelled; the server
	// still gets its grace period.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("health check server shutdown failed", "error", err)
		return
	}
	a.logger.Debug("Health check server shut down gracefully.")
}
