package daemon

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Router builds the daemon's HTTP handler: Prometheus metrics, the current
// status as JSON and a rate limited endpoint requesting an immediate sync.
func (d *Daemon) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", d.handleStatus)
	r.With(httprate.LimitByIP(1, 10*time.Second)).Post("/sync", d.handleSync)

	return r
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := d.status.Get()
	st.NextSyncAt = d.scheduler.Next()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(st); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to write status response")
	}
}

func (d *Daemon) handleSync(w http.ResponseWriter, _ *http.Request) {
	d.scheduler.Trigger()
	w.WriteHeader(http.StatusAccepted)
}

// serveHTTP listens on addr until ctx is cancelled.
func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("HTTP server shutdown error")
		}
	}()

	logger.Info().Str("addr", addr).Msg("Serving metrics and status")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
