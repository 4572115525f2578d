package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
)

// Serve runs the HTTP API until ctx is cancelled, then shuts down gracefully.
// In-flight analyses get shutdownGrace to finish.
func (a *App) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.Config.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// an analysis may take the whole run budget plus fetch
		WriteTimeout: a.Config.AnalysisTimeout() + a.Config.FetchTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Infow("server listening", "addr", addr, "version", a.Service.Version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "server error")
	case <-ctx.Done():
	}

	a.Log.Infow("shutting down server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

const shutdownGrace = 30 * time.Second
