package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/vk/dapgrid/internal/ctxlog"
	"golang.org/x/sync/errgroup"
)

// Run serves the API until ctx is cancelled or the server fails, then shuts
// down in order: stop accepting connections, drain submissions, release the
// namespace.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	ln, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		closeErr := a.Close(context.Background())
		return errors.Join(fmt.Errorf("failed to listen on %s: %w", a.config.ListenAddr, err), closeErr)
	}

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("🚀 Server starting", "address", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown(srv)
	})

	err = g.Wait()
	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

// shutdown stops srv and closes the app within the shutdown timeout.
func (a *App) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	ctx = ctxlog.WithLogger(ctx, a.logger)

	a.logger.Info("🛑 Shutting down server...")
	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Error("Server shutdown failed", "error", err)
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}
	if err := a.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("🏁 Server stopped.")
	return errors.Join(errs...)
}
