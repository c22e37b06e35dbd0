package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
)

// App is a running vaultd instance.
type App struct {
	wire *Wire
	srv  *http.Server
}

func New(w *Wire) *App {
	return &App{
		wire: w,
		srv: &http.Server{
			Addr:              w.Config.Server.Address,
			Handler:           w.Server.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully and closes the stores.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.srv.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run over an existing listener.
//
// Steps:
//  1. Serve HTTP and websocket traffic on ln.
//  2. When ctx is done, stop accepting and wait for in-flight requests up to
//     ShutdownTimeout.
//  3. Close the relay, database and cache handles.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	log := a.wire.Logging.GetLogger("app")
	log.Noticef("vaultd listening on %s", ln.Addr())

	errCh := make(chan error, 1)
	go func() { errCh <- a.srv.Serve(ln) }()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Notice("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.wire.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("graceful shutdown: %v", err)
			_ = a.srv.Close()
		}
		<-errCh
	case serveErr = <-errCh:
	}
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}
	return errors.Join(serveErr, a.wire.Close())
}
