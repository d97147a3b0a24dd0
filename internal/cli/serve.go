package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filechat/internal/log"
)

// ServeCmd starts the local gateway.
// Usage: filechat serve --addr 127.0.0.1:8090
type ServeCmd struct {
	Addr string `short:"a" long:"addr" description:"listen address (defaults to gateway_address from config)"`

	rt *Runner
}

func (s *ServeCmd) Execute(_ []string) error {
	a, err := s.rt.open()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sc, ok, err := a.Restore(ctx); err != nil {
		log.Warnf("restore session: %v", err)
	} else if ok {
		log.Infof("restored session for %s", sc.CurrentUser.Username)
	}

	addr := s.Addr
	if addr == "" {
		addr = a.Config.BasicConfig.GatewayAddress
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Gateway(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("filechat gateway listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Infof("shutting down gateway")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
