package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/your-org/dca-drawdown-sim/pkg/logger"
	"go.uber.org/zap"
)

// Serve runs the status API on addr until ctx is done, then shuts it down.
func Serve(ctx context.Context, addr string, h http.Handler, l *zap.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveListener(ctx, ln, h, l)
}

func serveListener(ctx context.Context, ln net.Listener, h http.Handler, l *zap.Logger) error {
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	l.Info("Status server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		l.Error("Status server failed", logger.Event(logger.EventStatusServer), zap.Error(err))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
