package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/pyroalert/authcore"
)

const (
	maxBodyBytes            = 1 << 20
	defaultRequestTimeout   = 15 * time.Second
	gracefulShutdownTimeout = 10 * time.Second
)

// Deps holds what the server needs.
type Deps struct {
	Engine *authcore.Engine
	Logger *zap.Logger
	// Metrics serves /metrics when set.
	Metrics        http.Handler
	CORSOrigins    []string
	RequestTimeout time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	// Enable it only behind a proxy that overwrites those headers.
	TrustProxy bool
}

// Server routes HTTP requests to an Engine.
type Server struct {
	engine         *authcore.Engine
	logger         *zap.Logger
	metrics        http.Handler
	corsOrigins    []string
	requestTimeout time.Duration
	trustProxy     bool
	handler        http.Handler
}

// New builds the router. The server does not listen until ListenAndServe.
func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	s := &Server{
		engine:         deps.Engine,
		logger:         logger,
		metrics:        deps.Metrics,
		corsOrigins:    deps.CORSOrigins,
		requestTimeout: timeout,
		trustProxy:     deps.TrustProxy,
	}
	s.handler = s.buildRouter()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.requestTimeout + 5*time.Second,
		WriteTimeout:      s.requestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
