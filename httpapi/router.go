package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/pyroalert/authcore"
	"github.com/pyroalert/authcore/middleware"
)

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if s.trustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(s.accessLog)
	r.Use(chimiddleware.Recoverer)
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(chimiddleware.Timeout(s.requestTimeout))
	r.Use(s.clientContext)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	authenticate := middleware.Authenticate(s.engine)

	r.Route("/oauth", func(r chi.Router) {
		r.Post("/token", s.handleToken)
		r.Post("/revoke", s.handleRevoke)
		r.Post("/introspect", s.handleIntrospect)
		r.With(authenticate).Post("/revoke-all", s.handleRevokeAll)
	})

	r.Route("/2fa", func(r chi.Router) {
		r.Use(authenticate)
		r.Post("/setup", s.handleTwoFactorSetup)
		r.Post("/verify", s.handleTwoFactorVerify)
		r.Post("/disable", s.handleTwoFactorDisable)
		r.Delete("/", s.handleTwoFactorDisable)
		r.Post("/recovery-codes", s.handleRecoveryCodes)
		r.Get("/status", s.handleTwoFactorStatus)
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.With(middleware.RequireScope("read")).Get("/me", s.handleMe)
			r.Post("/password", s.handleChangePassword)
			r.Post("/email", s.handleChangeEmail)
			r.Delete("/account", s.handleDeleteAccount)
		})
	})

	return otelhttp.NewHandler(r, "authcore",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// clientContext records the caller's IP and user agent for rate limiting,
// audit events and refresh token metadata.
func (s *Server) clientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(ip); err == nil {
			ip = host
		}
		ctx := authcore.WithClientIP(r.Context(), ip)
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_ip", r.RemoteAddr),
			zap.String("request_id", requestID(r)),
		)
	})
}

func requestID(r *http.Request) string {
	return chimiddleware.GetReqID(r.Context())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	if err := s.engine.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "time": now})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "time": now})
}
