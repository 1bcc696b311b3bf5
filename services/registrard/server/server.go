package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"caregistrar/native/names"
	"caregistrar/observability"
	"caregistrar/services/registrard/journal"
	"caregistrar/services/registrard/registrar"
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddress string
	FeedID        string
	RateLimit     RateLimit
	Auth          AuthConfig
}

// Journal is the read side of the event journal.
type Journal interface {
	Recent(ctx context.Context, limit int, name string) ([]journal.Entry, error)
}

// Server exposes the registrar over HTTP.
type Server struct {
	cfg     Config
	reg     *registrar.Registrar
	journal Journal
	stream  http.Handler
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger
	feedID  string
	router  http.Handler
}

// New constructs a server. journal and stream are optional.
func New(cfg Config, reg *registrar.Registrar, journal Journal, stream http.Handler, logger *slog.Logger) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registrar required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return nil, fmt.Errorf("configure auth: %w", err)
	}
	feedID := strings.TrimSpace(cfg.FeedID)
	if feedID == "" {
		feedID = names.DefaultFeedID
	}
	srv := &Server{
		cfg:     cfg,
		reg:     reg,
		journal: journal,
		stream:  stream,
		auth:    auth,
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  logger,
		feedID:  feedID,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(public chi.Router) {
			public.Use(s.limiter.Middleware)
			public.Get("/registry", s.handleRegistry)
			public.Get("/domains/{name}", s.handleGetDomain)
			public.Get("/quote", s.handleQuote)
			public.Get("/accounts/{addr}/balance", s.handleBalance)
			public.Get("/events", s.handleEvents)
		})
		if s.stream != nil {
			api.Handle("/events/stream", s.stream)
		}

		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Use(s.limiter.Middleware)
			protected.Post("/domains", s.handleRegister)
			protected.Post("/domains/{name}/renew", s.handleRenew)
			protected.Post("/domains/{name}/buy", s.handleBuy)
			protected.Post("/domains/{name}/transfer", s.handleTransfer)
			protected.Put("/domains/{name}/addresses", s.handleUpdateAddresses)

			protected.Route("/admin", func(admin chi.Router) {
				admin.Post("/price", s.handleSetPrice)
				admin.Post("/grace-period", s.handleSetGracePeriod)
				admin.Post("/authority", s.handleSetAuthority)
				admin.Post("/pause", s.handleSetPaused)
				admin.Post("/withdraw", s.handleWithdraw)
				admin.Post("/expiry", s.handleSetExpiry)
				admin.Post("/credit", s.handleCredit)
			})
		})
	})

	return otelhttp.NewHandler(r, "registrard.http")
}

// observe records request latency by route pattern and logs each request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.HTTP().Observe(route, r.Method, status, elapsed)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("route", route),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", chimw.GetReqID(r.Context())))
	})
}

// Run starts the HTTP server and blocks until context cancellation.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("server not configured")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("registrard: http server listening", slog.String("addr", s.cfg.ListenAddress))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}
