package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"classauth/internal/authz/credentials"
	"classauth/internal/authz/handler"
	"classauth/internal/authz/service"
	"classauth/internal/classroom"
	"classauth/internal/identity"
	"classauth/internal/platform/config"
	"classauth/internal/platform/httpserver"
	"classauth/internal/platform/logger"
	"classauth/internal/platform/metrics"
	"classauth/internal/platform/middleware"
	"classauth/internal/provider/google"
	"classauth/internal/session"
	"classauth/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "classauth:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Session.UsingDevSecret() {
		log.Warn("SESSION_SECRET not set; using the development secret", "env", cfg.Env)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	var deps dependencies
	defer deps.close(log)

	backend, err := deps.openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("credential store ready", "backend", backend.Name())

	auditor, err := deps.openAudit(ctx, cfg, log)
	if err != nil {
		return err
	}

	provider := google.New(cfg.Google.ClientID, cfg.Google.ClientSecret)
	creds := credentials.New(backend,
		credentials.WithRevoker(provider),
		credentials.WithLogger(log),
		credentials.WithMetrics(m),
	)
	verifier := identity.New(ctx, cfg.Google.ClientID,
		identity.WithIssuers(cfg.Google.Issuers...),
		identity.WithLogger(log),
	)
	sessions := session.NewManager(cfg.Session.Secret,
		session.WithTTL(cfg.Session.TTL),
		session.WithSecureCookie(cfg.Session.SecureCookie),
		session.WithLogger(log),
	)
	states := session.NewStateSigner(cfg.Session.Secret, session.WithTTL(cfg.Session.StateTTL))

	svc := service.New(creds, provider, states, cfg.Server.BaseURL,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithAuditPublisher(auditor),
		service.WithIdentityVerifier(verifier),
	)
	lister := classroom.NewLister(classroom.NewAPIFetcherFactory(),
		classroom.WithLogger(log),
		classroom.WithMetrics(m),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))

	r.Get("/healthz", deps.healthHandler)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Group(func(r chi.Router) {
		r.Use(sessions.Middleware)
		handler.New(svc, lister, sessions, log).Register(r)
	})
	mountAdmin(r, cfg, backend, log)

	srv := httpserver.New(cfg.Server.Addr, r, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting classauth", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// mountAdmin exposes operator reporting when a token is configured and the
// backend can answer scope queries.
func mountAdmin(r chi.Router, cfg config.Config, backend credentials.Backend, log *slog.Logger) {
	if cfg.Admin.Token == "" {
		return
	}
	reporter, ok := backend.(handler.ScopeReporter)
	if !ok {
		log.Warn("ADMIN_API_TOKEN set but the credential store cannot report grants", "backend", backend.Name())
		return
	}
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireAdminToken(cfg.Admin.Token, log))
		handler.NewAdmin(reporter, log).Register(r)
	})
}

func (d *dependencies) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]string{}
	code := http.StatusOK
	for name, check := range d.checks {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	httputil.WriteJSON(w, code, map[string]any{"status": http.StatusText(code), "checks": status})
}
