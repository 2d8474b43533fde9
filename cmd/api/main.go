package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/backend-quotes/internal/app"
	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/config"
	"github.com/noah-isme/backend-quotes/internal/health"
	"github.com/noah-isme/backend-quotes/internal/migrations"
	"github.com/noah-isme/backend-quotes/internal/obs"
	"github.com/noah-isme/backend-quotes/internal/portal"
	"github.com/noah-isme/backend-quotes/internal/quote"
	"github.com/noah-isme/backend-quotes/internal/ratelimit"
	"github.com/noah-isme/backend-quotes/internal/security"
)

const serviceName = "quotes-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	tel := app.InitTelemetry(context.Background(), cfg, serviceName)
	defer tel.Shutdown(context.Background())
	logger := tel.Logger

	if cfg.MigrationsAuto {
		version, err := migrations.Up(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Uint("version", version).Msg("migrations applied")
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	deps, err := app.Open(startCtx, cfg, logger, app.Options{ApplicationName: serviceName, RedisMetrics: cfg.Obs.MetricsEnabled})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	router, err := newRouter(cfg, deps, logger, tel.TracingEnabled)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
		health.SetReady(false)
		logger.Info().Dur("timeout", cfg.Obs.ShutdownTimeout).Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Obs.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func newRouter(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger, tracing bool) (http.Handler, error) {
	tokens, err := portal.NewTokenIssuer(portal.TokenConfig{
		Secret: cfg.PortalTokenSecret,
		Issuer: cfg.PortalIssuer,
		TTL:    cfg.PortalTokenTTL,
	})
	if err != nil {
		return nil, err
	}
	portalHandler := &portal.Handler{
		Tokens: tokens,
		Quotes: deps.Quotes,
		Logger: logger.With().Str("component", "portal").Logger(),
	}
	quoteHandler := quote.NewHandler(quote.HandlerConfig{
		Service:   deps.Quotes,
		Documents: deps.Documents,
		Links:     tokens,
		History:   deps.Bus,
	})

	limiter, err := ratelimit.New(cfg.RateLimitStrategy, deps.Redis, "rl:")
	if err != nil {
		return nil, err
	}
	rateLimit := ratelimit.Handler{
		Limiter: limiter,
		Config:  ratelimit.Config{Key: ratelimit.ByClientIP, Window: cfg.RateLimitWindow, Max: cfg.RateLimitMax},
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	if tracing {
		r.Use(obs.TracingMiddleware)
	}
	if cfg.Obs.MetricsEnabled {
		metrics := obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBucketsMS), nil)
		r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders: []string{"Link", "X-Total-Count"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{
		Enable:                cfg.SecurityHeaders,
		EnableHSTS:            cfg.AppEnv == "production",
		HSTSMaxAge:            31536000,
		HSTSIncludeSubdomains: true,
		ContentSecurityPolicy: security.DefaultCSP,
		NoStorePrefixes:       []string{"/portal/"},
	}.Middleware)

	if cfg.Obs.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		guard := security.BasicAuth{User: cfg.Obs.PprofUser, Pass: cfg.Obs.PprofPass}
		r.Mount("/debug/pprof", guard.Middleware(obs.PprofHandler()))
	}

	hh := health.Handler{
		Checker:      health.Probes{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    cfg.Obs.ReadyDBTimeout,
		RedisTimeout: cfg.Obs.ReadyRedisTimeout,
	}
	r.Get("/health/live", hh.Live)
	r.Get("/health/ready", hh.Ready)

	r.Group(func(g chi.Router) {
		g.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)
		g.Use(rateLimit.Middleware)
		g.Mount("/api/v1/quotes", quoteHandler.Routes(idem.Middleware))
		g.Mount("/portal", portalHandler.Routes())
	})
	return r, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}
