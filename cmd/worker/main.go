package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quotes/internal/app"
	"github.com/noah-isme/backend-quotes/internal/config"
	"github.com/noah-isme/backend-quotes/internal/document"
	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/health"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

const serviceName = "quotes-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	tel := app.InitTelemetry(context.Background(), cfg, serviceName)
	defer tel.Shutdown(context.Background())
	logger := tel.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
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

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse asynq redis uri")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
		Queues: map[string]int{
			document.QueueName: 6,
			events.QueueName:   4,
			"default":          2,
		},
		Logger:          asynqLogger{logger: logger},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error().Err(err).Str("task", task.Type()).Msg("task failed")
		}),
	})
	mux := asynq.NewServeMux()
	deps.Documents.Register(mux)
	deps.Quotes.Register(mux)
	if deps.Webhook != nil {
		deps.Webhook.Register(mux)
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: asynqLogger{logger: logger}})
	if _, err := scheduler.Register(cfg.QuoteExpiryCron, quote.NewExpireTask()); err != nil {
		logger.Fatal().Err(err).Str("cron", cfg.QuoteExpiryCron).Msg("register expiry schedule")
	}

	var ops *http.Server
	if cfg.Obs.WorkerOpsAddr != "" {
		ops = newOpsServer(cfg, deps)
		go func() {
			if err := ops.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("ops server stopped")
			}
		}()
	}

	if err := scheduler.Start(); err != nil {
		logger.Fatal().Err(err).Msg("start scheduler")
	}
	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker starting")

	<-ctx.Done()
	health.SetReady(false)
	logger.Info().Msg("worker shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Obs.ShutdownTimeout)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}
	logger.Info().Msg("worker shutdown complete")
}

func newOpsServer(cfg *config.Config, deps *app.Dependencies) *http.Server {
	hh := health.Handler{
		Checker:      health.Probes{DB: deps.DB, Redis: deps.Redis},
		DBTimeout:    cfg.Obs.ReadyDBTimeout,
		RedisTimeout: cfg.Obs.ReadyRedisTimeout,
	}
	mux := http.NewServeMux()
	if cfg.Obs.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/health/live", hh.Live)
	mux.HandleFunc("/health/ready", hh.Ready)
	return &http.Server{Addr: cfg.Obs.WorkerOpsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

// asynqLogger adapts zerolog to asynq.Logger.
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(join(args)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(join(args)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(join(args)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(join(args)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(join(args)) }

func join(args []any) string {
	return strings.TrimSpace(fmt.Sprint(args...))
}
