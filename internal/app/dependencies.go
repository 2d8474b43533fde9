package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quotes/internal/common"
	"github.com/noah-isme/backend-quotes/internal/config"
	"github.com/noah-isme/backend-quotes/internal/document"
	"github.com/noah-isme/backend-quotes/internal/events"
	"github.com/noah-isme/backend-quotes/internal/lock"
	"github.com/noah-isme/backend-quotes/internal/obs"
	"github.com/noah-isme/backend-quotes/internal/quote"
)

// Dependencies holds the connections and services shared by the API and the
// worker.
type Dependencies struct {
	DB         *pgxpool.Pool
	Redis      *redis.Client
	TaskClient *asynq.Client
	Bus        *events.Bus
	Quotes     *quote.Service
	Documents  *document.Service
	// Webhook delivers queued events; nil when WEBHOOK_URL is unset.
	Webhook *events.WebhookNotifier
}

// Options tunes Open for a given process.
type Options struct {
	// ApplicationName is reported to Postgres as application_name.
	ApplicationName string
	RedisMetrics    bool
}

// Open connects to Postgres and Redis and builds the quote and document
// services on top of them.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	pool, err := OpenPostgres(ctx, cfg.DatabaseURL, opts.ApplicationName)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.RedisURL, opts.RedisMetrics, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		pool.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("parse asynq redis uri: %w", err)
	}
	tasks := asynq.NewClient(redisOpt)

	var webhook *events.WebhookNotifier
	notifiers := []events.Notifier{events.LogNotifier{Logger: logger.With().Str("component", "events").Logger()}}
	if cfg.WebhookURL != "" {
		hook, err := events.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookSecret, cfg.WebhookTimeout, cfg.WebhookMaxAttempts)
		if err != nil {
			pool.Close()
			_ = rdb.Close()
			_ = tasks.Close()
			return nil, err
		}
		hook.Topics = cfg.WebhookTopics
		webhook = hook
		notifiers = append(notifiers, events.WebhookQueue{Tasks: tasks, Topics: cfg.WebhookTopics})
	}
	bus := &events.Bus{Store: events.PGStore{DB: pool}, Notifiers: notifiers}

	quotes := &quote.Service{
		Store:     quote.NewPGStore(pool),
		Cache:     quote.NewCache(rdb, cfg.QuoteCacheTTL),
		Locker:    lock.Locker{R: rdb, RetryBackoff: cfg.LockRetryBackoff, MaxWait: cfg.LockMaxWait, Prefix: "lock:"},
		Events:    bus,
		Validator: common.NewValidator(),
		Logger:    logger.With().Str("component", "quote").Logger(),
		Settings: quote.Settings{
			DefaultTaxRate: cfg.QuoteDefaultTaxRate,
			Validity:       cfg.QuoteValidity,
			NumberPrefix:   cfg.QuoteNumberPrefix,
			DefaultLimit:   cfg.QuoteDefaultLimit,
			MaxLimit:       cfg.QuoteMaxLimit,
			LockTTL:        cfg.LockTTL,
		},
	}
	documents := &document.Service{
		Quotes:    quotes,
		Store:     document.PGStore{DB: pool},
		Generator: &document.Generator{CompanyName: cfg.CompanyName, CurrencyCode: cfg.CurrencyCode},
		Tasks:     tasks,
		Events:    bus,
		Logger:    logger.With().Str("component", "document").Logger(),
	}

	return &Dependencies{
		DB:         pool,
		Redis:      rdb,
		TaskClient: tasks,
		Bus:        bus,
		Quotes:     quotes,
		Documents:  documents,
		Webhook:    webhook,
	}, nil
}

// Close releases every connection held by d.
func (d *Dependencies) Close() error {
	if d == nil {
		return nil
	}
	var joined error
	if d.TaskClient != nil {
		joined = errors.Join(joined, d.TaskClient.Close())
	}
	if d.Redis != nil {
		joined = errors.Join(joined, d.Redis.Close())
	}
	if d.DB != nil {
		d.DB.Close()
	}
	return joined
}

// OpenPostgres builds a traced pgx pool and verifies connectivity.
func OpenPostgres(ctx context.Context, databaseURL, applicationName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if applicationName != "" {
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// OpenRedis builds an instrumented Redis client and verifies connectivity.
// Instrumentation failures are logged, not fatal.
func OpenRedis(ctx context.Context, redisURL string, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
