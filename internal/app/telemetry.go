package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-quotes/internal/config"
	"github.com/noah-isme/backend-quotes/internal/obs"
	"github.com/noah-isme/backend-quotes/internal/resilience"
)

// Telemetry is the logger, collectors and tracer provider of one process.
type Telemetry struct {
	Logger         zerolog.Logger
	TracingEnabled bool

	shutdown func(context.Context) error
}

// InitTelemetry builds the process logger, registers the domain and breaker
// collectors and installs the tracer provider. Tracing failures are logged
// and leave tracing disabled rather than stopping the process.
func InitTelemetry(ctx context.Context, cfg *config.Config, service string) *Telemetry {
	o := cfg.Obs
	logger := obs.NewLogger(o.LogFormat, o.LogLevel).With().
		Str("service", service).
		Str("env", cfg.AppEnv).
		Logger()

	if o.MetricsEnabled {
		obs.MustRegisterDomainMetrics(o.MetricsNamespace, nil)
		if err := resilience.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
			logger.Error().Err(err).Msg("register breaker metrics")
		}
	}

	t := &Telemetry{Logger: logger}
	if !o.TracingEnabled {
		return t
	}
	shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
		ServiceName:    service,
		ServiceVersion: o.ServiceVersion,
		Endpoint:       o.OTLPEndpoint,
		Exporter:       o.TracingExporter,
		SamplingRatio:  o.SamplingRatio,
		Environment:    cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		return t
	}
	t.TracingEnabled = true
	t.shutdown = shutdown
	return t
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) {
	if t.shutdown == nil {
		return
	}
	if err := t.shutdown(ctx); err != nil {
		t.Logger.Error().Err(err).Msg("shutdown tracer")
	}
}
