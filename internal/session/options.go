package session

import (
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"torrentsession/internal/domain"
	"torrentsession/internal/telemetry"
)

type options struct {
	config       *domain.SessionConfiguration
	logger       *slog.Logger
	tracer       trace.Tracer
	pollInterval time.Duration
	alertBacklog int
	now          func() time.Time
}

func defaultOptions() options {
	return options{
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:       telemetry.Tracer(),
		pollInterval: defaultPollInterval,
		alertBacklog: defaultAlertBacklog,
		now:          time.Now,
	}
}

type Option func(*options)

// WithConfiguration creates the engine session with explicit settings
// instead of the engine defaults.
func WithConfiguration(cfg domain.SessionConfiguration) Option {
	return func(o *options) { o.config = &cfg }
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithPollInterval sets how often pending engine alerts are flushed.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithAlertBacklog bounds the number of alerts waiting to be fanned out.
func WithAlertBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.alertBacklog = n
		}
	}
}

func withClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}
