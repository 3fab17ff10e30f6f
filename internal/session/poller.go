package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"torrentsession/internal/metrics"
)

const defaultPollInterval = 500 * time.Millisecond

// poller periodically asks the engine to flush pending alerts through the
// registered callback. A failed flush is logged and retried on the next tick.
type poller struct {
	interval time.Duration
	flush    func(ctx context.Context) error
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func startPoller(interval time.Duration, flush func(ctx context.Context) error, logger *slog.Logger) *poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		interval: interval,
		flush:    flush,
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go p.run(ctx)
	return p
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	err := p.flush(ctx)
	if err == nil || ctx.Err() != nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	metrics.AlertPollFailuresTotal.Inc()
	p.logger.Warn("alert flush failed", slog.String("error", err.Error()))
}

// stop cancels the loop and waits until no flush is in progress.
func (p *poller) stop() {
	p.cancel()
	<-p.done
}
