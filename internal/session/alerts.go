package session

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
	"torrentsession/internal/metrics"
)

const (
	defaultAlertBacklog     = 256
	defaultSubscriberBuffer = 64
	dropReasonBacklog       = "backlog"
	dropReasonSubscriber    = "subscriber"
	dropReasonRate          = "rate"
	dropReasonClosed        = "closed"
)

// alertBridge turns engine callbacks into alerts and fans them out to
// subscribers. publish never blocks: the callback runs inside the engine's
// flush and a slow consumer must not stall it.
type alertBridge struct {
	logger *slog.Logger
	now    func() time.Time

	in     chan domain.Alert
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	mu   sync.Mutex
	subs []*AlertSubscription
}

func newAlertBridge(logger *slog.Logger, backlog int, now func() time.Time) *alertBridge {
	if backlog <= 0 {
		backlog = defaultAlertBacklog
	}
	return &alertBridge{
		logger: logger,
		now:    now,
		in:     make(chan domain.Alert, backlog),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (b *alertBridge) start() {
	go b.dispatch()
}

// publish is registered as the engine alert callback.
func (b *alertBridge) publish(message string) {
	if b.closed.Load() {
		metrics.AlertsDroppedTotal.WithLabelValues(dropReasonClosed).Inc()
		return
	}
	a := domain.Alert{Message: message, Timestamp: b.now()}
	select {
	case b.in <- a:
		metrics.AlertsPublishedTotal.Inc()
	default:
		metrics.AlertsDroppedTotal.WithLabelValues(dropReasonBacklog).Inc()
		b.logger.Debug("alert backlog full, dropping", slog.String("alert", message))
	}
}

func (b *alertBridge) dispatch() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			// Deliver what was accepted before the bridge was closed.
			for {
				select {
				case a := <-b.in:
					b.fanout(a)
				default:
					return
				}
			}
		case a := <-b.in:
			b.fanout(a)
		}
	}
}

func (b *alertBridge) fanout(a domain.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.offer(a)
	}
}

func (b *alertBridge) subscribe(opts ...SubscribeOption) *AlertSubscription {
	cfg := subscribeOptions{buffer: defaultSubscriberBuffer}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.buffer <= 0 {
		cfg.buffer = defaultSubscriberBuffer
	}
	sub := &AlertSubscription{
		ch:      make(chan domain.Alert, cfg.buffer),
		limiter: cfg.limiter,
		bridge:  b,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed.Load() {
		sub.closeLocked()
		return sub
	}
	b.subs = append(b.subs, sub)
	metrics.AlertSubscribers.Inc()
	return sub
}

func (b *alertBridge) unsubscribe(sub *AlertSubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			metrics.AlertSubscribers.Dec()
			break
		}
	}
	sub.closeLocked()
}

// close stops the dispatcher and ends every subscription. Alerts published
// afterwards are discarded.
func (b *alertBridge) close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	close(b.stop)
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		sub.closeLocked()
	}
	metrics.AlertSubscribers.Sub(float64(len(b.subs)))
	b.subs = nil
}

// AlertSubscription is one consumer of a session's alert stream. Delivery is
// lossy: alerts that do not fit the buffer or exceed the configured rate are
// dropped and counted.
type AlertSubscription struct {
	ch      chan domain.Alert
	limiter *rate.Limiter
	bridge  *alertBridge
	closed  bool // guarded by bridge.mu
	dropped atomic.Uint64
}

// C returns the alert channel. It is closed when the subscription or the
// session is closed.
func (s *AlertSubscription) C() <-chan domain.Alert {
	return s.ch
}

// Dropped returns how many alerts this subscriber has missed.
func (s *AlertSubscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription. It is safe to call more than once.
func (s *AlertSubscription) Close() {
	s.bridge.unsubscribe(s)
}

func (s *AlertSubscription) offer(a domain.Alert) {
	if s.closed {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.dropped.Add(1)
		metrics.AlertsDroppedTotal.WithLabelValues(dropReasonRate).Inc()
		return
	}
	select {
	case s.ch <- a:
	default:
		s.dropped.Add(1)
		metrics.AlertsDroppedTotal.WithLabelValues(dropReasonSubscriber).Inc()
	}
}

func (s *AlertSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

type subscribeOptions struct {
	buffer  int
	limiter *rate.Limiter
}

type SubscribeOption func(*subscribeOptions)

// WithBuffer sets how many undelivered alerts the subscriber may hold.
func WithBuffer(n int) SubscribeOption {
	return func(o *subscribeOptions) { o.buffer = n }
}

// WithRate caps delivery to r alerts per second with the given burst.
// Alerts beyond the rate are dropped, not delayed.
func WithRate(r rate.Limit, burst int) SubscribeOption {
	return func(o *subscribeOptions) { o.limiter = rate.NewLimiter(r, burst) }
}
