// Package session coordinates concurrent access to a native torrent engine.
//
// A Session owns one engine session handle and the torrents added to it.
// Session-level engine calls and the torrent registry are serialized by the
// session lock, a weight-one semaphore; each Torrent serializes calls on its
// own handle the same way.
// When both are needed the session lock is taken first. Adding a torrent
// runs the engine call outside the session lock so a slow add does not stall
// other session operations.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
	"torrentsession/internal/torrentutil"
)

type Session struct {
	engine ports.NativeEngine
	handle ports.SessionHandle
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time

	lock     *semaphore.Weighted // session lock
	registry *registry
	mode     domain.SessionMode
	config   atomic.Pointer[domain.SessionConfiguration]

	// teardown is held shared by in-flight engine adds and exclusively by
	// Close, so the engine session outlives every add started before Close.
	teardown  sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once

	alerts *alertBridge
	poller *poller
}

// New creates an engine session and starts its alert poller. Failure to
// create the engine session is returned as an error wrapping
// domain.ErrEngineRejected; there is no partially usable session.
func New(ctx context.Context, engine ports.NativeEngine, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", domain.ErrInvalidInput)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	_, span := o.tracer.Start(ctx, "session.create")
	defer span.End()

	var (
		handle ports.SessionHandle
		err    error
		cfg    = domain.DefaultSessionConfiguration()
	)
	if o.config != nil {
		cfg = *o.config
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		handle, err = engine.CreateSessionWithSettings(cfg)
	} else {
		handle, err = engine.CreateSession()
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: create session: %v", domain.ErrEngineRejected, err)
	}

	s := &Session{
		engine:   engine,
		handle:   handle,
		logger:   o.logger,
		tracer:   o.tracer,
		now:      o.now,
		lock:     semaphore.NewWeighted(1),
		registry: newRegistry(),
		mode:     domain.ModeActive,
	}
	s.config.Store(&cfg)

	s.alerts = newAlertBridge(o.logger, o.alertBacklog, o.now)
	s.alerts.start()
	engine.SetAlertCallback(handle, s.alerts.publish)
	s.poller = startPoller(o.pollInterval, s.flushAlerts, o.logger)

	metrics.ActiveSessions.Inc()
	s.logger.Info("session created",
		slog.String("listen", cfg.ListenInterfaces),
		slog.Bool("dht", cfg.EnableDHT),
	)
	return s, nil
}

// ---------------------------------------------------------------------------
// Configuration and run state
// ---------------------------------------------------------------------------

// Configuration returns the configuration currently applied to the engine.
func (s *Session) Configuration() domain.SessionConfiguration {
	return *s.config.Load()
}

// UpdateConfiguration applies cfg to the live engine session as a whole.
// It affects current and future torrents. A rejected update leaves the
// previous configuration recorded.
func (s *Session) UpdateConfiguration(ctx context.Context, cfg domain.SessionConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.withSession(ctx, "session.update_configuration", func() error {
		if err := s.engine.ApplySettings(s.handle, cfg); err != nil {
			return domain.Rejected(domain.ErrInvalidConfiguration, err)
		}
		s.config.Store(&cfg)
		s.logger.Info("session configuration updated",
			slog.Int64("downloadRateLimit", cfg.DownloadRateLimit),
			slog.Int64("uploadRateLimit", cfg.UploadRateLimit),
			slog.Int("maxConnections", cfg.MaxConnections),
		)
		return nil
	})
}

// Pause suspends all transfers. Pausing a paused session is a no-op.
func (s *Session) Pause(ctx context.Context) error {
	return s.withSession(ctx, "session.pause", func() error {
		return s.transition(domain.ModePaused, s.engine.PauseSession)
	})
}

// Resume restarts transfers. Resuming an active session is a no-op.
func (s *Session) Resume(ctx context.Context) error {
	return s.withSession(ctx, "session.resume", func() error {
		return s.transition(domain.ModeActive, s.engine.ResumeSession)
	})
}

func (s *Session) IsPaused(ctx context.Context) (bool, error) {
	var paused bool
	err := s.withSession(ctx, "session.is_paused", func() error {
		paused = s.engine.IsSessionPaused(s.handle)
		return nil
	})
	return paused, err
}

func (s *Session) transition(to domain.SessionMode, call func(ports.SessionHandle)) error {
	if !domain.CanTransition(s.mode, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, s.mode, to)
	}
	call(s.handle)
	s.mode = to
	return nil
}

// ---------------------------------------------------------------------------
// Torrent lifecycle
// ---------------------------------------------------------------------------

// AddTorrentFile adds the .torrent file at path, saving content under
// downloadPath.
func (s *Session) AddTorrentFile(ctx context.Context, path, downloadPath string) (*Torrent, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidTorrentFile, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", domain.ErrInvalidTorrentFile, path)
	}
	if strings.TrimSpace(downloadPath) == "" {
		return nil, fmt.Errorf("%w: empty download path", domain.ErrInvalidInput)
	}
	return s.add(ctx, SourceFile, path, func() (ports.TorrentHandle, error) {
		h, err := s.engine.AddTorrentFile(s.handle, path, downloadPath)
		if err != nil {
			return 0, rejectAdd(domain.ErrInvalidTorrentFile, err)
		}
		return h, nil
	})
}

// AddMagnet adds a torrent from a magnet link, saving content under
// downloadPath. Metadata is fetched in the background; Info reports false
// until it arrives.
func (s *Session) AddMagnet(ctx context.Context, uri, downloadPath string) (*Torrent, error) {
	if err := torrentutil.ValidateMagnetURI(uri); err != nil {
		return nil, err
	}
	if strings.TrimSpace(downloadPath) == "" {
		return nil, fmt.Errorf("%w: empty download path", domain.ErrInvalidInput)
	}
	return s.add(ctx, SourceMagnet, uri, func() (ports.TorrentHandle, error) {
		h, err := s.engine.AddMagnetURI(s.handle, strings.TrimSpace(uri), downloadPath)
		if err != nil {
			return 0, rejectAdd(domain.ErrInvalidMagnetLink, err)
		}
		return h, nil
	})
}

func rejectAdd(kind, err error) error {
	if errors.Is(err, domain.ErrAlreadyExists) {
		return err
	}
	return domain.Rejected(kind, err)
}

type addResult struct {
	handle ports.TorrentHandle
	err    error
}

func (s *Session) add(ctx context.Context, kind, source string, call func() (ports.TorrentHandle, error)) (*Torrent, error) {
	ctx, span := s.tracer.Start(ctx, "session.add_torrent", trace.WithAttributes(
		attribute.String("torrent.source_kind", kind),
	))
	defer span.End()

	s.teardown.RLock()
	if s.closed.Load() {
		s.teardown.RUnlock()
		return nil, domain.ErrSessionClosed
	}

	done := make(chan addResult, 1)
	go func() {
		defer s.teardown.RUnlock()
		start := time.Now()
		h, err := call()
		metrics.ObserveEngineCall("session.add_"+kind, start)
		done <- addResult{handle: h, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
			metrics.TorrentAddFailuresTotal.WithLabelValues(kind, addFailureReason(res.err)).Inc()
			s.logger.Warn("torrent add rejected",
				slog.String("source", kind),
				slog.String("error", res.err.Error()),
			)
			return nil, res.err
		}
		t, err := s.register(kind, source, res.handle)
		if err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("torrent.id", string(t.id)))
		return t, nil
	case <-ctx.Done():
		// The engine call cannot be interrupted. Retire whatever it returns.
		go s.discardAbandoned(done, kind)
		metrics.TorrentAddFailuresTotal.WithLabelValues(kind, "abandoned").Inc()
		return nil, ctx.Err()
	}
}

func addFailureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyExists):
		return "duplicate"
	case errors.Is(err, domain.ErrEngineRejected):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Session) register(kind, source string, h ports.TorrentHandle) (*Torrent, error) {
	// The handle is already live in the engine, so registration must not be
	// abandoned half way.
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)

	if s.closed.Load() {
		// The engine session is destroyed or about to be; the handle goes
		// with it.
		return nil, domain.ErrSessionClosed
	}

	t := &Torrent{
		id:      domain.NewTorrentID(),
		session: s,
		engine:  s.engine,
		handle:  h,
		kind:    kind,
		source:  source,
		addedAt: s.now(),
		tracer:  s.tracer,
		lock:    semaphore.NewWeighted(1),
	}
	if err := s.registry.insert(t); err != nil {
		return nil, err
	}
	metrics.TorrentsAddedTotal.WithLabelValues(kind).Inc()
	metrics.RegisteredTorrents.Inc()
	s.logger.Info("torrent added",
		slog.String("torrentId", string(t.id)),
		slog.String("source", kind),
	)
	return t, nil
}

func (s *Session) discardAbandoned(done <-chan addResult, kind string) {
	res := <-done
	if res.err != nil {
		return
	}
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)
	if s.closed.Load() {
		return
	}
	if err := s.engine.RemoveTorrent(s.handle, res.handle, false); err != nil {
		s.logger.Warn("failed to remove abandoned torrent",
			slog.String("source", kind),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("removed abandoned torrent", slog.String("source", kind))
}

// RemoveTorrent retires t in the engine and drops it from the session.
// deleteFiles also removes downloaded content. A torrent that is not
// registered with this session yields domain.ErrTorrentNotFound without any
// engine call. When the content cannot be deleted the torrent is still
// removed and the error wraps domain.ErrFilesNotDeleted.
func (s *Session) RemoveTorrent(ctx context.Context, t *Torrent, deleteFiles bool) error {
	if t == nil {
		return fmt.Errorf("%w: nil torrent", domain.ErrInvalidInput)
	}
	return s.withSession(ctx, "session.remove_torrent", func() error {
		if t.session != s {
			return fmt.Errorf("%w: %s", domain.ErrTorrentNotFound, t.id)
		}
		registered, ok := s.registry.lookup(t.id)
		if !ok || registered != t {
			return fmt.Errorf("%w: %s", domain.ErrTorrentNotFound, t.id)
		}
		err := t.retire(ctx, func(h ports.TorrentHandle) error {
			return s.engine.RemoveTorrent(s.handle, h, deleteFiles)
		})
		filesKept := errors.Is(err, domain.ErrFilesNotDeleted)
		if err != nil && !filesKept {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("%w: remove torrent: %v", domain.ErrEngineRejected, err)
		}
		// The handle is retired from here on, so the entry goes with it.
		s.registry.remove(t.id)
		metrics.TorrentsRemovedTotal.Inc()
		metrics.RegisteredTorrents.Dec()
		if filesKept {
			s.logger.Warn("torrent removed, files not deleted",
				slog.String("torrentId", string(t.id)),
				slog.String("error", err.Error()),
			)
			return err
		}
		s.logger.Info("torrent removed",
			slog.String("torrentId", string(t.id)),
			slog.Bool("deleteFiles", deleteFiles),
		)
		return nil
	})
}

// Torrents returns the registered torrents in the order they were added.
func (s *Session) Torrents() []*Torrent {
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)
	return s.registry.list()
}

func (s *Session) Torrent(id domain.TorrentID) (*Torrent, bool) {
	_ = s.lock.Acquire(context.Background(), 1)
	defer s.lock.Release(1)
	return s.registry.lookup(id)
}

// ---------------------------------------------------------------------------
// Alerts and teardown
// ---------------------------------------------------------------------------

// Alerts subscribes to engine alerts. The returned subscription's channel is
// closed when the session closes; subscribing to a closed session returns an
// already closed subscription.
func (s *Session) Alerts(opts ...SubscribeOption) *AlertSubscription {
	return s.alerts.subscribe(opts...)
}

func (s *Session) flushAlerts(ctx context.Context) error {
	err := s.withSession(ctx, "", func() error {
		return s.engine.ProcessAlerts(s.handle)
	})
	if errors.Is(err, domain.ErrSessionClosed) {
		return nil
	}
	return err
}

// Close stops alert delivery, invalidates every torrent and destroys the
// engine session. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		_ = s.lock.Acquire(context.Background(), 1)
		s.closed.Store(true)
		s.mode = domain.ModeClosed
		s.lock.Release(1)

		s.poller.stop()

		_ = s.lock.Acquire(context.Background(), 1)
		s.engine.SetAlertCallback(s.handle, nil)
		s.lock.Release(1)
		s.alerts.close()

		// Wait for adds already inside the engine.
		s.teardown.Lock()
		defer s.teardown.Unlock()

		_ = s.lock.Acquire(context.Background(), 1)
		defer s.lock.Release(1)
		torrents := s.registry.list()
		for _, t := range torrents {
			t.detach()
		}
		s.registry.reset()
		s.engine.DestroySession(s.handle)

		metrics.RegisteredTorrents.Sub(float64(len(torrents)))
		metrics.ActiveSessions.Dec()
		s.logger.Info("session closed", slog.Int("torrents", len(torrents)))
	})
	return nil
}

// withSession runs fn inside the session domain. An empty op skips tracing.
func (s *Session) withSession(ctx context.Context, op string, fn func() error) error {
	if op != "" {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, op)
		defer span.End()
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.lock.Release(1)
	if s.closed.Load() {
		return domain.ErrSessionClosed
	}
	if op == "" {
		return fn()
	}
	start := time.Now()
	err := fn()
	metrics.ObserveEngineCall(op, start)
	return err
}
