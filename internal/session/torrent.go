package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
	"torrentsession/internal/metrics"
)

// Source kinds a torrent can be added from.
const (
	SourceFile   = "file"
	SourceMagnet = "magnet"
)

// Torrent wraps one engine torrent handle. All engine calls on the handle go
// through the torrent's own weight-one semaphore, which admits waiters in
// arrival order and lets a waiter leave when its context ends. Operations on
// one torrent run one at a time while different torrents proceed in parallel.
type Torrent struct {
	id      domain.TorrentID
	session *Session
	engine  ports.NativeEngine
	handle  ports.TorrentHandle
	kind    string
	source  string
	addedAt time.Time
	tracer  trace.Tracer

	lock    *semaphore.Weighted
	retired bool // guarded by lock
}

func (t *Torrent) ID() domain.TorrentID { return t.id }

// Source returns the file path or magnet link the torrent was added from.
func (t *Torrent) Source() string { return t.source }

func (t *Torrent) SourceKind() string { return t.kind }

func (t *Torrent) AddedAt() time.Time { return t.addedAt }

func (t *Torrent) Pause(ctx context.Context) error {
	return t.do(ctx, "torrent.pause", func(h ports.TorrentHandle) {
		t.engine.PauseTorrent(h)
	})
}

func (t *Torrent) Resume(ctx context.Context) error {
	return t.do(ctx, "torrent.resume", func(h ports.TorrentHandle) {
		t.engine.ResumeTorrent(h)
	})
}

// SetDownloadLimit caps this torrent's download rate in bytes per second.
// Zero removes the cap. Engines may only record a per-torrent limit: the
// anacrolix engine stores it but throttles at session level only, through
// SessionConfiguration.DownloadRateLimit.
func (t *Torrent) SetDownloadLimit(ctx context.Context, bytesPerSec int64) error {
	if bytesPerSec < 0 {
		return fmt.Errorf("%w: download limit %d", domain.ErrInvalidInput, bytesPerSec)
	}
	return t.do(ctx, "torrent.set_download_limit", func(h ports.TorrentHandle) {
		t.engine.SetDownloadLimit(h, bytesPerSec)
	})
}

// SetUploadLimit caps this torrent's upload rate in bytes per second.
// Zero removes the cap. As with SetDownloadLimit, the anacrolix engine only
// records the value; SessionConfiguration.UploadRateLimit is what throttles.
func (t *Torrent) SetUploadLimit(ctx context.Context, bytesPerSec int64) error {
	if bytesPerSec < 0 {
		return fmt.Errorf("%w: upload limit %d", domain.ErrInvalidInput, bytesPerSec)
	}
	return t.do(ctx, "torrent.set_upload_limit", func(h ports.TorrentHandle) {
		t.engine.SetUploadLimit(h, bytesPerSec)
	})
}

// Status returns a fresh snapshot of the torrent.
func (t *Torrent) Status(ctx context.Context) (domain.TorrentStatus, error) {
	var (
		st domain.TorrentStatus
		ok bool
	)
	err := t.do(ctx, "torrent.status", func(h ports.TorrentHandle) {
		st, ok = t.engine.TorrentStatus(h)
	})
	if err != nil {
		return domain.TorrentStatus{}, err
	}
	if !ok {
		return domain.TorrentStatus{}, domain.ErrTorrentRemoved
	}
	st.Progress = domain.ClampProgress(st.Progress)
	return st, nil
}

// Info returns the torrent metadata. It reports false while metadata is
// still being fetched, after removal, or when ctx ends first.
func (t *Torrent) Info(ctx context.Context) (domain.TorrentInfo, bool) {
	var (
		info domain.TorrentInfo
		ok   bool
	)
	err := t.do(ctx, "torrent.info", func(h ports.TorrentHandle) {
		info, ok = t.engine.TorrentInfo(h)
	})
	if err != nil || !ok || info.Name == "" {
		return domain.TorrentInfo{}, false
	}
	return info, true
}

// IsValid reports whether the engine handle still refers to a live torrent.
func (t *Torrent) IsValid(ctx context.Context) bool {
	valid := false
	err := t.do(ctx, "torrent.is_valid", func(h ports.TorrentHandle) {
		valid = t.engine.IsValid(h)
	})
	return err == nil && valid
}

func (t *Torrent) do(ctx context.Context, op string, fn func(h ports.TorrentHandle)) error {
	ctx, span := t.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("torrent.id", string(t.id)),
	))
	defer span.End()

	if err := t.lock.Acquire(ctx, 1); err != nil {
		span.RecordError(err)
		return err
	}
	defer t.lock.Release(1)

	if t.retired {
		return domain.ErrTorrentRemoved
	}
	start := time.Now()
	fn(t.handle)
	metrics.ObserveEngineCall(op, start)
	return nil
}

// retire runs the engine removal inside the torrent's domain and marks the
// handle dead on success, or when the engine retired it but kept the files.
// Subsequent operations fail with ErrTorrentRemoved.
func (t *Torrent) retire(ctx context.Context, remove func(h ports.TorrentHandle) error) error {
	if err := t.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer t.lock.Release(1)

	if t.retired {
		return domain.ErrTorrentRemoved
	}
	start := time.Now()
	err := remove(t.handle)
	metrics.ObserveEngineCall("torrent.remove", start)
	if err != nil && !errors.Is(err, domain.ErrFilesNotDeleted) {
		return err
	}
	t.retired = true
	return err
}

// detach marks the handle dead without an engine call. Used at session
// teardown, where destroying the engine session releases every handle.
func (t *Torrent) detach() {
	_ = t.lock.Acquire(context.Background(), 1)
	t.retired = true
	t.lock.Release(1)
}
