package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

type fakeSession struct {
	paused    bool
	cb        ports.AlertCallback
	pending   []string
	destroyed bool
	cfg       domain.SessionConfiguration
}

type fakeTorrent struct {
	session ports.SessionHandle
	source  string
	status  domain.TorrentStatus
	info    *domain.TorrentInfo
	removed bool
	dlLimit int64
	ulLimit int64
	limits  []int64 // every download limit applied, in call order

	active atomic.Int32
}

// fakeEngine is an in-memory ports.NativeEngine. It flags any overlapping
// calls on the same torrent handle.
type fakeEngine struct {
	mu         sync.Mutex
	next       uintptr
	sessions   map[ports.SessionHandle]*fakeSession
	torrents   map[ports.TorrentHandle]*fakeTorrent
	events     []string
	createErr  error
	applyErr   error
	addErr     error
	removeErr  error // a wrapped domain.ErrFilesNotDeleted still retires the handle
	processErr error
	failFlush  int // number of upcoming ProcessAlerts calls that fail

	addGate     chan struct{} // when set, adds block until it is closed
	addStarted  chan struct{}
	opDelay     time.Duration
	overlaps    atomic.Int32
	addCalls    atomic.Int32
	removeCalls atomic.Int32
	flushCalls  atomic.Int32
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		sessions: make(map[ports.SessionHandle]*fakeSession),
		torrents: make(map[ports.TorrentHandle]*fakeTorrent),
	}
}

func (f *fakeEngine) record(event string) {
	f.events = append(f.events, event)
}

func (f *fakeEngine) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeEngine) CreateSession() (ports.SessionHandle, error) {
	return f.CreateSessionWithSettings(domain.DefaultSessionConfiguration())
}

func (f *fakeEngine) CreateSessionWithSettings(cfg domain.SessionConfiguration) (ports.SessionHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.next++
	h := ports.SessionHandle(f.next)
	f.sessions[h] = &fakeSession{cfg: cfg}
	f.record("create")
	return h, nil
}

func (f *fakeEngine) DestroySession(s ports.SessionHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sess, ok := f.sessions[s]; ok {
		sess.destroyed = true
	}
	for _, t := range f.torrents {
		if t.session == s {
			t.removed = true
		}
	}
	f.record("destroy")
}

func (f *fakeEngine) ApplySettings(s ports.SessionHandle, cfg domain.SessionConfiguration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.sessions[s].cfg = cfg
	return nil
}

func (f *fakeEngine) PauseSession(s ports.SessionHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s].paused = true
}

func (f *fakeEngine) ResumeSession(s ports.SessionHandle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s].paused = false
}

func (f *fakeEngine) IsSessionPaused(s ports.SessionHandle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[s].paused
}

func (f *fakeEngine) AddTorrentFile(s ports.SessionHandle, path, savePath string) (ports.TorrentHandle, error) {
	return f.addTorrent(s, path)
}

func (f *fakeEngine) AddMagnetURI(s ports.SessionHandle, uri, savePath string) (ports.TorrentHandle, error) {
	return f.addTorrent(s, uri)
}

func (f *fakeEngine) addTorrent(s ports.SessionHandle, source string) (ports.TorrentHandle, error) {
	f.addCalls.Add(1)
	f.mu.Lock()
	gate, started := f.addGate, f.addStarted
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return 0, f.addErr
	}
	for _, t := range f.torrents {
		if t.session == s && t.source == source && !t.removed {
			return 0, domain.ErrAlreadyExists
		}
	}
	f.next++
	h := ports.TorrentHandle(f.next)
	f.torrents[h] = &fakeTorrent{
		session: s,
		source:  source,
		status:  domain.TorrentStatus{State: domain.StateDownloadingMetadata},
	}
	f.record("add")
	return h, nil
}

func (f *fakeEngine) RemoveTorrent(s ports.SessionHandle, h ports.TorrentHandle, deleteFiles bool) error {
	f.removeCalls.Add(1)
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t == nil || t.removed {
		return errors.New("invalid handle")
	}
	if f.removeErr != nil && !errors.Is(f.removeErr, domain.ErrFilesNotDeleted) {
		return f.removeErr
	}
	t.removed = true
	f.record("remove")
	return f.removeErr
}

// enter and leave bracket every per-torrent call to detect overlap.
func (f *fakeEngine) enter(h ports.TorrentHandle) *fakeTorrent {
	f.mu.Lock()
	t := f.torrents[h]
	delay := f.opDelay
	f.mu.Unlock()
	if t == nil {
		return nil
	}
	if t.active.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return t
}

func (f *fakeEngine) leave(t *fakeTorrent) {
	if t != nil {
		t.active.Add(-1)
	}
}

func (f *fakeEngine) PauseTorrent(h ports.TorrentHandle) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t != nil {
		t.status.IsPaused = true
	}
}

func (f *fakeEngine) ResumeTorrent(h ports.TorrentHandle) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t != nil {
		t.status.IsPaused = false
	}
}

func (f *fakeEngine) SetDownloadLimit(h ports.TorrentHandle, bytesPerSec int64) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t != nil {
		t.dlLimit = bytesPerSec
		t.limits = append(t.limits, bytesPerSec)
	}
}

func (f *fakeEngine) SetUploadLimit(h ports.TorrentHandle, bytesPerSec int64) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t != nil {
		t.ulLimit = bytesPerSec
	}
}

func (f *fakeEngine) TorrentStatus(h ports.TorrentHandle) (domain.TorrentStatus, bool) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t == nil || t.removed {
		return domain.TorrentStatus{}, false
	}
	return t.status, true
}

func (f *fakeEngine) TorrentInfo(h ports.TorrentHandle) (domain.TorrentInfo, bool) {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	if t == nil || t.removed || t.info == nil {
		return domain.TorrentInfo{}, false
	}
	return *t.info, true
}

func (f *fakeEngine) IsValid(h ports.TorrentHandle) bool {
	t := f.enter(h)
	defer f.leave(t)
	f.mu.Lock()
	defer f.mu.Unlock()
	return t != nil && !t.removed
}

func (f *fakeEngine) SetAlertCallback(s ports.SessionHandle, cb ports.AlertCallback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s].cb = cb
}

func (f *fakeEngine) ProcessAlerts(s ports.SessionHandle) error {
	f.flushCalls.Add(1)
	f.mu.Lock()
	if f.failFlush > 0 {
		f.failFlush--
		f.mu.Unlock()
		return f.processErr
	}
	sess := f.sessions[s]
	pending, cb := sess.pending, sess.cb
	sess.pending = nil
	f.mu.Unlock()

	if cb == nil {
		return nil
	}
	for _, msg := range pending {
		cb(msg)
	}
	return nil
}

// emit queues an alert for the next ProcessAlerts call.
func (f *fakeEngine) emit(s ports.SessionHandle, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s].pending = append(f.sessions[s].pending, msg)
}

func (f *fakeEngine) torrent(h ports.TorrentHandle) *fakeTorrent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.torrents[h]
}

func (f *fakeEngine) downloadLimits(h ports.TorrentHandle) []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.torrents[h].limits...)
}

func (f *fakeEngine) setStatus(h ports.TorrentHandle, st domain.TorrentStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents[h].status = st
}

func (f *fakeEngine) setInfo(h ports.TorrentHandle, info domain.TorrentInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.torrents[h].info = &info
}

var _ ports.NativeEngine = (*fakeEngine)(nil)
