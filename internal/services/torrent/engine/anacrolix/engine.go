package anacrolix

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"golang.org/x/time/rate"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// ErrUnknownHandle is returned for handles this engine never issued or has
// already released.
var ErrUnknownHandle = fmt.Errorf("%w: unknown handle", domain.ErrNotFound)

type Config struct {
	// DataDir is the client's default storage root. Torrents are stored
	// under the save path given when they are added.
	DataDir string
	Logger  *slog.Logger
}

// Engine implements ports.NativeEngine on top of anacrolix/torrent. Each
// engine session is backed by its own torrent.Client.
type Engine struct {
	dataDir string
	logger  *slog.Logger

	mu       sync.Mutex
	next     uintptr
	sessions map[ports.SessionHandle]*clientSession
	torrents map[ports.TorrentHandle]*torrentEntry

	speedMu sync.Mutex
	speeds  map[ports.TorrentHandle]speedSample
}

type clientSession struct {
	client      *torrent.Client
	cfg         domain.SessionConfiguration
	downLimiter *rate.Limiter
	upLimiter   *rate.Limiter
	paused      bool
	torrents    map[ports.TorrentHandle]struct{}

	callback ports.AlertCallback
	pending  []string
}

type torrentEntry struct {
	session  ports.SessionHandle
	t        *torrent.Torrent
	storage  storage.ClientImplCloser
	savePath string
	paused   bool

	// Per-torrent limits are recorded for reporting; anacrolix only rate
	// limits at the client level.
	downLimit int64
	upLimit   int64

	gotInfo   bool
	lastState domain.TorrentState
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dataDir:  cfg.DataDir,
		logger:   logger,
		sessions: make(map[ports.SessionHandle]*clientSession),
		torrents: make(map[ports.TorrentHandle]*torrentEntry),
		speeds:   make(map[ports.TorrentHandle]speedSample),
	}
}

// ---------------------------------------------------------------------------
// Session lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) CreateSession() (ports.SessionHandle, error) {
	return e.CreateSessionWithSettings(domain.DefaultSessionConfiguration())
}

func (e *Engine) CreateSessionWithSettings(cfg domain.SessionConfiguration) (ports.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	dataDir := e.dataDir
	if dataDir == "" {
		dataDir = os.TempDir()
	}
	cc, down, up, err := clientConfig(cfg, dataDir)
	if err != nil {
		return 0, err
	}
	client, err := torrent.NewClient(cc)
	if err != nil {
		return 0, fmt.Errorf("new torrent client: %w", err)
	}

	sess := &clientSession{
		client:      client,
		cfg:         cfg,
		downLimiter: down,
		upLimiter:   up,
		torrents:    make(map[ports.TorrentHandle]struct{}),
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.next++
	h := ports.SessionHandle(e.next)
	e.sessions[h] = sess
	e.logger.Info("engine session created",
		slog.Uint64("session", uint64(h)),
		slog.String("listen", cfg.ListenInterfaces),
	)
	return h, nil
}

// DestroySession closes the client and releases every torrent handle that
// belonged to it.
func (e *Engine) DestroySession(s ports.SessionHandle) {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	if !ok {
		e.mu.Unlock()
		return
	}
	delete(e.sessions, s)
	var entries []*torrentEntry
	for h := range sess.torrents {
		entries = append(entries, e.torrents[h])
		delete(e.torrents, h)
		e.forgetSpeed(h)
	}
	e.mu.Unlock()

	if errList := sess.client.Close(); len(errList) > 0 {
		e.logger.Warn("torrent client close failed",
			slog.Uint64("session", uint64(s)),
			slog.String("error", errList[0].Error()),
		)
	}
	for _, entry := range entries {
		closeStorage(entry)
	}
}

// Close destroys every session still open.
func (e *Engine) Close() error {
	e.mu.Lock()
	handles := make([]ports.SessionHandle, 0, len(e.sessions))
	for h := range e.sessions {
		handles = append(handles, h)
	}
	e.mu.Unlock()
	for _, h := range handles {
		e.DestroySession(h)
	}
	return nil
}

func (e *Engine) ApplySettings(s ports.SessionHandle, cfg domain.SessionConfiguration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[s]
	if !ok {
		return ErrUnknownHandle
	}
	for _, name := range restartOnlyChanges(sess.cfg, cfg) {
		e.enqueueLocked(sess, fmt.Sprintf("setting %s takes effect in a new session", name))
	}
	tuneLimiter(sess.downLimiter, cfg.DownloadRateLimit)
	tuneLimiter(sess.upLimiter, cfg.UploadRateLimit)
	sess.cfg = cfg
	for h := range sess.torrents {
		applyActivity(sess, e.torrents[h])
	}
	e.enqueueLocked(sess, "session settings applied")
	return nil
}

func (e *Engine) PauseSession(s ports.SessionHandle) {
	e.setSessionPaused(s, true)
}

func (e *Engine) ResumeSession(s ports.SessionHandle) {
	e.setSessionPaused(s, false)
}

func (e *Engine) setSessionPaused(s ports.SessionHandle, paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[s]
	if !ok || sess.paused == paused {
		return
	}
	sess.paused = paused
	for h := range sess.torrents {
		applyActivity(sess, e.torrents[h])
	}
	if paused {
		e.enqueueLocked(sess, "session paused")
	} else {
		e.enqueueLocked(sess, "session resumed")
	}
}

func (e *Engine) IsSessionPaused(s ports.SessionHandle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[s]
	return ok && sess.paused
}

// ---------------------------------------------------------------------------
// Torrent lifecycle
// ---------------------------------------------------------------------------

func (e *Engine) AddTorrentFile(s ports.SessionHandle, path, savePath string) (ports.TorrentHandle, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return 0, fmt.Errorf("load torrent file: %w", err)
	}
	spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
	if err != nil {
		return 0, fmt.Errorf("load metainfo: %w", err)
	}
	return e.addSpec(s, spec, savePath)
}

func (e *Engine) AddMagnetURI(s ports.SessionHandle, uri, savePath string) (ports.TorrentHandle, error) {
	spec, err := torrent.TorrentSpecFromMagnetUri(strings.TrimSpace(uri))
	if err != nil {
		return 0, fmt.Errorf("parse magnet: %w", err)
	}
	return e.addSpec(s, spec, savePath)
}

func (e *Engine) addSpec(s ports.SessionHandle, spec *torrent.TorrentSpec, savePath string) (ports.TorrentHandle, error) {
	if err := os.MkdirAll(savePath, 0o755); err != nil {
		return 0, fmt.Errorf("create save path: %w", err)
	}

	e.mu.Lock()
	sess, ok := e.sessions[s]
	e.mu.Unlock()
	if !ok {
		return 0, ErrUnknownHandle
	}

	store := storage.NewFileOpts(storage.NewFileClientOpts{
		ClientBaseDir:   savePath,
		PieceCompletion: storage.NewMapPieceCompletion(),
	})
	spec.Storage = store

	// The client serializes adds internally; the engine lock is not held so
	// status queries on other torrents proceed meanwhile.
	t, isNew, err := sess.client.AddTorrentSpec(spec)
	if err != nil {
		_ = store.Close()
		return 0, err
	}
	if !isNew {
		_ = store.Close()
		return 0, fmt.Errorf("%w: %s", domain.ErrAlreadyExists, t.InfoHash().HexString())
	}

	entry := &torrentEntry{
		session:   s,
		t:         t,
		storage:   store,
		savePath:  savePath,
		lastState: domain.StateDownloadingMetadata,
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessions[s]; !ok {
		// Session destroyed while the add was in flight.
		t.Drop()
		_ = store.Close()
		return 0, ErrUnknownHandle
	}
	e.next++
	h := ports.TorrentHandle(e.next)
	e.torrents[h] = entry
	sess.torrents[h] = struct{}{}
	applyActivity(sess, entry)
	go downloadWhenReady(t)

	e.enqueueLocked(sess, fmt.Sprintf("%s: torrent added", displayName(t)))
	return h, nil
}

// downloadWhenReady selects every piece once metadata is available.
func downloadWhenReady(t *torrent.Torrent) {
	select {
	case <-t.GotInfo():
		t.DownloadAll()
	case <-t.Closed():
	}
}

func (e *Engine) RemoveTorrent(s ports.SessionHandle, h ports.TorrentHandle, deleteFiles bool) error {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	entry, found := e.torrents[h]
	if !ok || !found || entry.session != s {
		e.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(e.torrents, h)
	delete(sess.torrents, h)
	e.forgetSpeed(h)
	name := displayName(entry.t)
	e.enqueueLocked(sess, fmt.Sprintf("%s: torrent removed", name))
	e.mu.Unlock()

	var files []string
	if deleteFiles {
		files = contentPaths(entry.t)
	}
	entry.t.Drop()
	closeStorage(entry)

	if deleteFiles {
		if err := removeContent(entry.savePath, files); err != nil {
			e.mu.Lock()
			if sess, ok := e.sessions[s]; ok {
				e.enqueueLocked(sess, fmt.Sprintf("%s: delete files failed: %v", name, err))
			}
			e.mu.Unlock()
			return fmt.Errorf("%w: %v", domain.ErrFilesNotDeleted, err)
		}
	}
	return nil
}

func closeStorage(entry *torrentEntry) {
	if entry == nil || entry.storage == nil {
		return
	}
	_ = entry.storage.Close()
}

// ---------------------------------------------------------------------------
// Per-torrent operations
// ---------------------------------------------------------------------------

func (e *Engine) PauseTorrent(h ports.TorrentHandle) {
	e.setTorrentPaused(h, true)
}

func (e *Engine) ResumeTorrent(h ports.TorrentHandle) {
	e.setTorrentPaused(h, false)
}

func (e *Engine) setTorrentPaused(h ports.TorrentHandle, paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, sess := e.lookupLocked(h)
	if entry == nil || entry.paused == paused {
		return
	}
	entry.paused = paused
	applyActivity(sess, entry)
	if paused {
		e.enqueueLocked(sess, fmt.Sprintf("%s: torrent paused", displayName(entry.t)))
	} else {
		e.enqueueLocked(sess, fmt.Sprintf("%s: torrent resumed", displayName(entry.t)))
	}
}

// SetDownloadLimit records a per-torrent limit. anacrolix has no per-torrent
// throttle, so only the session-wide limiters shape traffic.
func (e *Engine) SetDownloadLimit(h ports.TorrentHandle, bytesPerSec int64) {
	e.setTorrentLimit(h, bytesPerSec, func(entry *torrentEntry) *int64 { return &entry.downLimit })
}

func (e *Engine) SetUploadLimit(h ports.TorrentHandle, bytesPerSec int64) {
	e.setTorrentLimit(h, bytesPerSec, func(entry *torrentEntry) *int64 { return &entry.upLimit })
}

func (e *Engine) setTorrentLimit(h ports.TorrentHandle, bytesPerSec int64, field func(*torrentEntry) *int64) {
	if bytesPerSec < 0 {
		bytesPerSec = 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, _ := e.lookupLocked(h)
	if entry == nil {
		return
	}
	limit := field(entry)
	if *limit != bytesPerSec {
		e.logger.Debug("torrent rate limit changed",
			slog.Uint64("torrent", uint64(h)),
			slog.Int64("prevBytesPerSec", *limit),
			slog.Int64("newBytesPerSec", bytesPerSec),
		)
	}
	*limit = bytesPerSec
}

func (e *Engine) IsValid(h ports.TorrentHandle) bool {
	e.mu.Lock()
	entry, _ := e.lookupLocked(h)
	e.mu.Unlock()
	if entry == nil {
		return false
	}
	select {
	case <-entry.t.Closed():
		return false
	default:
		return true
	}
}

func (e *Engine) lookupLocked(h ports.TorrentHandle) (*torrentEntry, *clientSession) {
	entry, ok := e.torrents[h]
	if !ok {
		return nil, nil
	}
	sess, ok := e.sessions[entry.session]
	if !ok {
		return nil, nil
	}
	return entry, sess
}

// applyActivity reconciles a torrent's transfer permissions with the
// session and torrent pause flags and the session's connection settings.
func applyActivity(sess *clientSession, entry *torrentEntry) {
	if sess == nil || entry == nil || entry.t == nil {
		return
	}
	t := entry.t
	if sess.paused || entry.paused {
		t.DisallowDataDownload()
		t.DisallowDataUpload()
		t.SetMaxEstablishedConns(0)
		return
	}
	t.SetMaxEstablishedConns(sess.cfg.MaxConnections)
	t.AllowDataDownload()
	if sess.cfg.MaxUploads == 0 {
		t.DisallowDataUpload()
	} else {
		t.AllowDataUpload()
	}
}

func displayName(t *torrent.Torrent) string {
	if t == nil {
		return ""
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.InfoHash().HexString()
}
