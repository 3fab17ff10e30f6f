package anacrolix

import (
	"time"

	"github.com/anacrolix/torrent"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

func (e *Engine) TorrentStatus(h ports.TorrentHandle) (domain.TorrentStatus, bool) {
	e.mu.Lock()
	entry, sess := e.lookupLocked(h)
	var paused bool
	if entry != nil {
		paused = entry.paused || sess.paused
	}
	e.mu.Unlock()
	if entry == nil {
		return domain.TorrentStatus{}, false
	}

	t := entry.t
	now := time.Now().UTC()
	stats := t.Stats()
	download, upload := e.sampleSpeed(h, stats, now)
	state := torrentState(t)

	progress := float64(0)
	if torrentInfoReady(t) {
		if length := t.Length(); length > 0 {
			progress = float64(t.BytesCompleted()) / float64(length)
		}
	}

	return domain.TorrentStatus{
		State:         state,
		Progress:      domain.ClampProgress(progress),
		DownloadRate:  download,
		UploadRate:    upload,
		TotalDownload: stats.BytesReadUsefulData.Int64(),
		TotalUpload:   stats.BytesWrittenData.Int64(),
		NumPeers:      stats.ActivePeers,
		NumSeeds:      stats.ConnectedSeeders,
		IsPaused:      paused,
		IsFinished:    state == domain.StateFinished || state == domain.StateSeeding,
		CapturedAt:    now,
	}, true
}

func (e *Engine) TorrentInfo(h ports.TorrentHandle) (domain.TorrentInfo, bool) {
	e.mu.Lock()
	entry, _ := e.lookupLocked(h)
	e.mu.Unlock()
	if entry == nil || !torrentInfoReady(entry.t) {
		return domain.TorrentInfo{}, false
	}
	t := entry.t
	info := t.Info()
	if info == nil {
		return domain.TorrentInfo{}, false
	}
	return domain.TorrentInfo{
		Name:        t.Name(),
		TotalSize:   t.Length(),
		PieceLength: info.PieceLength,
		InfoHash:    t.InfoHash().HexString(),
		NumFiles:    len(t.Files()),
	}, true
}

// torrentState maps anacrolix progress onto engine states. anacrolix hashes
// pieces lazily and keeps no resume data, so the checking states are not
// reported.
func torrentState(t *torrent.Torrent) domain.TorrentState {
	if !torrentInfoReady(t) {
		return domain.StateDownloadingMetadata
	}
	if t.BytesMissing() > 0 {
		return domain.StateDownloading
	}
	if t.Seeding() {
		return domain.StateSeeding
	}
	return domain.StateFinished
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at           time.Time
	bytesRead    int64
	bytesWritten int64
}

// sampleSpeed derives instantaneous rates from the byte counters seen at the
// previous call for the same handle.
func (e *Engine) sampleSpeed(h ports.TorrentHandle, stats torrent.TorrentStats, now time.Time) (int64, int64) {
	currentRead := stats.BytesReadUsefulData.Int64()
	currentWritten := stats.BytesWrittenData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[h]
	e.speeds[h] = speedSample{
		at:           now,
		bytesRead:    currentRead,
		bytesWritten: currentWritten,
	}

	if !ok || prev.at.IsZero() {
		return 0, 0
	}

	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaRead := currentRead - prev.bytesRead
	deltaWritten := currentWritten - prev.bytesWritten
	if deltaRead < 0 {
		deltaRead = 0
	}
	if deltaWritten < 0 {
		deltaWritten = 0
	}

	return int64(float64(deltaRead) / dt), int64(float64(deltaWritten) / dt)
}

func (e *Engine) forgetSpeed(h ports.TorrentHandle) {
	e.speedMu.Lock()
	delete(e.speeds, h)
	e.speedMu.Unlock()
}
