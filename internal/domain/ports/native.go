package ports

import "torrentsession/internal/domain"

// SessionHandle and TorrentHandle are opaque tokens minted by a NativeEngine.
// The zero value never refers to a live object.
type (
	SessionHandle uintptr
	TorrentHandle uintptr
)

// AlertCallback receives one engine event. It is invoked synchronously from
// within ProcessAlerts and must not block.
type AlertCallback func(message string)

// NativeEngine is the transfer engine boundary. Implementations are not
// required to be safe for concurrent use on the same handle; callers
// serialize access per handle.
type NativeEngine interface {
	CreateSession() (SessionHandle, error)
	CreateSessionWithSettings(cfg domain.SessionConfiguration) (SessionHandle, error)
	DestroySession(s SessionHandle)
	ApplySettings(s SessionHandle, cfg domain.SessionConfiguration) error

	PauseSession(s SessionHandle)
	ResumeSession(s SessionHandle)
	IsSessionPaused(s SessionHandle) bool

	AddTorrentFile(s SessionHandle, path, savePath string) (TorrentHandle, error)
	AddMagnetURI(s SessionHandle, uri, savePath string) (TorrentHandle, error)
	// RemoveTorrent retires t. An error wrapping domain.ErrFilesNotDeleted
	// means t is retired but its content is still on disk; any other error
	// leaves t valid.
	RemoveTorrent(s SessionHandle, t TorrentHandle, deleteFiles bool) error

	PauseTorrent(t TorrentHandle)
	ResumeTorrent(t TorrentHandle)
	// SetDownloadLimit and SetUploadLimit take bytes per second, 0 = unlimited.
	// An engine without per-torrent throttling may just record the value.
	SetDownloadLimit(t TorrentHandle, bytesPerSec int64)
	SetUploadLimit(t TorrentHandle, bytesPerSec int64)
	// TorrentStatus reports false when the handle is no longer valid.
	TorrentStatus(t TorrentHandle) (domain.TorrentStatus, bool)
	// TorrentInfo reports false until metadata is available.
	TorrentInfo(t TorrentHandle) (domain.TorrentInfo, bool)
	IsValid(t TorrentHandle) bool

	// SetAlertCallback replaces the session's callback. A nil callback
	// detaches the previous one.
	SetAlertCallback(s SessionHandle, cb AlertCallback)
	// ProcessAlerts flushes pending engine events through the callback.
	ProcessAlerts(s SessionHandle) error
}
