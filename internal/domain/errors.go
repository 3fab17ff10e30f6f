package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrEngineRejected = errors.New("engine rejected operation")
	ErrAlreadyExists  = errors.New("already exists")
	ErrSessionClosed  = errors.New("session closed")

	// ErrFilesNotDeleted reports a removal whose engine handle was retired
	// but whose downloaded content could not be deleted.
	ErrFilesNotDeleted = errors.New("torrent removed but files not deleted")
)

var (
	ErrInvalidTorrentFile   = fmt.Errorf("%w: invalid torrent file", ErrInvalidInput)
	ErrInvalidMagnetLink    = fmt.Errorf("%w: invalid magnet link", ErrInvalidInput)
	ErrInvalidInfoHash      = fmt.Errorf("%w: invalid info hash", ErrInvalidInput)
	ErrInvalidConfiguration = fmt.Errorf("%w: invalid configuration", ErrInvalidInput)

	ErrTorrentNotFound = fmt.Errorf("torrent %w", ErrNotFound)
	// ErrTorrentRemoved is returned by operations on a torrent whose engine
	// handle has already been retired.
	ErrTorrentRemoved = fmt.Errorf("torrent removed: %w", ErrNotFound)
)

// Rejected wraps an engine failure so that callers can match both the
// generic ErrEngineRejected and the more specific kind.
func Rejected(kind, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %w", ErrEngineRejected, kind)
	}
	return fmt.Errorf("%w: %w: %v", ErrEngineRejected, kind, cause)
}
