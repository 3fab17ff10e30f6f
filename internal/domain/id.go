package domain

import "github.com/google/uuid"

// TorrentID is the locally generated identifier of a torrent registered in a
// session. It is unrelated to the info hash: adding the same content twice to
// two sessions yields two different IDs.
type TorrentID string

func NewTorrentID() TorrentID {
	return TorrentID(uuid.NewString())
}

func (id TorrentID) String() string {
	return string(id)
}
