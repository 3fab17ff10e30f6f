package domain

import "time"

type TorrentState string

const (
	StateCheckingFiles       TorrentState = "checking_files"
	StateDownloadingMetadata TorrentState = "downloading_metadata"
	StateDownloading         TorrentState = "downloading"
	StateFinished            TorrentState = "finished"
	StateSeeding             TorrentState = "seeding"
	StateCheckingResumeData  TorrentState = "checking_resume_data"
)

// Valid reports whether s is one of the known engine states.
func (s TorrentState) Valid() bool {
	switch s {
	case StateCheckingFiles, StateDownloadingMetadata, StateDownloading,
		StateFinished, StateSeeding, StateCheckingResumeData:
		return true
	}
	return false
}

// TorrentStatus is a point-in-time copy of the engine's view of one torrent.
type TorrentStatus struct {
	State         TorrentState `json:"state"`
	Progress      float64      `json:"progress"`
	DownloadRate  int64        `json:"downloadRate"`
	UploadRate    int64        `json:"uploadRate"`
	TotalDownload int64        `json:"totalDownload"`
	TotalUpload   int64        `json:"totalUpload"`
	NumPeers      int          `json:"numPeers"`
	NumSeeds      int          `json:"numSeeds"`
	IsPaused      bool         `json:"isPaused"`
	IsFinished    bool         `json:"isFinished"`
	CapturedAt    time.Time    `json:"capturedAt"`
}

// ClampProgress keeps progress inside [0, 1]; engines occasionally report
// slightly more than 1 while rechecking.
func ClampProgress(p float64) float64 {
	switch {
	case p != p, p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}

type TorrentInfo struct {
	Name        string `json:"name"`
	TotalSize   int64  `json:"totalSize"`
	PieceLength int64  `json:"pieceLength"`
	InfoHash    string `json:"infoHash"`
	NumFiles    int    `json:"numFiles"`
}
