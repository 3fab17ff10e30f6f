package domain

// SessionStatistics aggregates per-torrent snapshots. The individual
// snapshots are taken one after another, so the totals are a best-effort
// sample rather than a consistent cut across torrents.
type SessionStatistics struct {
	TotalDownload  int64 `json:"totalDownload"`
	TotalUpload    int64 `json:"totalUpload"`
	DownloadRate   int64 `json:"downloadRate"`
	UploadRate     int64 `json:"uploadRate"`
	ActiveTorrents int   `json:"activeTorrents"`
	PausedTorrents int   `json:"pausedTorrents"`
	TotalPeers     int   `json:"totalPeers"`
	TotalSeeds     int   `json:"totalSeeds"`
}

// Add folds one torrent snapshot into the aggregate.
func (s *SessionStatistics) Add(st TorrentStatus) {
	s.TotalDownload += st.TotalDownload
	s.TotalUpload += st.TotalUpload
	s.DownloadRate += st.DownloadRate
	s.UploadRate += st.UploadRate
	s.TotalPeers += st.NumPeers
	s.TotalSeeds += st.NumSeeds
	if st.IsPaused {
		s.PausedTorrents++
	} else {
		s.ActiveTorrents++
	}
}
