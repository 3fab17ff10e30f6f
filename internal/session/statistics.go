package session

import (
	"context"
	"errors"

	"torrentsession/internal/domain"
)

// Statistics sums the status of every registered torrent. Each torrent is
// queried in turn under its own lock, so the result is not an atomic cut:
// a torrent may change between two snapshots. Torrents removed while the
// aggregation runs are skipped.
func (s *Session) Statistics(ctx context.Context) (domain.SessionStatistics, error) {
	ctx, span := s.tracer.Start(ctx, "session.statistics")
	defer span.End()

	var torrents []*Torrent
	err := s.withSession(ctx, "", func() error {
		torrents = s.registry.list()
		return nil
	})
	if err != nil {
		return domain.SessionStatistics{}, err
	}

	var stats domain.SessionStatistics
	for _, t := range torrents {
		st, err := t.Status(ctx)
		if errors.Is(err, domain.ErrTorrentRemoved) {
			continue
		}
		if err != nil {
			return domain.SessionStatistics{}, err
		}
		stats.Add(st)
	}
	return stats, nil
}
