package session

import "torrentsession/internal/domain"

// registry maps torrent IDs to live torrents in insertion order. It has no
// lock of its own; the owning session guards it with its session lock.
type registry struct {
	byID  map[domain.TorrentID]*Torrent
	order []domain.TorrentID
}

func newRegistry() *registry {
	return &registry{byID: make(map[domain.TorrentID]*Torrent)}
}

func (r *registry) insert(t *Torrent) error {
	if _, ok := r.byID[t.id]; ok {
		return domain.ErrAlreadyExists
	}
	r.byID[t.id] = t
	r.order = append(r.order, t.id)
	return nil
}

func (r *registry) lookup(id domain.TorrentID) (*Torrent, bool) {
	t, ok := r.byID[id]
	return t, ok
}

func (r *registry) remove(id domain.TorrentID) bool {
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry) list() []*Torrent {
	out := make([]*Torrent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

func (r *registry) reset() {
	r.byID = make(map[domain.TorrentID]*Torrent)
	r.order = nil
}
