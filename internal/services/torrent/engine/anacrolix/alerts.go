package anacrolix

import (
	"fmt"
	"log/slog"

	"torrentsession/internal/domain"
	"torrentsession/internal/domain/ports"
)

// maxPendingAlerts bounds the per-session queue between flushes. The oldest
// alerts are discarded first.
const maxPendingAlerts = 1000

func (e *Engine) SetAlertCallback(s ports.SessionHandle, cb ports.AlertCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if sess, ok := e.sessions[s]; ok {
		sess.callback = cb
	}
}

// ProcessAlerts derives state-change alerts from the torrents of session s
// and hands everything queued so far to the callback. The callback runs
// without the engine lock held.
func (e *Engine) ProcessAlerts(s ports.SessionHandle) error {
	e.mu.Lock()
	sess, ok := e.sessions[s]
	if !ok {
		e.mu.Unlock()
		return ErrUnknownHandle
	}
	for h := range sess.torrents {
		e.observeLocked(sess, e.torrents[h])
	}
	pending, cb := sess.pending, sess.callback
	sess.pending = nil
	e.mu.Unlock()

	if cb == nil {
		return nil
	}
	for _, msg := range pending {
		cb(msg)
	}
	return nil
}

// observeLocked queues alerts for metadata arrival and state transitions
// since the previous flush.
func (e *Engine) observeLocked(sess *clientSession, entry *torrentEntry) {
	if entry == nil || entry.t == nil {
		return
	}
	name := displayName(entry.t)
	if !entry.gotInfo && torrentInfoReady(entry.t) {
		entry.gotInfo = true
		e.enqueueLocked(sess, fmt.Sprintf("%s: metadata received", name))
	}
	state := torrentState(entry.t)
	if state == entry.lastState {
		return
	}
	prev := entry.lastState
	entry.lastState = state
	e.enqueueLocked(sess, fmt.Sprintf("%s: state changed %s -> %s", name, prev, state))
	if isComplete(state) && !isComplete(prev) {
		e.enqueueLocked(sess, fmt.Sprintf("%s: torrent finished", name))
	}
}

func (e *Engine) enqueueLocked(sess *clientSession, msg string) {
	if len(sess.pending) >= maxPendingAlerts {
		e.logger.Debug("engine alert queue full, discarding oldest", slog.String("alert", sess.pending[0]))
		sess.pending = sess.pending[1:]
	}
	sess.pending = append(sess.pending, msg)
}

func isComplete(s domain.TorrentState) bool {
	return s == domain.StateFinished || s == domain.StateSeeding
}
