package domain

import "errors"

// SessionMode is the lifecycle state of a session as seen by callers.
type SessionMode string

const (
	ModeActive SessionMode = "active"
	ModePaused SessionMode = "paused"
	ModeClosed SessionMode = "closed" // Terminal; the engine session is destroyed.
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the adjacency list of allowed mode transitions.
// Self-transitions are listed so that pause and resume stay idempotent.
var validTransitions = map[SessionMode][]SessionMode{
	ModeActive: {ModeActive, ModePaused, ModeClosed},
	ModePaused: {ModePaused, ModeActive, ModeClosed},
	ModeClosed: {},
}

// CanTransition reports whether a transition from one mode to another is valid.
func CanTransition(from, to SessionMode) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
