package domain

import "time"

// Alert is a free-text engine event relayed to subscribers. Timestamp is the
// moment the engine callback handed the message over, not the moment a
// subscriber reads it.
type Alert struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
