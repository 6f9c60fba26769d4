package domain

import "time"

// EventLevel is the severity of a user-facing playback event.
type EventLevel string

const (
	EventInfo    EventLevel = "info"
	EventSuccess EventLevel = "success"
	EventWarning EventLevel = "warning"
	EventError   EventLevel = "error"
)

// PlaybackEvent is a single human-readable notification about a torrent or a
// playback session.
type PlaybackEvent struct {
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	TorrentID TorrentID  `json:"torrentId,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Rung      Rung       `json:"rung,omitempty"`
	Terminal  bool       `json:"terminal,omitempty"`
	At        time.Time  `json:"at"`
}
