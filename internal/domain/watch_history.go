package domain

import "time"

// PlaybackOutcome is how a playback session ended.
type PlaybackOutcome string

const (
	OutcomeStopped  PlaybackOutcome = "stopped"
	OutcomeReplaced PlaybackOutcome = "replaced"
	OutcomeRemoved  PlaybackOutcome = "removed"
	OutcomeFailed   PlaybackOutcome = "failed"
)

type WatchPosition struct {
	TorrentID   TorrentID       `json:"torrentId"`
	FileIndex   int             `json:"fileIndex"`
	Position    float64         `json:"position"`
	Duration    float64         `json:"duration"`
	TorrentName string          `json:"torrentName"`
	FilePath    string          `json:"filePath"`
	Rung        Rung            `json:"rung"`
	Outcome     PlaybackOutcome `json:"outcome"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}
