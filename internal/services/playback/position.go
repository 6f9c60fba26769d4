package playback

import (
	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// Tracker reads the playback position from the rendering surface on demand.
// It keeps no state of its own.
type Tracker struct {
	controls ports.PlaybackControls
}

func NewTracker(controls ports.PlaybackControls) *Tracker {
	return &Tracker{controls: controls}
}

func (t *Tracker) Position() domain.Position {
	if t == nil || t.controls == nil {
		return domain.Position{Paused: true}
	}
	return domain.Position{
		CurrentTime: t.controls.CurrentTime(),
		Duration:    t.controls.Duration(),
		Paused:      t.controls.Paused(),
		ReadyState:  t.controls.ReadyState(),
	}
}

func (t *Tracker) Paused() bool {
	return t.Position().Paused
}

func (t *Tracker) ReadyState() domain.ReadyState {
	return t.Position().ReadyState
}
