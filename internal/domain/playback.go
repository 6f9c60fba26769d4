package domain

import "math"

// ReadyState mirrors the media element readiness ladder of the rendering
// surface.
type ReadyState int

const (
	HaveNothing ReadyState = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

var readyStateNames = [...]string{
	"nothing", "metadata", "current-data", "future-data", "enough-data",
}

func (r ReadyState) String() string {
	if r >= 0 && int(r) < len(readyStateNames) {
		return readyStateNames[r]
	}
	return "unknown"
}

// Position is a point-in-time read of the rendering surface.
type Position struct {
	CurrentTime float64    `json:"currentTime"`
	Duration    float64    `json:"duration"`
	Paused      bool       `json:"paused"`
	ReadyState  ReadyState `json:"readyState"`
}

// DurationKnown is false for zero, negative, NaN and infinite durations.
func (p Position) DurationKnown() bool {
	return p.Duration > 0 && !math.IsNaN(p.Duration) && !math.IsInf(p.Duration, 0)
}

// Stalled reports whether the surface is not making progress: paused, or
// without enough data to render the current frame.
func (p Position) Stalled() bool {
	return p.Paused || p.ReadyState < HaveCurrentData
}

// SurfaceEventKind enumerates events pushed by the rendering surface.
type SurfaceEventKind string

const (
	SurfaceSeeked SurfaceEventKind = "seeked"
	SurfacePaused SurfaceEventKind = "pause"
	SurfacePlayed SurfaceEventKind = "play"
	SurfaceError  SurfaceEventKind = "error"
	SurfaceClosed SurfaceEventKind = "closed"
)

type SurfaceEvent struct {
	Kind    SurfaceEventKind `json:"kind"`
	Time    float64          `json:"time,omitempty"`
	Message string           `json:"message,omitempty"`
}
