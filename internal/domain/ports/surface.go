package ports

import (
	"context"
	"io"

	"torrentplay/internal/domain"
)

// PlaybackControls is the polled control surface of a media player.
type PlaybackControls interface {
	Play() error
	Pause() error
	CurrentTime() float64
	Duration() float64
	Paused() bool
	ReadyState() domain.ReadyState
}

// BufferSink accepts media bytes incrementally. AppendChunk starts one
// asynchronous append; done is called once when it finishes. A returned
// error means the append never started. Updating reports whether an append
// is still being processed, whether or not its done has been called yet.
type BufferSink interface {
	AppendChunk(data []byte, done func(error)) error
	Updating() bool
	EndOfStream() error
	Close() error
}

// DirectSource is a file the surface may render through its own progressive
// path.
type DirectSource interface {
	File() domain.FileRef
	MimeType() string
	Open() (io.ReadSeekCloser, error)
}

// RenderSurface is a media player able to play through any rung of the
// strategy chain.
type RenderSurface interface {
	PlaybackControls
	ID() string
	CanBuffer(mimeType string) bool
	OpenBufferSink(ctx context.Context, mimeType string) (BufferSink, error)
	RenderDirect(ctx context.Context, src DirectSource) error
	SetSource(ctx context.Context, handle domain.MaterializedHandle) error
	Events() <-chan domain.SurfaceEvent
	// Done is closed when the player goes away.
	Done() <-chan struct{}
}
