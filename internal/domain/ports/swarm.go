package ports

import (
	"context"

	"torrentplay/internal/domain"
)

// SwarmProvider yields piece data for one torrent and accepts priority hints.
// Peer management, piece verification and the wire protocol live behind it.
type SwarmProvider interface {
	ID() domain.TorrentID
	Name() string
	Files() []domain.FileRef
	PieceLayout(file domain.FileRef) (domain.PieceLayout, error)
	PieceAvailable(index int) bool
	// GetPiece blocks until the piece is available or ctx is done.
	GetPiece(ctx context.Context, index int) ([]byte, error)
	// SetPriority applies to pieces [start, end). Out-of-range indexes are
	// ignored.
	SetPriority(start, end int, prio domain.Priority)
	OpenReadStream(ctx context.Context, file domain.FileRef) (ChunkStream, error)
	NewFileReader(file domain.FileRef) (StreamReader, error)
	// Materialize blocks until every byte of the file is local.
	Materialize(ctx context.Context, file domain.FileRef) (domain.MaterializedHandle, error)
	Stats() domain.SwarmStats
}

// ChunkStream delivers a file's bytes in order. Chunks is closed at end of
// stream; Err then reports why (nil for a clean end).
type ChunkStream interface {
	Chunks() <-chan domain.Chunk
	Err() error
	Close() error
}
