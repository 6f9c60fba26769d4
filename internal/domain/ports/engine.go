package ports

import (
	"context"

	"torrentplay/internal/domain"
)

// Engine owns the torrent client and the set of torrents it is serving.
type Engine interface {
	Add(ctx context.Context, src domain.TorrentSource) (domain.TorrentState, error)
	// Seed creates a torrent from local content and starts serving it.
	Seed(ctx context.Context, req domain.SeedRequest) (domain.SeedResult, error)
	Remove(ctx context.Context, id domain.TorrentID) error
	State(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error)
	List(ctx context.Context) ([]domain.TorrentState, error)
	Swarm(ctx context.Context, id domain.TorrentID) (SwarmProvider, error)
	Close() error
}
