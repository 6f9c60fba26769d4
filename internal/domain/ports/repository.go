package ports

import (
	"context"

	"torrentplay/internal/domain"
)

type TorrentRepository interface {
	Save(ctx context.Context, t domain.TorrentRecord) error
	Get(ctx context.Context, id domain.TorrentID) (domain.TorrentRecord, error)
	List(ctx context.Context) ([]domain.TorrentRecord, error)
	Delete(ctx context.Context, id domain.TorrentID) error
}

type WatchHistoryStore interface {
	Upsert(ctx context.Context, wp domain.WatchPosition) error
	Get(ctx context.Context, torrentID domain.TorrentID, fileIndex int) (domain.WatchPosition, error)
	ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error)
}
