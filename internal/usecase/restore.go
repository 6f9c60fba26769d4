package usecase

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"torrentplay/internal/domain/ports"
)

const defaultRestoreConcurrency = 4

// RestoreTorrents re-adds every saved torrent to the engine. Failures are
// logged per torrent and never abort the rest.
type RestoreTorrents struct {
	Engine      ports.Engine
	Repo        ports.TorrentRepository
	Logger      *slog.Logger
	Concurrency int
}

// Execute returns how many torrents were restored.
func (uc RestoreTorrents) Execute(ctx context.Context) (int, error) {
	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}

	records, err := uc.Repo.List(ctx)
	if err != nil {
		return 0, wrapRepo(err)
	}
	if len(records) == 0 {
		return 0, nil
	}
	logger.Info("restoring torrents", slog.Int("count", len(records)))

	limit := uc.Concurrency
	if limit <= 0 {
		limit = defaultRestoreConcurrency
	}

	var restored atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, rec := range records {
		g.Go(func() error {
			if !hasSource(rec.Source) {
				logger.Warn("restore: no source", slog.String("id", string(rec.ID)))
				return nil
			}
			if _, err := uc.Engine.Add(gctx, rec.Source); err != nil {
				logger.Warn("restore: add failed",
					slog.String("id", string(rec.ID)),
					slog.String("error", err.Error()))
				return nil
			}
			restored.Add(1)
			logger.Info("restored torrent", slog.String("id", string(rec.ID)), slog.String("name", rec.Name))
			return nil
		})
	}
	// Workers never return errors; Wait only joins them.
	_ = g.Wait()
	return int(restored.Load()), ctx.Err()
}
