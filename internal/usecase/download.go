package usecase

import (
	"context"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// DownloadFile waits until every byte of one file is local and returns where
// it lives. It blocks for as long as ctx allows.
type DownloadFile struct {
	Engine       ports.Engine
	Repo         ports.TorrentRepository
	SetupTimeout time.Duration
}

func (uc DownloadFile) Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (domain.MaterializedHandle, error) {
	timeout := uc.SetupTimeout
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	swarm, err := resolveSwarm(ctx, uc.Engine, uc.Repo, id, timeout)
	if err != nil {
		return domain.MaterializedHandle{}, err
	}

	files := swarm.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return domain.MaterializedHandle{}, ErrInvalidFileIndex
	}

	handle, err := swarm.Materialize(ctx, files[fileIndex])
	if err != nil {
		if ctx.Err() != nil {
			return domain.MaterializedHandle{}, ctx.Err()
		}
		return domain.MaterializedHandle{}, wrapEngine(err)
	}
	return handle, nil
}
