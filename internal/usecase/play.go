package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/services/playback"
)

const (
	defaultSetupTimeout    = 10 * time.Second
	defaultStreamReadahead = 16 << 20
)

// Player starts playback sessions. *playback.Manager implements it.
type Player interface {
	Play(ctx context.Context, swarm ports.SwarmProvider, file domain.FileRef, surface ports.RenderSurface) (*playback.Session, error)
}

type PlayFileInput struct {
	TorrentID domain.TorrentID
	FileIndex int // negative selects the first playable file
	Surface   ports.RenderSurface
}

type PlayResult struct {
	SessionID string           `json:"sessionId"`
	TorrentID domain.TorrentID `json:"torrentId"`
	File      domain.FileRef   `json:"file"`
	Kind      string           `json:"kind"`
	MimeType  string           `json:"mimeType"`
}

// PlayFile resolves a torrent file and hands it to the player, replacing any
// running session.
type PlayFile struct {
	Engine       ports.Engine
	Repo         ports.TorrentRepository
	Player       Player
	SetupTimeout time.Duration
}

func (uc PlayFile) Execute(ctx context.Context, input PlayFileInput) (PlayResult, error) {
	if input.Surface == nil {
		return PlayResult{}, ErrNoPlayer
	}

	swarm, err := resolveSwarm(ctx, uc.Engine, uc.Repo, input.TorrentID, uc.setupTimeout())
	if err != nil {
		return PlayResult{}, err
	}

	file, err := selectPlayableFile(swarm.Files(), input.FileIndex)
	if err != nil {
		return PlayResult{}, err
	}

	session, err := uc.Player.Play(ctx, swarm, file, input.Surface)
	if err != nil {
		return PlayResult{}, err
	}
	return PlayResult{
		SessionID: session.ID(),
		TorrentID: swarm.ID(),
		File:      file,
		Kind:      domain.Classify(file.Path).String(),
		MimeType:  domain.MimeType(file.Path),
	}, nil
}

func (uc PlayFile) setupTimeout() time.Duration {
	if uc.SetupTimeout > 0 {
		return uc.SetupTimeout
	}
	return defaultSetupTimeout
}

type StreamResult struct {
	Reader   ports.StreamReader
	File     domain.FileRef
	MimeType string
}

// StreamFile opens a seekable reader over one file for plain HTTP range
// requests. Callers close the reader.
type StreamFile struct {
	Engine         ports.Engine
	Repo           ports.TorrentRepository
	ReadaheadBytes int64
	SetupTimeout   time.Duration
}

func (uc StreamFile) Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (StreamResult, error) {
	timeout := uc.SetupTimeout
	if timeout <= 0 {
		timeout = defaultSetupTimeout
	}
	swarm, err := resolveSwarm(ctx, uc.Engine, uc.Repo, id, timeout)
	if err != nil {
		return StreamResult{}, err
	}

	files := swarm.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return StreamResult{}, ErrInvalidFileIndex
	}
	file := files[fileIndex]

	reader, err := swarm.NewFileReader(file)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return StreamResult{}, ErrInvalidFileIndex
		}
		return StreamResult{}, wrapEngine(err)
	}
	readahead := uc.ReadaheadBytes
	if readahead <= 0 {
		readahead = defaultStreamReadahead
	}
	// Not responsive: a plain HTTP copy must block on missing pieces rather
	// than see a short read as EOF.
	reader.SetContext(ctx)
	reader.SetReadahead(readahead)

	return StreamResult{Reader: reader, File: file, MimeType: domain.MimeType(file.Path)}, nil
}

// resolveSwarm waits up to timeout for the torrent's metadata. A torrent the
// engine no longer holds is re-added from its saved record.
func resolveSwarm(ctx context.Context, engine ports.Engine, repo ports.TorrentRepository, id domain.TorrentID, timeout time.Duration) (ports.SwarmProvider, error) {
	swarmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	swarm, err := engine.Swarm(swarmCtx, id)
	if err == nil {
		return swarm, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, wrapEngine(err)
	}
	if repo == nil {
		return nil, err
	}

	record, repoErr := repo.Get(ctx, id)
	if repoErr != nil {
		if errors.Is(repoErr, domain.ErrNotFound) {
			return nil, repoErr
		}
		return nil, wrapRepo(repoErr)
	}
	if !hasSource(record.Source) {
		return nil, domain.ErrNotFound
	}
	if _, err := engine.Add(ctx, record.Source); err != nil {
		return nil, wrapEngine(err)
	}
	swarm, err = engine.Swarm(swarmCtx, id)
	if err != nil {
		return nil, wrapEngine(err)
	}
	return swarm, nil
}

func selectPlayableFile(files []domain.FileRef, index int) (domain.FileRef, error) {
	if index < 0 {
		file, ok := domain.FirstPlayable(files)
		if !ok {
			return domain.FileRef{}, fmt.Errorf("%w: torrent has no video or audio file", domain.ErrNotPlayable)
		}
		return file, nil
	}
	if index >= len(files) {
		return domain.FileRef{}, ErrInvalidFileIndex
	}
	file := files[index]
	if !domain.IsPlayable(file.Path) {
		return domain.FileRef{}, fmt.Errorf("%w: %s", domain.ErrNotPlayable, file.Path)
	}
	return file, nil
}
