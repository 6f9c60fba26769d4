package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

type AddTorrentInput struct {
	Magnet      string
	InfoHash    string
	TorrentFile string // local path of an uploaded .torrent
}

// AddTorrent adds a torrent to the engine and saves it so it is restored on
// the next start.
type AddTorrent struct {
	Engine ports.Engine
	Repo   ports.TorrentRepository
	Now    func() time.Time
}

func (uc AddTorrent) Execute(ctx context.Context, input AddTorrentInput) (domain.TorrentState, error) {
	src, err := normalizeSource(input)
	if err != nil {
		return domain.TorrentState{}, err
	}

	state, err := uc.Engine.Add(ctx, src)
	if err != nil {
		return domain.TorrentState{}, wrapEngine(err)
	}

	if uc.Repo == nil {
		return state, nil
	}
	now := time.Now
	if uc.Now != nil {
		now = uc.Now
	}
	record := recordFromState(state, src, now().UTC())
	if existing, err := uc.Repo.Get(ctx, state.ID); err == nil {
		record.CreatedAt = existing.CreatedAt
		if record.DoneBytes < existing.DoneBytes {
			record.DoneBytes = existing.DoneBytes
		}
	}
	if err := uc.Repo.Save(ctx, record); err != nil {
		_ = uc.Engine.Remove(ctx, state.ID)
		return domain.TorrentState{}, wrapRepo(err)
	}
	return state, nil
}

func recordFromState(state domain.TorrentState, src domain.TorrentSource, now time.Time) domain.TorrentRecord {
	infoHash := parseInfoHash(src.Magnet)
	if infoHash == "" {
		infoHash = domain.InfoHash(state.ID)
	}
	name := state.Name
	if name == "" {
		name = deriveName(state.Files)
	}
	total := sumFileLengths(state.Files)
	if total == 0 {
		total = state.Length
	}
	done := sumBytesCompleted(state.Files)
	if total > 0 && done > total {
		done = total
	}
	return domain.TorrentRecord{
		ID:         state.ID,
		Name:       name,
		Status:     state.Status,
		InfoHash:   infoHash,
		Source:     src,
		Files:      state.Files,
		TotalBytes: total,
		DoneBytes:  done,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

type SeedFilesInput struct {
	Path     string // file or directory directly inside the data dir
	Trackers []string
}

// SeedFiles shares local content as a new torrent and saves it, so seeding
// resumes on the next start.
type SeedFiles struct {
	Engine ports.Engine
	Repo   ports.TorrentRepository
	// Trackers announce the torrent when the input names none.
	Trackers []string
	Now      func() time.Time
	Logger   *slog.Logger
}

func (uc SeedFiles) Execute(ctx context.Context, input SeedFilesInput) (domain.SeedResult, error) {
	if strings.TrimSpace(input.Path) == "" {
		return domain.SeedResult{}, fmt.Errorf("%w: nothing to seed", domain.ErrInvalidSeed)
	}
	trackers := input.Trackers
	if len(trackers) == 0 {
		trackers = uc.Trackers
	}

	result, err := uc.Engine.Seed(ctx, domain.SeedRequest{Path: input.Path, Trackers: trackers})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSeed) {
			return domain.SeedResult{}, err
		}
		return domain.SeedResult{}, wrapEngine(err)
	}

	if uc.Repo != nil {
		now := time.Now
		if uc.Now != nil {
			now = uc.Now
		}
		src := domain.TorrentSource{Torrent: result.TorrentFile}
		if src.Torrent == "" {
			src.Magnet = result.Magnet
		}
		record := recordFromState(result.Torrent, src, now().UTC())
		record.InfoHash = result.InfoHash
		if err := uc.Repo.Save(ctx, record); err != nil {
			_ = uc.Engine.Remove(ctx, result.Torrent.ID)
			return domain.SeedResult{}, wrapRepo(err)
		}
	}

	logger := uc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("seeding started",
		slog.String("torrentId", string(result.Torrent.ID)),
		slog.String("name", result.Torrent.Name),
		slog.String("magnet", result.Magnet),
	)
	return result, nil
}

type ListTorrents struct {
	Engine ports.Engine
}

func (uc ListTorrents) Execute(ctx context.Context) ([]domain.TorrentState, error) {
	states, err := uc.Engine.List(ctx)
	if err != nil {
		return nil, wrapEngine(err)
	}
	return states, nil
}

type GetTorrent struct {
	Engine ports.Engine
}

func (uc GetTorrent) Execute(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	state, err := uc.Engine.State(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TorrentState{}, err
		}
		return domain.TorrentState{}, wrapEngine(err)
	}
	return state, nil
}

// PlaybackStopper ends the playback session of a torrent.
type PlaybackStopper interface {
	StopTorrent(id domain.TorrentID, outcome domain.PlaybackOutcome) bool
}

// RemoveTorrent stops playback of the torrent, drops it from the engine and
// forgets the saved record.
type RemoveTorrent struct {
	Engine ports.Engine
	Repo   ports.TorrentRepository
	Player PlaybackStopper
	Logger *slog.Logger
}

func (uc RemoveTorrent) Execute(ctx context.Context, id domain.TorrentID) error {
	if uc.Player != nil && uc.Player.StopTorrent(id, domain.OutcomeRemoved) {
		uc.logger().Info("playback stopped for removed torrent", slog.String("torrentId", string(id)))
	}

	engineErr := uc.Engine.Remove(ctx, id)
	if engineErr != nil && !errors.Is(engineErr, domain.ErrNotFound) {
		return wrapEngine(engineErr)
	}

	repoErr := domain.ErrNotFound
	if uc.Repo != nil {
		repoErr = uc.Repo.Delete(ctx, id)
		if repoErr != nil && !errors.Is(repoErr, domain.ErrNotFound) {
			return wrapRepo(repoErr)
		}
	}

	if engineErr != nil && repoErr != nil {
		return domain.ErrNotFound
	}
	return nil
}

func (uc RemoveTorrent) logger() *slog.Logger {
	if uc.Logger != nil {
		return uc.Logger
	}
	return slog.Default()
}
