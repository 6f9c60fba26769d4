package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/metrics"
)

// SyncState periodically copies engine progress into saved records and
// refreshes the engine gauges.
type SyncState struct {
	Engine   ports.Engine
	Repo     ports.TorrentRepository
	Logger   *slog.Logger
	Interval time.Duration
	// OnStates receives every snapshot, e.g. for websocket broadcast.
	OnStates func([]domain.TorrentState)
}

func (s SyncState) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

func (s SyncState) sync(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	states, err := s.Engine.List(ctx)
	if err != nil {
		logger.Warn("sync: list torrents failed", slog.String("error", err.Error()))
		return
	}

	var speed int64
	var peers int
	for _, st := range states {
		speed += st.DownloadSpeed
		peers += st.Peers
	}
	metrics.ActiveTorrents.Set(float64(len(states)))
	metrics.DownloadSpeedBytes.Set(float64(speed))
	metrics.PeersConnected.Set(float64(peers))

	if s.OnStates != nil {
		s.OnStates(states)
	}
	if s.Repo == nil {
		return
	}

	now := time.Now().UTC()
	for _, state := range states {
		record, err := s.Repo.Get(ctx, state.ID)
		if err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				logger.Warn("sync: get record failed",
					slog.String("id", string(state.ID)),
					slog.String("error", err.Error()))
			}
			continue
		}

		updated, changed := mergeState(record, state)
		if !changed {
			continue
		}
		updated.UpdatedAt = now
		if err := s.Repo.Save(ctx, updated); err != nil {
			logger.Warn("sync: save record failed",
				slog.String("id", string(state.ID)),
				slog.String("error", err.Error()))
		}
	}
}

// mergeState applies a live state to a record. Done bytes never decrease:
// the client re-verifies pieces after a restart.
func mergeState(record domain.TorrentRecord, state domain.TorrentState) (domain.TorrentRecord, bool) {
	changed := false

	if state.Status != record.Status && state.Status != domain.TorrentPending {
		record.Status = state.Status
		changed = true
	}

	if len(state.Files) > 0 {
		if len(state.Files) != len(record.Files) {
			record.Files = state.Files
			record.TotalBytes = sumFileLengths(state.Files)
			changed = true
		} else {
			for i, sf := range state.Files {
				if sf.BytesCompleted > record.Files[i].BytesCompleted {
					record.Files[i].BytesCompleted = sf.BytesCompleted
					changed = true
				}
			}
		}
		if done := sumBytesCompleted(state.Files); done > record.DoneBytes {
			record.DoneBytes = done
			if record.TotalBytes > 0 && record.DoneBytes > record.TotalBytes {
				record.DoneBytes = record.TotalBytes
			}
			changed = true
		}
	}

	if record.Name == "" {
		if name := state.Name; name != "" {
			record.Name = name
			changed = true
		} else if name := deriveName(state.Files); name != "" {
			record.Name = name
			changed = true
		}
	}

	return record, changed
}
