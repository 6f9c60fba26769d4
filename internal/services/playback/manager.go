package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// replaceTimeout bounds how long a new play request waits for the previous
// session to release the surface.
const replaceTimeout = 5 * time.Second

// Manager keeps at most one playback session alive. Starting a new one
// destroys the previous session first.
type Manager struct {
	cfg      Config
	reporter ports.EventReporter
	history  ports.WatchHistoryStore
	logger   *slog.Logger

	mu      sync.Mutex
	current *Session
	seq     atomic.Uint64
}

func NewManager(cfg Config, reporter ports.EventReporter, history ports.WatchHistoryStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, reporter: reporter, history: history, logger: logger}
}

// Play starts a session for file on surface, replacing any running session.
func (m *Manager) Play(ctx context.Context, swarm ports.SwarmProvider, file domain.FileRef, surface ports.RenderSurface) (*Session, error) {
	if !domain.IsPlayable(file.Path) {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPlayable, file.Path)
	}

	id := fmt.Sprintf("%s-%d", shortID(swarm.ID()), m.seq.Add(1))
	session, err := NewSession(SessionParams{
		ID:       id,
		Swarm:    swarm,
		File:     file,
		Surface:  surface,
		Reporter: m.reporter,
		History:  m.history,
		Logger:   m.logger,
		Config:   m.cfg,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.current
	m.current = session
	m.mu.Unlock()

	if prev != nil {
		prev.Stop(domain.OutcomeReplaced)
		waitCtx, cancel := context.WithTimeout(ctx, replaceTimeout)
		if err := prev.Wait(waitCtx); err != nil {
			m.logger.Warn("previous playback session slow to stop",
				slog.String("sessionId", prev.ID()),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	go func() {
		err := session.Run(context.Background())
		m.mu.Lock()
		if m.current == session {
			m.current = nil
		}
		m.mu.Unlock()
		if err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Warn("playback session failed",
				slog.String("sessionId", session.ID()),
				slog.String("error", err.Error()),
			)
		}
	}()
	return session, nil
}

// Current returns the running session, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.current != nil
}

// Stop ends the running session. It reports whether one was running.
func (m *Manager) Stop(outcome domain.PlaybackOutcome) bool {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return false
	}
	s.Stop(outcome)
	return true
}

// StopTorrent ends the running session if it plays from torrent id.
func (m *Manager) StopTorrent(id domain.TorrentID, outcome domain.PlaybackOutcome) bool {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil || s.TorrentID() != id {
		return false
	}
	s.Stop(outcome)
	return true
}

// Shutdown stops the running session and waits for it to finish.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.Stop(domain.OutcomeStopped)
	_ = s.Wait(ctx)
}

func shortID(id domain.TorrentID) string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}
