package anacrolix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

var ErrTorrentNotFound = domain.ErrNotFound

// ErrClientBusy is returned when the client did not accept a torrent in time.
var ErrClientBusy = errors.New("torrent client busy, try again later")

const (
	defaultAddTimeout      = 10 * time.Second
	defaultChunkSize       = 64 << 10
	defaultMaterializePoll = time.Second
	// Torrents without metadata after this long are dropped.
	metadataWaitTimeout = 10 * time.Minute
	// infoGrace is how long Add waits for metadata before returning a
	// pending state.
	infoGrace = 5 * time.Second
)

type Config struct {
	DataDir         string
	AddTimeout      time.Duration
	ChunkSize       int64         // read stream chunk size in bytes
	MaterializePoll time.Duration // completion poll interval while materializing
	Logger          *slog.Logger
}

type Engine struct {
	client  *torrent.Client
	dataDir string
	cfg     Config
	logger  *slog.Logger

	mu            sync.RWMutex
	torrents      map[domain.TorrentID]*torrent.Torrent
	peakCompleted map[domain.TorrentID]int64 // BytesCompleted high-water mark

	speedMu sync.Mutex
	speeds  map[domain.TorrentID]speedSample

	hintsMu sync.Mutex
	hints   map[domain.TorrentID]*raisedPieces
}

var _ ports.Engine = (*Engine)(nil)

func New(cfg Config) (*Engine, error) {
	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DataDir != "" {
		clientConfig.DataDir = cfg.DataDir
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	e := newEngine(cfg)
	e.client = client
	e.dataDir = clientConfig.DataDir
	return e, nil
}

func newEngine(cfg Config) *Engine {
	if cfg.AddTimeout <= 0 {
		cfg.AddTimeout = defaultAddTimeout
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaultChunkSize
	}
	if cfg.MaterializePoll <= 0 {
		cfg.MaterializePoll = defaultMaterializePoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dataDir:       cfg.DataDir,
		cfg:           cfg,
		logger:        logger,
		torrents:      make(map[domain.TorrentID]*torrent.Torrent),
		peakCompleted: make(map[domain.TorrentID]int64),
		speeds:        make(map[domain.TorrentID]speedSample),
		hints:         make(map[domain.TorrentID]*raisedPieces),
	}
}

// Add registers a torrent from a magnet link or a .torrent file path. Adding
// a torrent that is already present returns its current state.
func (e *Engine) Add(ctx context.Context, src domain.TorrentSource) (domain.TorrentState, error) {
	if e.client == nil {
		return domain.TorrentState{}, errors.New("torrent client not configured")
	}
	if src.Magnet == "" && src.Torrent == "" {
		return domain.TorrentState{}, errors.New("torrent source is empty")
	}

	// AddMagnet can block on the client mutex while another torrent resolves
	// metadata, so it runs with a timeout.
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		if src.Magnet != "" {
			t, err = e.client.AddMagnet(src.Magnet)
		} else {
			t, err = e.client.AddTorrentFromFile(src.Torrent)
		}
		ch <- addResult{t, err}
	}()

	dropLate := func() {
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
	}

	var t *torrent.Torrent
	select {
	case res := <-ch:
		if res.err != nil {
			return domain.TorrentState{}, res.err
		}
		t = res.t
	case <-time.After(e.cfg.AddTimeout):
		dropLate()
		return domain.TorrentState{}, ErrClientBusy
	case <-ctx.Done():
		dropLate()
		return domain.TorrentState{}, ctx.Err()
	}

	id := domain.TorrentID(t.InfoHash().HexString())

	e.mu.Lock()
	_, exists := e.torrents[id]
	if !exists {
		e.torrents[id] = t
	}
	e.mu.Unlock()

	if !exists {
		e.logger.Info("torrent added", slog.String("torrentId", string(id)), slog.String("name", t.Name()))
		go e.waitForInfo(t, id)
	}

	graceCtx, cancel := context.WithTimeout(ctx, infoGrace)
	defer cancel()
	select {
	case <-t.GotInfo():
	case <-graceCtx.Done():
	}
	return e.State(ctx, id)
}

// waitForInfo starts the download once metadata arrives, or drops the torrent
// if it never does.
func (e *Engine) waitForInfo(t *torrent.Torrent, id domain.TorrentID) {
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	case <-time.After(metadataWaitTimeout):
		e.logger.Warn("torrent metadata timeout, dropping", slog.String("torrentId", string(id)))
		e.mu.RLock()
		_, ok := e.torrents[id]
		e.mu.RUnlock()
		if ok {
			_ = e.dropTorrent(id, t)
		}
		return
	}

	e.mu.RLock()
	_, ok := e.torrents[id]
	e.mu.RUnlock()
	if !ok {
		return
	}
	t.DownloadAll()
	e.logger.Info("torrent metadata ready",
		slog.String("torrentId", string(id)),
		slog.Int("files", len(t.Files())),
		slog.Int64("length", t.Length()),
	)
}

func (e *Engine) Remove(ctx context.Context, id domain.TorrentID) error {
	t := e.getTorrent(id)
	if t == nil {
		return ErrTorrentNotFound
	}
	return e.dropTorrent(id, t)
}

func (e *Engine) State(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	t := e.getTorrent(id)
	if t == nil {
		return domain.TorrentState{}, ErrTorrentNotFound
	}
	now := time.Now().UTC()
	stats := t.Stats()

	if !torrentInfoReady(t) {
		return domain.TorrentState{
			ID:        id,
			Name:      t.Name(),
			Status:    domain.TorrentPending,
			Peers:     stats.ActivePeers,
			UpdatedAt: now,
		}, nil
	}

	length := t.Length()
	completed := e.stableCompleted(id, t.BytesCompleted())
	progress := float64(0)
	if length > 0 {
		progress = float64(completed) / float64(length)
	}
	status := domain.TorrentActive
	if length > 0 && completed >= length {
		status = domain.TorrentCompleted
	}
	files := mapFiles(t)
	_, playable := domain.FirstPlayable(files)

	return domain.TorrentState{
		ID:            id,
		Name:          t.Name(),
		Status:        status,
		Progress:      progress,
		Peers:         stats.ActivePeers,
		DownloadSpeed: e.sampleSpeed(id, stats, now),
		Uploaded:      stats.BytesWrittenData.Int64(),
		Length:        length,
		Files:         files,
		Playable:      playable,
		UpdatedAt:     now,
	}, nil
}

func (e *Engine) List(ctx context.Context) ([]domain.TorrentState, error) {
	e.mu.RLock()
	ids := make([]domain.TorrentID, 0, len(e.torrents))
	for id := range e.torrents {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	states := make([]domain.TorrentState, 0, len(ids))
	for _, id := range ids {
		st, err := e.State(ctx, id)
		if errors.Is(err, ErrTorrentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].Name == states[j].Name {
			return states[i].ID < states[j].ID
		}
		return states[i].Name < states[j].Name
	})
	return states, nil
}

// Swarm returns the piece-level view of a torrent. It waits for metadata
// until ctx is done.
func (e *Engine) Swarm(ctx context.Context, id domain.TorrentID) (ports.SwarmProvider, error) {
	t := e.getTorrent(id)
	if t == nil {
		return nil, ErrTorrentNotFound
	}
	select {
	case <-t.GotInfo():
	case <-ctx.Done():
		return nil, fmt.Errorf("torrent %s metadata not ready: %w", id, ctx.Err())
	}
	return &Swarm{engine: e, torrent: t, id: id}, nil
}

func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return errors.Join(e.client.Close()...)
}

func (e *Engine) getTorrent(id domain.TorrentID) *torrent.Torrent {
	e.mu.RLock()
	t := e.torrents[id]
	e.mu.RUnlock()
	if t == nil {
		return nil
	}
	select {
	case <-t.Closed():
		_ = e.dropTorrent(id, t)
		return nil
	default:
		return t
	}
}

func (e *Engine) dropTorrent(id domain.TorrentID, t *torrent.Torrent) error {
	e.mu.Lock()
	delete(e.torrents, id)
	delete(e.peakCompleted, id)
	e.mu.Unlock()
	e.forgetSpeed(id)
	e.forgetHints(id)
	if t != nil {
		t.Drop()
	}
	e.logger.Info("torrent removed", slog.String("torrentId", string(id)))
	freeOSMemory()
	return nil
}

// stableCompleted keeps a high-water mark: after a restart the client
// re-verifies pieces and BytesCompleted dips temporarily.
func (e *Engine) stableCompleted(id domain.TorrentID, completed int64) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if completed > e.peakCompleted[id] {
		e.peakCompleted[id] = completed
		return completed
	}
	return e.peakCompleted[id]
}

func freeOSMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}

func mapFiles(t *torrent.Torrent) (mapped []domain.FileRef) {
	if !torrentInfoReady(t) {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("mapFiles panic recovered",
				slog.Any("error", r),
				slog.String("stack", string(debug.Stack())),
			)
			mapped = nil
		}
	}()

	files := t.Files()
	mapped = make([]domain.FileRef, 0, len(files))
	for i, f := range files {
		mapped = append(mapped, domain.FileRef{
			Index:          i,
			Path:           f.Path(),
			Length:         f.Length(),
			BytesCompleted: f.BytesCompleted(),
		})
	}
	return mapped
}

func torrentInfoReady(t *torrent.Torrent) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.GotInfo():
		return true
	default:
		return false
	}
}

type speedSample struct {
	at        time.Time
	bytesRead int64
}

func (e *Engine) sampleSpeed(id domain.TorrentID, stats torrent.TorrentStats, now time.Time) int64 {
	current := stats.BytesReadUsefulData.Int64()

	e.speedMu.Lock()
	defer e.speedMu.Unlock()

	prev, ok := e.speeds[id]
	e.speeds[id] = speedSample{at: now, bytesRead: current}
	if !ok || prev.at.IsZero() {
		return 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	delta := current - prev.bytesRead
	if delta < 0 {
		delta = 0
	}
	return int64(float64(delta) / dt)
}

func (e *Engine) forgetSpeed(id domain.TorrentID) {
	e.speedMu.Lock()
	delete(e.speeds, id)
	e.speedMu.Unlock()
}
