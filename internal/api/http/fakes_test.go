package apihttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/services/playback"
	"torrentplay/internal/usecase"
)

type fakeAddTorrent struct {
	called int
	input  usecase.AddTorrentInput
	result domain.TorrentState
	err    error
}

func (f *fakeAddTorrent) Execute(ctx context.Context, input usecase.AddTorrentInput) (domain.TorrentState, error) {
	f.called++
	f.input = input
	return f.result, f.err
}

type fakeSeedFiles struct {
	called int
	input  usecase.SeedFilesInput
	// files holds the staged content as seen during Execute.
	files  map[string]string
	result domain.SeedResult
	err    error
}

func (f *fakeSeedFiles) Execute(ctx context.Context, input usecase.SeedFilesInput) (domain.SeedResult, error) {
	f.called++
	f.input = input
	f.files = readTree(input.Path)
	return f.result, f.err
}

// readTree maps every regular file under root, relative to root, to its
// contents.
func readTree(root string) map[string]string {
	out := map[string]string{}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	return out
}

type fakeListTorrents struct {
	result []domain.TorrentState
	err    error
}

func (f *fakeListTorrents) Execute(ctx context.Context) ([]domain.TorrentState, error) {
	return f.result, f.err
}

type fakeGetTorrent struct {
	id     domain.TorrentID
	result domain.TorrentState
	err    error
}

func (f *fakeGetTorrent) Execute(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	f.id = id
	return f.result, f.err
}

type fakeRemoveTorrent struct {
	called int
	id     domain.TorrentID
	err    error
}

func (f *fakeRemoveTorrent) Execute(ctx context.Context, id domain.TorrentID) error {
	f.called++
	f.id = id
	return f.err
}

// fakePlayFile mirrors the use case's player check.
type fakePlayFile struct {
	input  usecase.PlayFileInput
	result usecase.PlayResult
	err    error
}

func (f *fakePlayFile) Execute(ctx context.Context, input usecase.PlayFileInput) (usecase.PlayResult, error) {
	f.input = input
	if input.Surface == nil {
		return usecase.PlayResult{}, usecase.ErrNoPlayer
	}
	return f.result, f.err
}

type fakeStreamFile struct {
	id        domain.TorrentID
	fileIndex int
	result    usecase.StreamResult
	err       error
}

func (f *fakeStreamFile) Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (usecase.StreamResult, error) {
	f.id = id
	f.fileIndex = fileIndex
	return f.result, f.err
}

type fakeDownloadFile struct {
	handle domain.MaterializedHandle
	err    error
}

func (f *fakeDownloadFile) Execute(ctx context.Context, id domain.TorrentID, fileIndex int) (domain.MaterializedHandle, error) {
	return f.handle, f.err
}

type fakePlayback struct {
	session *playback.Session
	stopped []domain.PlaybackOutcome
}

func (f *fakePlayback) Current() (*playback.Session, bool) {
	return f.session, f.session != nil
}

func (f *fakePlayback) Stop(outcome domain.PlaybackOutcome) bool {
	if f.session == nil {
		return false
	}
	f.stopped = append(f.stopped, outcome)
	return true
}

type fakeHistory struct {
	mu        sync.Mutex
	positions map[string]domain.WatchPosition
	listErr   error
	limit     int
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{positions: make(map[string]domain.WatchPosition)}
}

func historyKey(id domain.TorrentID, idx int) string {
	return fmt.Sprintf("%s:%d", id, idx)
}

func (f *fakeHistory) Upsert(ctx context.Context, wp domain.WatchPosition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[historyKey(wp.TorrentID, wp.FileIndex)] = wp
	return nil
}

func (f *fakeHistory) Get(ctx context.Context, id domain.TorrentID, idx int) (domain.WatchPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wp, ok := f.positions[historyKey(id, idx)]
	if !ok {
		return domain.WatchPosition{}, domain.ErrNotFound
	}
	return wp, nil
}

func (f *fakeHistory) ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.WatchPosition, 0, len(f.positions))
	for _, wp := range f.positions {
		out = append(out, wp)
	}
	return out, nil
}

// fakeStreamReader is a seekable in-memory torrent reader.
type fakeStreamReader struct {
	*bytes.Reader
	closed     bool
	responsive bool
}

func newFakeStreamReader(data []byte) *fakeStreamReader {
	return &fakeStreamReader{Reader: bytes.NewReader(data)}
}

func (r *fakeStreamReader) Close() error               { r.closed = true; return nil }
func (r *fakeStreamReader) SetContext(context.Context) {}
func (r *fakeStreamReader) SetReadahead(int64)         {}
func (r *fakeStreamReader) SetResponsive()             { r.responsive = true }

var _ ports.StreamReader = (*fakeStreamReader)(nil)

type fakeDirectSource struct {
	file domain.FileRef
	data []byte
}

func (s fakeDirectSource) File() domain.FileRef { return s.file }
func (s fakeDirectSource) MimeType() string     { return domain.MimeType(s.file.Path) }
func (s fakeDirectSource) Open() (io.ReadSeekCloser, error) {
	return newFakeStreamReader(s.data), nil
}

// fakeSwarm is just enough of a swarm to build a session for status tests.
type fakeSwarm struct {
	id    domain.TorrentID
	files []domain.FileRef
}

func (f *fakeSwarm) ID() domain.TorrentID    { return f.id }
func (f *fakeSwarm) Name() string            { return "fixture" }
func (f *fakeSwarm) Files() []domain.FileRef { return f.files }
func (f *fakeSwarm) PieceLayout(domain.FileRef) (domain.PieceLayout, error) {
	return domain.PieceLayout{}, errors.New("no metadata")
}
func (f *fakeSwarm) PieceAvailable(int) bool { return false }
func (f *fakeSwarm) GetPiece(ctx context.Context, index int) ([]byte, error) {
	return nil, ctx.Err()
}
func (f *fakeSwarm) SetPriority(int, int, domain.Priority) {}
func (f *fakeSwarm) OpenReadStream(context.Context, domain.FileRef) (ports.ChunkStream, error) {
	return nil, errors.New("not streaming")
}
func (f *fakeSwarm) NewFileReader(domain.FileRef) (ports.StreamReader, error) {
	return nil, errors.New("not streaming")
}
func (f *fakeSwarm) Materialize(context.Context, domain.FileRef) (domain.MaterializedHandle, error) {
	return domain.MaterializedHandle{}, errors.New("not materializing")
}
func (f *fakeSwarm) Stats() domain.SwarmStats { return domain.SwarmStats{} }

// stubSurface is an idle player.
type stubSurface struct{}

func (stubSurface) Play() error                   { return nil }
func (stubSurface) Pause() error                  { return nil }
func (stubSurface) CurrentTime() float64          { return 12.5 }
func (stubSurface) Duration() float64             { return 600 }
func (stubSurface) Paused() bool                  { return false }
func (stubSurface) ReadyState() domain.ReadyState { return domain.HaveEnoughData }
func (stubSurface) ID() string                    { return "stub" }
func (stubSurface) CanBuffer(string) bool         { return true }
func (stubSurface) OpenBufferSink(context.Context, string) (ports.BufferSink, error) {
	return nil, errors.New("no buffer")
}
func (stubSurface) RenderDirect(context.Context, ports.DirectSource) error { return nil }
func (stubSurface) SetSource(context.Context, domain.MaterializedHandle) error {
	return nil
}
func (stubSurface) Events() <-chan domain.SurfaceEvent { return nil }
func (stubSurface) Done() <-chan struct{}              { return nil }
