package usecase

import (
	"context"
	"errors"
	"sync"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/services/playback"
)

type fakeEngine struct {
	mu        sync.Mutex
	added     []domain.TorrentSource
	addErr    error
	addState  domain.TorrentState
	states    map[domain.TorrentID]domain.TorrentState
	swarms    map[domain.TorrentID]*fakeSwarm
	listErr   error
	swarmErr  error
	removed   []domain.TorrentID
	removeErr error
	// addRegisters makes Add publish a swarm for the added id.
	addRegisters *fakeSwarm
	seeded       []domain.SeedRequest
	seedResult   domain.SeedResult
	seedErr      error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		states: make(map[domain.TorrentID]domain.TorrentState),
		swarms: make(map[domain.TorrentID]*fakeSwarm),
	}
}

func (f *fakeEngine) Add(ctx context.Context, src domain.TorrentSource) (domain.TorrentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, src)
	if f.addErr != nil {
		return domain.TorrentState{}, f.addErr
	}
	if f.addRegisters != nil {
		f.swarms[f.addRegisters.id] = f.addRegisters
	}
	return f.addState, nil
}

func (f *fakeEngine) Seed(ctx context.Context, req domain.SeedRequest) (domain.SeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded = append(f.seeded, req)
	if f.seedErr != nil {
		return domain.SeedResult{}, f.seedErr
	}
	f.states[f.seedResult.Torrent.ID] = f.seedResult.Torrent
	return f.seedResult, nil
}

func (f *fakeEngine) Remove(ctx context.Context, id domain.TorrentID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	if f.removeErr != nil {
		return f.removeErr
	}
	if _, ok := f.states[id]; !ok {
		if _, ok := f.swarms[id]; !ok {
			return domain.ErrNotFound
		}
	}
	delete(f.states, id)
	delete(f.swarms, id)
	return nil
}

func (f *fakeEngine) State(ctx context.Context, id domain.TorrentID) (domain.TorrentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.states[id]
	if !ok {
		return domain.TorrentState{}, domain.ErrNotFound
	}
	return st, nil
}

func (f *fakeEngine) List(ctx context.Context) ([]domain.TorrentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.TorrentState, 0, len(f.states))
	for _, st := range f.states {
		out = append(out, st)
	}
	return out, nil
}

func (f *fakeEngine) Swarm(ctx context.Context, id domain.TorrentID) (ports.SwarmProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.swarmErr != nil {
		return nil, f.swarmErr
	}
	s, ok := f.swarms[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeEngine) Close() error { return nil }

type fakeRepo struct {
	mu        sync.Mutex
	records   map[domain.TorrentID]domain.TorrentRecord
	saved     []domain.TorrentRecord
	saveErr   error
	getErr    error
	deleteErr error
	listErr   error
}

func newFakeRepo(records ...domain.TorrentRecord) *fakeRepo {
	r := &fakeRepo{records: make(map[domain.TorrentID]domain.TorrentRecord)}
	for _, rec := range records {
		r.records[rec.ID] = rec
	}
	return r
}

func (r *fakeRepo) Save(ctx context.Context, t domain.TorrentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, t)
	r.records[t.ID] = t
	return nil
}

func (r *fakeRepo) Get(ctx context.Context, id domain.TorrentID) (domain.TorrentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return domain.TorrentRecord{}, r.getErr
	}
	rec, ok := r.records[id]
	if !ok {
		return domain.TorrentRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) List(ctx context.Context) ([]domain.TorrentRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	out := make([]domain.TorrentRecord, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *fakeRepo) Delete(ctx context.Context, id domain.TorrentID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.records, id)
	return nil
}

type fakeSwarm struct {
	id          domain.TorrentID
	files       []domain.FileRef
	reader      *fakeReader
	readerErr   error
	handle      domain.MaterializedHandle
	materialize error
}

func (s *fakeSwarm) ID() domain.TorrentID    { return s.id }
func (s *fakeSwarm) Name() string            { return string(s.id) }
func (s *fakeSwarm) Files() []domain.FileRef { return s.files }
func (s *fakeSwarm) PieceLayout(domain.FileRef) (domain.PieceLayout, error) {
	return domain.PieceLayout{}, errors.New("no layout")
}
func (s *fakeSwarm) PieceAvailable(int) bool { return false }
func (s *fakeSwarm) GetPiece(ctx context.Context, _ int) ([]byte, error) {
	return nil, ctx.Err()
}
func (s *fakeSwarm) SetPriority(int, int, domain.Priority) {}
func (s *fakeSwarm) OpenReadStream(context.Context, domain.FileRef) (ports.ChunkStream, error) {
	return nil, errors.New("not streaming")
}
func (s *fakeSwarm) NewFileReader(domain.FileRef) (ports.StreamReader, error) {
	if s.readerErr != nil {
		return nil, s.readerErr
	}
	return s.reader, nil
}
func (s *fakeSwarm) Materialize(_ context.Context, file domain.FileRef) (domain.MaterializedHandle, error) {
	if s.materialize != nil {
		return domain.MaterializedHandle{}, s.materialize
	}
	if s.handle.Path == "" {
		return domain.MaterializedHandle{}, errors.New("not materializing")
	}
	h := s.handle
	h.Name = file.Path
	return h, nil
}
func (s *fakeSwarm) Stats() domain.SwarmStats { return domain.SwarmStats{} }

type fakeReader struct {
	ctx        context.Context
	readahead  int64
	responsive bool
}

func (r *fakeReader) Read([]byte) (int, error)       { return 0, errors.New("empty") }
func (r *fakeReader) Seek(int64, int) (int64, error) { return 0, nil }
func (r *fakeReader) Close() error                   { return nil }
func (r *fakeReader) SetContext(ctx context.Context) { r.ctx = ctx }
func (r *fakeReader) SetReadahead(n int64)           { r.readahead = n }
func (r *fakeReader) SetResponsive()                 { r.responsive = true }

// stubSurface is inert; PlayFile tests never run the session.
type stubSurface struct{}

func (stubSurface) Play() error                   { return nil }
func (stubSurface) Pause() error                  { return nil }
func (stubSurface) CurrentTime() float64          { return 0 }
func (stubSurface) Duration() float64             { return 0 }
func (stubSurface) Paused() bool                  { return true }
func (stubSurface) ReadyState() domain.ReadyState { return domain.HaveNothing }
func (stubSurface) ID() string                    { return "stub" }
func (stubSurface) CanBuffer(string) bool         { return false }
func (stubSurface) OpenBufferSink(context.Context, string) (ports.BufferSink, error) {
	return nil, errors.New("no buffer")
}
func (stubSurface) RenderDirect(context.Context, ports.DirectSource) error { return nil }
func (stubSurface) SetSource(context.Context, domain.MaterializedHandle) error {
	return nil
}
func (stubSurface) Events() <-chan domain.SurfaceEvent { return nil }
func (stubSurface) Done() <-chan struct{}              { return nil }

type fakePlayer struct {
	mu      sync.Mutex
	played  []domain.FileRef
	playErr error
	stopped []domain.TorrentID
	stopHit bool
}

func (p *fakePlayer) Play(ctx context.Context, swarm ports.SwarmProvider, file domain.FileRef, surface ports.RenderSurface) (*playback.Session, error) {
	p.mu.Lock()
	p.played = append(p.played, file)
	p.mu.Unlock()
	if p.playErr != nil {
		return nil, p.playErr
	}
	return playback.NewSession(playback.SessionParams{
		ID:      "session-1",
		Swarm:   swarm,
		File:    file,
		Surface: surface,
		Config:  playback.DefaultConfig(),
	})
}

func (p *fakePlayer) StopTorrent(id domain.TorrentID, outcome domain.PlaybackOutcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = append(p.stopped, id)
	return p.stopHit
}
