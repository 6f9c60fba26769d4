package playback

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// manualDispatcher queues posted closures until the test drains them.
type manualDispatcher struct {
	posted []func()
	afters []delayed
}

type delayed struct {
	d  time.Duration
	fn func()
}

func (d *manualDispatcher) Post(fn func()) {
	d.posted = append(d.posted, fn)
}

func (d *manualDispatcher) After(delay time.Duration, fn func()) {
	d.afters = append(d.afters, delayed{d: delay, fn: fn})
}

func (d *manualDispatcher) drain() {
	for len(d.posted) > 0 {
		fn := d.posted[0]
		d.posted = d.posted[1:]
		fn()
	}
}

func (d *manualDispatcher) fireAfters() {
	afters := d.afters
	d.afters = nil
	for _, a := range afters {
		a.fn()
	}
	d.drain()
}

type fakeControls struct {
	mu          sync.Mutex
	currentTime float64
	duration    float64
	paused      bool
	ready       domain.ReadyState
	plays       int
	pauses      int
	playErr     error
}

func (c *fakeControls) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.plays++
	return c.playErr
}

func (c *fakeControls) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pauses++
	c.paused = true
	return nil
}

func (c *fakeControls) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTime
}

func (c *fakeControls) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

func (c *fakeControls) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *fakeControls) ReadyState() domain.ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeControls) playCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.plays
}

func (c *fakeControls) set(paused bool, ready domain.ReadyState) {
	c.mu.Lock()
	c.paused = paused
	c.ready = ready
	c.mu.Unlock()
}

// fakeSink records appends. With auto set it completes each append from a
// separate goroutine; otherwise the test completes them through dones.
// Updating is true while any append is unfinished or busy is set.
type fakeSink struct {
	mu        sync.Mutex
	appends   [][]byte
	dones     []*sinkAppend
	inFlight  int
	maxFlight int
	eos       int
	closed    bool
	reject    error
	rejected  int
	auto      bool
	busy      bool
}

type sinkAppend struct {
	done     func(error)
	finished bool
}

func (s *fakeSink) AppendChunk(data []byte, done func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject != nil {
		s.rejected++
		return s.reject
	}
	s.appends = append(s.appends, append([]byte(nil), data...))
	s.inFlight++
	if s.inFlight > s.maxFlight {
		s.maxFlight = s.inFlight
	}
	sa := &sinkAppend{done: done}
	if s.auto {
		go s.finish(sa, nil)
		return nil
	}
	s.dones = append(s.dones, sa)
	return nil
}

func (s *fakeSink) finish(sa *sinkAppend, err error) {
	s.mu.Lock()
	if !sa.finished {
		sa.finished = true
		s.inFlight--
	}
	s.mu.Unlock()
	sa.done(err)
}

func (s *fakeSink) Updating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy || s.inFlight > 0
}

func (s *fakeSink) setBusy(busy bool) {
	s.mu.Lock()
	s.busy = busy
	s.mu.Unlock()
}

func (s *fakeSink) EndOfStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eos++
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.appends)
}

func (s *fakeSink) rejectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

func (s *fakeSink) eosCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eos
}

// completeNext completes the oldest pending append.
func (s *fakeSink) completeNext(err error) {
	s.mu.Lock()
	if len(s.dones) == 0 {
		s.mu.Unlock()
		return
	}
	sa := s.dones[0]
	s.dones = s.dones[1:]
	s.mu.Unlock()
	s.finish(sa, err)
}

// dropNext finishes the oldest pending append without calling its done.
// The returned func delivers the callback late.
func (s *fakeSink) dropNext() func(error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dones) == 0 {
		return func(error) {}
	}
	sa := s.dones[0]
	s.dones = s.dones[1:]
	sa.finished = true
	s.inFlight--
	return sa.done
}

type fakeStream struct {
	ch  chan domain.Chunk
	err error
}

func newFakeStream(chunks []domain.Chunk, err error) *fakeStream {
	ch := make(chan domain.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return &fakeStream{ch: ch, err: err}
}

func (f *fakeStream) Chunks() <-chan domain.Chunk { return f.ch }
func (f *fakeStream) Err() error                  { return f.err }
func (f *fakeStream) Close() error                { return nil }

type prioritySet struct {
	start, end int
	prio       domain.Priority
}

type fakeSwarm struct {
	mu          sync.Mutex
	id          domain.TorrentID
	files       []domain.FileRef
	layout      domain.PieceLayout
	stream      ports.ChunkStream
	streamErr   error
	materialize func(ctx context.Context) (domain.MaterializedHandle, error)
	stats       domain.SwarmStats
	priorities  []prioritySet
}

func (f *fakeSwarm) ID() domain.TorrentID    { return f.id }
func (f *fakeSwarm) Name() string            { return "fixture" }
func (f *fakeSwarm) Files() []domain.FileRef { return f.files }

func (f *fakeSwarm) PieceLayout(domain.FileRef) (domain.PieceLayout, error) {
	if !f.layout.Valid() {
		return domain.PieceLayout{}, errors.New("no layout")
	}
	return f.layout, nil
}

func (f *fakeSwarm) PieceAvailable(int) bool { return true }

func (f *fakeSwarm) GetPiece(ctx context.Context, index int) ([]byte, error) {
	return nil, domain.ErrUnsupported
}

func (f *fakeSwarm) SetPriority(start, end int, prio domain.Priority) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priorities = append(f.priorities, prioritySet{start, end, prio})
}

func (f *fakeSwarm) OpenReadStream(ctx context.Context, file domain.FileRef) (ports.ChunkStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return f.stream, nil
}

func (f *fakeSwarm) NewFileReader(file domain.FileRef) (ports.StreamReader, error) {
	return nopReader{bytes.NewReader(nil)}, nil
}

func (f *fakeSwarm) Materialize(ctx context.Context, file domain.FileRef) (domain.MaterializedHandle, error) {
	if f.materialize == nil {
		return domain.MaterializedHandle{}, errors.New("materialize not configured")
	}
	return f.materialize(ctx)
}

func (f *fakeSwarm) Stats() domain.SwarmStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSwarm) priorityCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.priorities)
}

type nopReader struct {
	*bytes.Reader
}

func (nopReader) Close() error               { return nil }
func (nopReader) SetContext(context.Context) {}
func (nopReader) SetReadahead(int64)         {}
func (nopReader) SetResponsive()             {}

var _ io.ReadSeekCloser = nopReader{}

type fakeSurface struct {
	fakeControls
	canBuffer   bool
	sink        *fakeSink
	sinkErr     error
	renderErr   error
	setErr      error
	sources     []domain.MaterializedHandle
	events      chan domain.SurfaceEvent
	done        chan struct{}
	renderCalls int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		events: make(chan domain.SurfaceEvent, 8),
		done:   make(chan struct{}),
	}
}

func (s *fakeSurface) ID() string                         { return "player-1" }
func (s *fakeSurface) CanBuffer(string) bool              { return s.canBuffer }
func (s *fakeSurface) Events() <-chan domain.SurfaceEvent { return s.events }
func (s *fakeSurface) Done() <-chan struct{}              { return s.done }

func (s *fakeSurface) OpenBufferSink(ctx context.Context, mime string) (ports.BufferSink, error) {
	if s.sinkErr != nil {
		return nil, s.sinkErr
	}
	return s.sink, nil
}

func (s *fakeSurface) RenderDirect(ctx context.Context, src ports.DirectSource) error {
	s.mu.Lock()
	s.renderCalls++
	s.mu.Unlock()
	return s.renderErr
}

func (s *fakeSurface) SetSource(ctx context.Context, h domain.MaterializedHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	s.sources = append(s.sources, h)
	return nil
}

type recordingReporter struct {
	mu     sync.Mutex
	events []domain.PlaybackEvent
	stats  int
}

func (r *recordingReporter) Report(ev domain.PlaybackEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingReporter) ReportStats(domain.TorrentID, domain.SwarmStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats++
}

func (r *recordingReporter) snapshot() []domain.PlaybackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PlaybackEvent(nil), r.events...)
}

func (r *recordingReporter) count(level domain.EventLevel, terminal bool) int {
	n := 0
	for _, ev := range r.snapshot() {
		if ev.Level == level && ev.Terminal == terminal {
			n++
		}
	}
	return n
}

type memoryHistory struct {
	mu        sync.Mutex
	positions []domain.WatchPosition
}

func (h *memoryHistory) Upsert(ctx context.Context, wp domain.WatchPosition) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.positions = append(h.positions, wp)
	return nil
}

func (h *memoryHistory) Get(ctx context.Context, id domain.TorrentID, fileIndex int) (domain.WatchPosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.positions) - 1; i >= 0; i-- {
		if h.positions[i].TorrentID == id && h.positions[i].FileIndex == fileIndex {
			return h.positions[i], nil
		}
	}
	return domain.WatchPosition{}, domain.ErrNotFound
}

func (h *memoryHistory) ListRecent(ctx context.Context, limit int) ([]domain.WatchPosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.WatchPosition(nil), h.positions...), nil
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
