package anacrolix

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/anacrolix/torrent"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

// ---------------------------------------------------------------------------
// mapPriority: urgency ladder onto client priorities
// ---------------------------------------------------------------------------

func TestMapPriority(t *testing.T) {
	tests := []struct {
		name string
		in   domain.Priority
		want torrent.PiecePriority
	}{
		{"Ceiling", 5, torrent.PiecePriorityNow},
		{"AboveCeiling", 9, torrent.PiecePriorityNow},
		{"Four", 4, torrent.PiecePriorityNext},
		{"Three", 3, torrent.PiecePriorityReadahead},
		{"Two", 2, torrent.PiecePriorityHigh},
		{"One", 1, torrent.PiecePriorityNormal},
		{"Floor", domain.PriorityFloor, torrent.PiecePriorityNormal},
		{"Negative", -1, torrent.PiecePriorityNormal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := mapPriority(tc.in); got != tc.want {
				t.Fatalf("mapPriority(%d) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestMapPriorityMonotonic(t *testing.T) {
	for p := domain.PriorityFloor; p < domain.PriorityCeiling; p++ {
		if mapPriority(p) > mapPriority(p+1) {
			t.Fatalf("priority %d maps above %d", p, p+1)
		}
	}
}

// ---------------------------------------------------------------------------
// Piece ranges and hint expiry
// ---------------------------------------------------------------------------

func TestClampPieceRange(t *testing.T) {
	tests := []struct {
		name               string
		start, end, n      int
		wantStart, wantEnd int
		wantOK             bool
	}{
		{"Inside", 3, 5, 10, 3, 5, true},
		{"NegativeStart", -2, 3, 10, 0, 3, true},
		{"EndPastLast", 8, 20, 10, 8, 10, true},
		{"Empty", 4, 4, 10, 0, 0, false},
		{"StartPastLast", 12, 14, 10, 0, 0, false},
		{"NoPieces", 0, 1, 0, 0, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			start, end, ok := clampPieceRange(tc.start, tc.end, tc.n)
			if ok != tc.wantOK || start != tc.wantStart || end != tc.wantEnd {
				t.Fatalf("clampPieceRange(%d,%d,%d) = %d,%d,%v", tc.start, tc.end, tc.n, start, end, ok)
			}
		})
	}
}

func TestRaisedPiecesExpire(t *testing.T) {
	r := newRaisedPieces()
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	r.touch(10, 13, start)
	r.touch(12, 14, start.Add(10*time.Second))

	expired := r.expire(start.Add(20*time.Second), hintTTL)
	sort.Ints(expired)
	if len(expired) != 2 || expired[0] != 10 || expired[1] != 11 {
		t.Fatalf("expired = %v, want [10 11]", expired)
	}
	if again := r.expire(start.Add(20*time.Second), hintTTL); len(again) != 0 {
		t.Fatalf("expired pieces must be forgotten, got %v", again)
	}
	if late := r.expire(start.Add(time.Minute), hintTTL); len(late) != 2 {
		t.Fatalf("expected remaining pieces to expire, got %v", late)
	}
}

func TestForgetHints(t *testing.T) {
	e := newEngine(Config{})
	e.raisedFor("t1").touch(0, 2, time.Now())
	e.forgetHints("t1")
	if _, ok := e.hints["t1"]; ok {
		t.Fatal("hints must be forgotten")
	}
}

// ---------------------------------------------------------------------------
// Speed sampling
// ---------------------------------------------------------------------------

func statsWithRead(read int64) torrent.TorrentStats {
	var stats torrent.TorrentStats
	stats.BytesReadUsefulData.Add(read)
	return stats
}

func TestSampleSpeedFirstCallZero(t *testing.T) {
	e := newEngine(Config{})
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if got := e.sampleSpeed("t1", statsWithRead(100), now); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestSampleSpeedDelta(t *testing.T) {
	e := newEngine(Config{})
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	_ = e.sampleSpeed("t1", statsWithRead(100), start)

	if got := e.sampleSpeed("t1", statsWithRead(1100), start.Add(2*time.Second)); got != 500 {
		t.Fatalf("download = %d, want 500", got)
	}
}

func TestSampleSpeedNonPositiveInterval(t *testing.T) {
	e := newEngine(Config{})
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	_ = e.sampleSpeed("t1", statsWithRead(100), now)
	if got := e.sampleSpeed("t1", statsWithRead(200), now); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestSampleSpeedNegativeDeltaClamped(t *testing.T) {
	e := newEngine(Config{})
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	_ = e.sampleSpeed("t1", statsWithRead(1000), start)
	if got := e.sampleSpeed("t1", statsWithRead(10), start.Add(time.Second)); got != 0 {
		t.Fatalf("expected clamped 0, got %d", got)
	}
}

func TestStableCompletedHighWaterMark(t *testing.T) {
	e := newEngine(Config{})
	if got := e.stableCompleted("t1", 500); got != 500 {
		t.Fatalf("got %d", got)
	}
	if got := e.stableCompleted("t1", 200); got != 500 {
		t.Fatalf("dip must be hidden, got %d", got)
	}
	if got := e.stableCompleted("t1", 800); got != 800 {
		t.Fatalf("got %d", got)
	}
}

// ---------------------------------------------------------------------------
// Engine without a client
// ---------------------------------------------------------------------------

func TestEngineImplementsPorts(t *testing.T) {
	var _ ports.Engine = (*Engine)(nil)
	var _ ports.SwarmProvider = (*Swarm)(nil)
}

func TestNewEngineDefaults(t *testing.T) {
	e := newEngine(Config{})
	if e.cfg.AddTimeout != defaultAddTimeout || e.cfg.ChunkSize != defaultChunkSize || e.cfg.MaterializePoll != defaultMaterializePoll {
		t.Fatalf("unexpected defaults %+v", e.cfg)
	}
}

func TestAddWithoutClient(t *testing.T) {
	e := newEngine(Config{})
	if _, err := e.Add(context.Background(), domain.TorrentSource{Magnet: "magnet:?xt=urn:btih:abc"}); err == nil {
		t.Fatal("expected error without client")
	}
}

func TestUnknownTorrent(t *testing.T) {
	e := newEngine(Config{})
	ctx := context.Background()

	if _, err := e.State(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("State: expected ErrNotFound, got %v", err)
	}
	if err := e.Remove(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Remove: expected ErrNotFound, got %v", err)
	}
	if _, err := e.Swarm(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Swarm: expected ErrNotFound, got %v", err)
	}
	states, err := e.List(ctx)
	if err != nil || len(states) != 0 {
		t.Fatalf("List: expected empty, got %v %v", states, err)
	}
}

func TestCloseNilClient(t *testing.T) {
	if err := newEngine(Config{}).Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTorrentInfoReadyNil(t *testing.T) {
	if torrentInfoReady(nil) {
		t.Fatal("expected false for nil torrent")
	}
}

func TestMapFilesNil(t *testing.T) {
	if files := mapFiles(nil); len(files) != 0 {
		t.Fatalf("expected no files for nil torrent, got %d", len(files))
	}
}

// ---------------------------------------------------------------------------
// readStream
// ---------------------------------------------------------------------------

type closingReader struct {
	io.Reader
	closed bool
}

func (r *closingReader) Close() error {
	r.closed = true
	return nil
}

type failingReader struct {
	data []byte
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func (r *failingReader) Close() error { return nil }

func collect(t *testing.T, s *readStream) []domain.Chunk {
	t.Helper()
	var chunks []domain.Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-s.Chunks():
			if !ok {
				return chunks
			}
			chunks = append(chunks, c)
		case <-timeout:
			t.Fatal("stream did not end")
			return nil
		}
	}
}

func TestReadStreamChunksInOrder(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 10)
	r := &closingReader{Reader: bytes.NewReader(data)}
	s := newReadStream(context.Background(), r, 32)

	chunks := collect(t, s)
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	var joined []byte
	var offset int64
	for _, c := range chunks {
		if c.Offset != offset {
			t.Fatalf("chunk offset %d, want %d", c.Offset, offset)
		}
		offset += int64(len(c.Data))
		joined = append(joined, c.Data...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatal("stream content mismatch")
	}
	if err := s.Err(); err != nil {
		t.Fatalf("clean end expected, got %v", err)
	}
	if err := s.Close(); err != nil || !r.closed {
		t.Fatalf("Close: err=%v closed=%v", err, r.closed)
	}
}

func TestReadStreamReportsReadError(t *testing.T) {
	boom := errors.New("piece hash mismatch")
	s := newReadStream(context.Background(), &failingReader{data: []byte("abc"), err: boom}, 8)

	chunks := collect(t, s)
	if len(chunks) != 1 || string(chunks[0].Data) != "abc" {
		t.Fatalf("unexpected chunks %+v", chunks)
	}
	if !errors.Is(s.Err(), boom) {
		t.Fatalf("expected read error, got %v", s.Err())
	}
}
