package anacrolix

import (
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"

	"torrentplay/internal/domain"
)

// hintTTL is how long a raised piece keeps its priority without being hinted
// again. Pieces left behind by a seek fall back to the file priority after it.
const hintTTL = 15 * time.Second

func mapPriority(prio domain.Priority) torrent.PiecePriority {
	switch {
	case prio >= domain.PriorityCeiling:
		return torrent.PiecePriorityNow
	case prio == 4:
		return torrent.PiecePriorityNext
	case prio == 3:
		return torrent.PiecePriorityReadahead
	case prio == 2:
		return torrent.PiecePriorityHigh
	default:
		return torrent.PiecePriorityNormal
	}
}

// clampPieceRange bounds [start, end) to the torrent's pieces.
func clampPieceRange(start, end, numPieces int) (int, int, bool) {
	if numPieces <= 0 {
		return 0, 0, false
	}
	if start < 0 {
		start = 0
	}
	if end > numPieces {
		end = numPieces
	}
	if start >= end {
		return 0, 0, false
	}
	return start, end, true
}

// raisedPieces tracks pieces whose priority was set by a hint.
type raisedPieces struct {
	mu   sync.Mutex
	last map[int]time.Time
}

func newRaisedPieces() *raisedPieces {
	return &raisedPieces{last: make(map[int]time.Time)}
}

// touch records pieces [start, end) as hinted at now.
func (r *raisedPieces) touch(start, end int, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := start; i < end; i++ {
		r.last[i] = now
	}
}

// expire removes and returns pieces not hinted since now-ttl.
func (r *raisedPieces) expire(now time.Time, ttl time.Duration) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for i, at := range r.last {
		if now.Sub(at) > ttl {
			out = append(out, i)
			delete(r.last, i)
		}
	}
	return out
}

func (e *Engine) raisedFor(id domain.TorrentID) *raisedPieces {
	e.hintsMu.Lock()
	defer e.hintsMu.Unlock()
	r, ok := e.hints[id]
	if !ok {
		r = newRaisedPieces()
		e.hints[id] = r
	}
	return r
}

func (e *Engine) forgetHints(id domain.TorrentID) {
	e.hintsMu.Lock()
	delete(e.hints, id)
	e.hintsMu.Unlock()
}

func (e *Engine) applyPiecePriority(t *torrent.Torrent, id domain.TorrentID, start, end int, prio domain.Priority) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("applyPiecePriority recovered from panic",
				slog.Any("panic", rec),
				slog.String("torrentId", string(id)),
			)
		}
	}()
	if !torrentInfoReady(t) {
		return
	}
	start, end, ok := clampPieceRange(start, end, t.NumPieces())
	if !ok {
		return
	}

	now := time.Now()
	raised := e.raisedFor(id)
	for _, i := range raised.expire(now, hintTTL) {
		if i < start || i >= end {
			t.Piece(i).SetPriority(torrent.PiecePriorityNone)
		}
	}

	target := mapPriority(prio)
	for i := start; i < end; i++ {
		t.Piece(i).SetPriority(target)
	}
	raised.touch(start, end, now)
}
