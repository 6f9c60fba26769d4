package playback

import (
	"log/slog"
	"math"

	"torrentplay/internal/domain"
	"torrentplay/internal/metrics"
)

// SchedulerConfig shapes the look-ahead window.
type SchedulerConfig struct {
	Window  int             // pieces ahead of the playhead, playhead included
	Ceiling domain.Priority // priority of the playhead piece
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Window: 10, Ceiling: domain.PriorityCeiling}
}

func (c SchedulerConfig) normalized() SchedulerConfig {
	def := DefaultSchedulerConfig()
	if c.Window <= 0 {
		c.Window = def.Window
	}
	if c.Ceiling <= domain.PriorityFloor {
		c.Ceiling = def.Ceiling
	}
	return c
}

// PlayheadPiece maps a playback position to the torrent piece under the
// playhead. ok is false when the position cannot be mapped: paused, unknown
// duration or an unusable layout.
func PlayheadPiece(pos domain.Position, layout domain.PieceLayout) (piece int, ok bool) {
	if pos.Paused || !pos.DurationKnown() || !layout.Valid() {
		return 0, false
	}
	t := pos.CurrentTime
	if t < 0 || math.IsNaN(t) {
		t = 0
	}
	frac := t / pos.Duration
	if frac > 1 {
		frac = 1
	}
	bytePos := int64(math.Floor(frac * float64(layout.FileLength)))
	if bytePos >= layout.FileLength {
		bytePos = layout.FileLength - 1
	}
	piece = int((layout.FileOffset + bytePos) / layout.PieceLength)
	if piece >= layout.EndPiece() {
		return 0, false
	}
	return piece, true
}

// ComputeWindow returns one single-piece hint per window slot starting at the
// playhead. Priority falls by one per piece from the ceiling and stays at the
// floor beyond it. The window stops at the last piece of the file.
func ComputeWindow(pos domain.Position, layout domain.PieceLayout, cfg SchedulerConfig) []domain.PriorityHint {
	cfg = cfg.normalized()
	piece, ok := PlayheadPiece(pos, layout)
	if !ok {
		return nil
	}
	n := cfg.Window
	if remaining := layout.EndPiece() - piece; remaining < n {
		n = remaining
	}
	hints := make([]domain.PriorityHint, 0, n)
	for i := 0; i < n; i++ {
		prio := cfg.Ceiling - domain.Priority(i)
		if prio < domain.PriorityFloor {
			prio = domain.PriorityFloor
		}
		hints = append(hints, domain.PriorityHint{
			Start:    piece + i,
			End:      piece + i + 1,
			Priority: prio,
		})
	}
	return hints
}

// PrioritySink accepts priority hints. The swarm provider implements it.
type PrioritySink interface {
	SetPriority(start, end int, prio domain.Priority)
}

// Scheduler turns the surface position into priority hints for the swarm.
// It does no I/O of its own and never fails.
type Scheduler struct {
	sink    PrioritySink
	tracker *Tracker
	layout  domain.PieceLayout
	cfg     SchedulerConfig
	token   Token
	logger  *slog.Logger
}

func NewScheduler(sink PrioritySink, tracker *Tracker, layout domain.PieceLayout, cfg SchedulerConfig, token Token, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sink:    sink,
		tracker: tracker,
		layout:  layout,
		cfg:     cfg.normalized(),
		token:   token,
		logger:  logger,
	}
}

// Reevaluate computes the current window and hands it to the sink. It
// returns the hints it issued.
func (s *Scheduler) Reevaluate() []domain.PriorityHint {
	if s == nil || !s.token.Alive() {
		return nil
	}
	hints := ComputeWindow(s.tracker.Position(), s.layout, s.cfg)
	if len(hints) == 0 {
		return nil
	}
	for _, h := range hints {
		s.sink.SetPriority(h.Start, h.End, h.Priority)
	}
	metrics.PriorityHintsTotal.Add(float64(len(hints)))
	s.logger.Debug("priority window applied",
		slog.String("sessionId", s.token.SessionID()),
		slog.Int("fromPiece", hints[0].Start),
		slog.Int("toPiece", hints[len(hints)-1].End),
	)
	return hints
}
