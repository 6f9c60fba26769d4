package playback

import (
	"errors"
	"fmt"
	"log/slog"

	"torrentplay/internal/domain"
	"torrentplay/internal/metrics"
)

// errStaleFailure is returned for failures of a rung that is no longer the
// active one, e.g. a late error from a strategy already abandoned.
var errStaleFailure = errors.New("failure for inactive rung")

// Selector is the fallback state machine of one playback session. The rung
// only moves forward and a failed rung is never attempted again.
type Selector struct {
	states           [domain.RungMaterialized + 1]domain.StrategyState
	current          domain.Rung
	terminal         bool
	terminalReported bool

	report func(level domain.EventLevel, msg string, rung domain.Rung, terminal bool)
	logger *slog.Logger
}

func NewSelector(report func(domain.EventLevel, string, domain.Rung, bool), logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = func(domain.EventLevel, string, domain.Rung, bool) {}
	}
	return &Selector{report: report, logger: logger}
}

// Start activates the first rung. Segmented streaming is skipped with a
// setup failure when the surface cannot buffer the file's type.
func (s *Selector) Start(canBuffer bool) domain.Rung {
	if s.current != domain.RungNone || s.terminal {
		return s.current
	}
	s.activate(domain.RungSegmented)
	if !canBuffer {
		next, _ := s.Fail(domain.RungSegmented, domain.FailureSetup, domain.ErrUnsupported)
		return next
	}
	return s.current
}

func (s *Selector) activate(r domain.Rung) {
	s.current = r
	s.states[r] = domain.StrategyActive
	s.logger.Info("playback strategy active", slog.String("rung", r.String()))
}

// Fail records a named failure of rung and returns the rung to try next.
// RungNone with a nil error means the chain is exhausted; the terminal event
// has been reported by then.
func (s *Selector) Fail(rung domain.Rung, kind domain.FailureKind, cause error) (domain.Rung, error) {
	if s.terminal || rung != s.current || s.states[rung] != domain.StrategyActive {
		return s.current, errStaleFailure
	}
	next, ok := domain.NextRung(rung, kind)
	if !ok {
		return s.current, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, kind, rung)
	}

	s.states[rung] = domain.StrategyFailed
	metrics.RungTransitionsTotal.WithLabelValues(rung.String(), next.String(), string(kind)).Inc()

	reason := string(kind)
	if cause != nil {
		reason = cause.Error()
	}
	s.logger.Warn("playback strategy failed",
		slog.String("rung", rung.String()),
		slog.String("event", string(kind)),
		slog.String("next", next.String()),
		slog.String("reason", reason),
	)

	if next == domain.RungNone {
		s.terminal = true
		if !s.terminalReported {
			s.terminalReported = true
			metrics.PlaybackFailuresTotal.Inc()
			s.report(domain.EventError, fmt.Sprintf("Playback failed: %s", reason), rung, true)
		}
		return domain.RungNone, nil
	}

	s.report(domain.EventWarning, fmt.Sprintf("%s playback unavailable (%s), trying %s", rung, reason, next), rung, false)
	s.activate(next)
	return next, nil
}

func (s *Selector) Current() domain.Rung { return s.current }
func (s *Selector) Terminal() bool       { return s.terminal }

func (s *Selector) State(r domain.Rung) domain.StrategyState {
	if r <= domain.RungNone || int(r) >= len(s.states) {
		return domain.StrategyUnattempted
	}
	return s.states[r]
}

// States returns a rung name to state name map for status reporting.
func (s *Selector) States() map[string]string {
	out := make(map[string]string, len(domain.Rungs))
	for _, r := range domain.Rungs {
		out[r.String()] = s.states[r].String()
	}
	return out
}
