package domain

import "fmt"

// Rung is a playback strategy in the fallback chain. Rungs are attempted in
// increasing order and never revisited within one session.
type Rung int

const (
	RungNone         Rung = iota
	RungSegmented         // Incremental buffer append fed by the read stream.
	RungDirect            // Surface renders the file through its own progressive path.
	RungMaterialized      // Surface plays a fully downloaded local copy.
)

var rungNames = [...]string{"none", "segmented", "direct", "materialized"}

func (r Rung) String() string {
	if r >= 0 && int(r) < len(rungNames) {
		return rungNames[r]
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

// ParseRung is the inverse of String. Unknown names yield RungNone.
func ParseRung(name string) (Rung, bool) {
	for i, n := range rungNames {
		if n == name {
			return Rung(i), true
		}
	}
	return RungNone, false
}

// Rungs lists the chain in attempt order.
var Rungs = []Rung{RungSegmented, RungDirect, RungMaterialized}

type StrategyState int

const (
	StrategyUnattempted StrategyState = iota
	StrategyActive
	StrategyFailed
)

var strategyStateNames = [...]string{"unattempted", "active", "failed"}

func (s StrategyState) String() string {
	if s >= 0 && int(s) < len(strategyStateNames) {
		return strategyStateNames[s]
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// FailureKind names the events that move the fallback chain.
type FailureKind string

const (
	FailureSetup       FailureKind = "setup"
	FailureBufferFatal FailureKind = "buffer_fatal"
	FailureRender      FailureKind = "render"
	FailureMaterialize FailureKind = "materialize"
)

// fallbackTransitions is the adjacency list of the strategy chain. A rung
// mapped to RungNone is terminal for that event.
var fallbackTransitions = map[Rung]map[FailureKind]Rung{
	RungSegmented: {
		FailureSetup:       RungDirect,
		FailureBufferFatal: RungDirect,
	},
	RungDirect: {
		FailureSetup:  RungMaterialized,
		FailureRender: RungMaterialized,
	},
	RungMaterialized: {
		FailureSetup:       RungNone,
		FailureMaterialize: RungNone,
	},
}

// NextRung returns the rung that follows a failure of kind at from. ok is
// false when the event is not valid for that rung.
func NextRung(from Rung, kind FailureKind) (next Rung, ok bool) {
	events, found := fallbackTransitions[from]
	if !found {
		return RungNone, false
	}
	next, ok = events[kind]
	return next, ok
}
