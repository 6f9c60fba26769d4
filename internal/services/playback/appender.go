package playback

import (
	"errors"
	"log/slog"
	"time"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/metrics"
)

// AppenderConfig holds the buffering heuristics.
type AppenderConfig struct {
	SettleDelay      time.Duration // wait before the first play attempt
	MaxAppendRetries int           // failed appends tolerated before giving up
	StaleAppendAfter time.Duration // in-flight append considered lost after this
	MaxQueuedChunks  int           // chunks read ahead of the sink
}

func DefaultAppenderConfig() AppenderConfig {
	return AppenderConfig{
		SettleDelay:      300 * time.Millisecond,
		MaxAppendRetries: 5,
		StaleAppendAfter: 5 * time.Second,
		MaxQueuedChunks:  32,
	}
}

// Appender feeds chunks to a buffer sink strictly in arrival order with at
// most one append in flight. All methods must be called from the session
// task; sink callbacks are re-posted there through the dispatcher.
type Appender struct {
	sink     ports.BufferSink
	controls *Tracker
	play     func() error
	dispatch Dispatcher
	cfg      AppenderConfig
	logger   *slog.Logger
	now      func() time.Time

	// onFatal is called once with a buffer-fatal error. The appender is
	// closed by then.
	onFatal func(error)
	// onWarn reports non-fatal conditions worth telling the user about.
	onWarn func(string)
	// onRelease is told how many chunks left the appender for good, so the
	// producer can hand over more.
	onRelease func(int)

	queue     []domain.Chunk
	appending bool
	current   domain.Chunk
	seq       uint64
	startedAt time.Time

	received   int
	appended   int
	lost       int
	ended      bool
	finalized  bool
	closed     bool
	kicked     bool
	userPaused bool
	// retryPending holds the queue after a failed append until the next
	// health check.
	retryPending bool
	failures     int
	stalled      bool
}

type AppenderParams struct {
	Sink     ports.BufferSink
	Controls ports.PlaybackControls
	Dispatch Dispatcher
	Config   AppenderConfig
	Logger   *slog.Logger
	Now      func() time.Time
	OnFatal  func(error)
	OnWarn   func(string)
	// OnRelease is optional.
	OnRelease func(int)
}

func NewAppender(p AppenderParams) *Appender {
	cfg := p.Config
	def := DefaultAppenderConfig()
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.MaxAppendRetries <= 0 {
		cfg.MaxAppendRetries = def.MaxAppendRetries
	}
	if cfg.StaleAppendAfter <= 0 {
		cfg.StaleAppendAfter = def.StaleAppendAfter
	}
	if cfg.MaxQueuedChunks <= 0 {
		cfg.MaxQueuedChunks = def.MaxQueuedChunks
	}
	a := &Appender{
		sink:      p.Sink,
		controls:  NewTracker(p.Controls),
		dispatch:  p.Dispatch,
		cfg:       cfg,
		logger:    p.Logger,
		now:       p.Now,
		onFatal:   p.OnFatal,
		onWarn:    p.OnWarn,
		onRelease: p.OnRelease,
	}
	a.play = func() error { return nil }
	if p.Controls != nil {
		a.play = p.Controls.Play
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Enqueue adds a chunk at the tail and starts an append if none is running.
func (a *Appender) Enqueue(c domain.Chunk) {
	if a.closed || a.finalized || a.ended {
		a.release(1)
		return
	}
	a.queue = append(a.queue, c)
	a.received++
	if a.received == 1 && !a.kicked {
		pos := a.controls.Position()
		if pos.Paused && pos.ReadyState < domain.HaveCurrentData {
			a.kicked = true
			a.dispatch.After(a.cfg.SettleDelay, a.kick)
		}
	}
	if a.canAppend() {
		a.startAppend()
	}
}

// canAppend reports whether a new append may start outside the health
// check.
func (a *Appender) canAppend() bool {
	return !a.closed && !a.appending && !a.stalled && !a.retryPending
}

func (a *Appender) release(n int) {
	if n > 0 && a.onRelease != nil {
		a.onRelease(n)
	}
}

// EndOfStream records that upstream has no more chunks. The sink is
// finalized once everything queued has been appended.
func (a *Appender) EndOfStream() {
	if a.closed {
		return
	}
	a.ended = true
	a.maybeFinalize()
}

func (a *Appender) startAppend() {
	if a.closed || a.appending || len(a.queue) == 0 {
		return
	}
	a.current = a.queue[0]
	a.queue[0] = domain.Chunk{}
	a.queue = a.queue[1:]
	a.appending = true
	a.seq++
	a.startedAt = a.now()

	seq := a.seq
	err := a.sink.AppendChunk(a.current.Data, func(err error) {
		a.dispatch.Post(func() { a.onAppendComplete(seq, err) })
	})
	if err != nil {
		a.appending = false
		a.handleFailure(err)
	}
}

func (a *Appender) onAppendComplete(seq uint64, err error) {
	if a.closed || !a.appending || seq != a.seq {
		a.logger.Debug("stale append completion ignored", slog.Uint64("seq", seq))
		return
	}
	a.appending = false
	if err != nil {
		a.handleFailure(err)
		return
	}

	a.failures = 0
	a.appended++
	a.current = domain.Chunk{}
	a.release(1)
	metrics.AppendsTotal.WithLabelValues("ok").Inc()

	pos := a.controls.Position()
	if pos.Paused && pos.ReadyState >= domain.HaveCurrentData && !a.userPaused {
		_ = a.play()
	}

	if len(a.queue) > 0 && a.canAppend() {
		a.startAppend()
		return
	}
	a.maybeFinalize()
}

// handleFailure puts the chunk that failed back at the head of the queue so
// order is preserved. The queue then waits for the health check, which
// retries at most once per tick.
func (a *Appender) handleFailure(err error) {
	a.queue = append([]domain.Chunk{a.current}, a.queue...)
	a.current = domain.Chunk{}

	if errors.Is(err, domain.ErrBufferFatal) {
		metrics.AppendsTotal.WithLabelValues("fatal").Inc()
		a.Close()
		if a.onFatal != nil {
			a.onFatal(err)
		}
		return
	}

	metrics.AppendsTotal.WithLabelValues("error").Inc()
	a.retryPending = true
	a.failures++
	a.logger.Warn("append failed",
		slog.Int("attempt", a.failures),
		slog.Int("pending", len(a.queue)),
		slog.String("error", err.Error()),
	)
	if a.failures > a.cfg.MaxAppendRetries && !a.stalled {
		a.stalled = true
		if a.onWarn != nil {
			a.onWarn("buffer keeps rejecting data, playback is stalled")
		}
	}
}

func (a *Appender) maybeFinalize() {
	if !a.ended || a.finalized || a.closed || a.appending || a.retryPending || len(a.queue) > 0 {
		return
	}
	a.finalized = true
	if err := a.sink.EndOfStream(); err != nil {
		a.logger.Warn("end of stream failed", slog.String("error", err.Error()))
	}
}

// kick is the one-shot playback start after the first chunk.
func (a *Appender) kick() {
	if a.closed || a.userPaused || !a.controls.Paused() {
		return
	}
	if err := a.play(); err != nil {
		a.logger.Warn("autoplay failed, health check will retry", slog.String("error", err.Error()))
	}
}

// HealthCheck recovers from failed appends, lost callbacks and stuck
// playback. At most one append is started per call.
func (a *Appender) HealthCheck() {
	if a.closed {
		return
	}

	retired := false
	if a.appending && a.now().Sub(a.startedAt) > a.cfg.StaleAppendAfter {
		if a.sink.Updating() {
			// Slow, not lost. Resending would put a second copy in flight.
			metrics.HealthRecoveriesTotal.WithLabelValues("slow_append").Inc()
			a.logger.Debug("append still running", slog.Duration("elapsed", a.now().Sub(a.startedAt)))
		} else {
			a.retireLost()
			retired = true
		}
	}

	if !a.appending && !a.stalled && len(a.queue) > 0 {
		pos := a.controls.Position()
		switch {
		case a.retryPending:
			a.retryPending = false
			metrics.HealthRecoveriesTotal.WithLabelValues("retry").Inc()
			a.startAppend()
		case retired || pos.Stalled():
			metrics.HealthRecoveriesTotal.WithLabelValues("append").Inc()
			a.startAppend()
		}
	}
	if a.closed {
		return
	}

	pos := a.controls.Position()
	if pos.Paused && pos.ReadyState >= domain.HaveCurrentData && !a.userPaused {
		metrics.HealthRecoveriesTotal.WithLabelValues("play").Inc()
		_ = a.play()
	}
	a.maybeFinalize()
}

// retireLost gives up on an append whose completion never arrived while the
// sink reports itself idle. The sink has finished with the chunk, so it
// counts as appended and is never sent again. A late callback is dropped by
// seq.
func (a *Appender) retireLost() {
	a.appending = false
	a.seq++
	a.current = domain.Chunk{}
	a.appended++
	a.lost++
	a.release(1)
	metrics.HealthRecoveriesTotal.WithLabelValues("lost_callback").Inc()
	a.logger.Warn("append completion lost, moving on",
		slog.Int("lost", a.lost),
		slog.Int("pending", len(a.queue)),
	)
}

// SetUserPaused suppresses automatic play attempts while the user holds
// playback paused.
func (a *Appender) SetUserPaused(paused bool) {
	a.userPaused = paused
}

// Close discards the queue. Callbacks still in flight are ignored.
func (a *Appender) Close() {
	if a.closed {
		return
	}
	n := len(a.queue)
	if a.appending {
		n++
	}
	a.closed = true
	a.queue = nil
	a.appending = false
	a.retryPending = false
	a.current = domain.Chunk{}
	a.release(n)
}

func (a *Appender) Pending() int    { return len(a.queue) }
func (a *Appender) Appending() bool { return a.appending }
func (a *Appender) Finalized() bool { return a.finalized }
func (a *Appender) Stalled() bool   { return a.stalled }
func (a *Appender) Appended() int   { return a.appended }
func (a *Appender) Lost() int       { return a.lost }
