package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
	"torrentplay/internal/metrics"
)

var tracer = otel.Tracer("torrentplay/playback")

// Config holds every playback tunable.
type Config struct {
	Scheduler        SchedulerConfig
	Appender         AppenderConfig
	PriorityInterval time.Duration
	HealthInterval   time.Duration
	StatsInterval    time.Duration
	HistoryTimeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Scheduler:        DefaultSchedulerConfig(),
		Appender:         DefaultAppenderConfig(),
		PriorityInterval: 5 * time.Second,
		HealthInterval:   500 * time.Millisecond,
		StatsInterval:    time.Second,
		HistoryTimeout:   5 * time.Second,
	}
}

// Status is a snapshot of a session for the API.
type Status struct {
	ID         string            `json:"id"`
	TorrentID  domain.TorrentID  `json:"torrentId"`
	File       domain.FileRef    `json:"file"`
	Kind       string            `json:"kind"`
	Rung       domain.Rung       `json:"rung"`
	RungName   string            `json:"rungName"`
	Strategies map[string]string `json:"strategies"`
	QueueDepth int               `json:"queueDepth"`
	Appended   int               `json:"appended"`
	Position   domain.Position   `json:"position"`
	Stats      domain.SwarmStats `json:"stats"`
	Terminal   bool              `json:"terminal"`
	StartedAt  time.Time         `json:"startedAt"`
}

type SessionParams struct {
	ID       string
	Swarm    ports.SwarmProvider
	File     domain.FileRef
	Surface  ports.RenderSurface
	Reporter ports.EventReporter
	History  ports.WatchHistoryStore
	Logger   *slog.Logger
	Config   Config
}

// Session plays one file from one torrent on one surface. It owns its
// buffer queue, strategy states and report-once flags; all of them die with
// it.
type Session struct {
	id       string
	swarm    ports.SwarmProvider
	file     domain.FileRef
	surface  ports.RenderSurface
	reporter ports.EventReporter
	history  ports.WatchHistoryStore
	logger   *slog.Logger
	cfg      Config
	kind     domain.MediaKind
	mime     string
	started  time.Time

	ctx     context.Context
	cancel  context.CancelFunc
	token   Token
	loop    *taskLoop
	tracker *Tracker

	// Loop-owned state.
	selector   *Selector
	scheduler  *Scheduler
	appender   *Appender
	sink       ports.BufferSink
	stream     ports.ChunkStream
	rungCancel context.CancelFunc
	rungSpan   trace.Span
	userPaused bool
	lastStats  domain.SwarmStats

	// Per-session report-once flags.
	progressStep     int
	completeReported bool

	mu      sync.Mutex
	status  Status
	outcome domain.PlaybackOutcome
	err     error
	done    chan struct{}
}

func NewSession(p SessionParams) (*Session, error) {
	if p.Swarm == nil || p.Surface == nil {
		return nil, errors.New("playback session needs a swarm and a surface")
	}
	kind := domain.Classify(p.File.Path)
	if kind == domain.MediaUnknown {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotPlayable, p.File.Path)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("sessionId", p.ID),
		slog.String("torrentId", string(p.Swarm.ID())),
		slog.Int("fileIndex", p.File.Index),
	)

	ctx, cancel := context.WithCancel(context.Background())
	token := newToken(ctx, p.ID)
	s := &Session{
		id:       p.ID,
		swarm:    p.Swarm,
		file:     p.File,
		surface:  p.Surface,
		reporter: p.Reporter,
		history:  p.History,
		logger:   logger,
		cfg:      p.Config,
		kind:     kind,
		mime:     domain.MimeType(p.File.Path),
		started:  time.Now().UTC(),
		ctx:      ctx,
		cancel:   cancel,
		token:    token,
		loop:     newTaskLoop(token),
		tracker:  NewTracker(p.Surface),
		done:     make(chan struct{}),
	}
	s.selector = NewSelector(s.reportRung, logger)

	layout, err := p.Swarm.PieceLayout(p.File)
	if err != nil {
		logger.Warn("piece layout unavailable, priority hints disabled", slog.String("error", err.Error()))
	}
	s.scheduler = NewScheduler(p.Swarm, s.tracker, layout, p.Config.Scheduler, token, logger)
	s.loop.afterEach = s.publishStatus
	s.publishStatus()
	return s, nil
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) TorrentID() domain.TorrentID { return s.swarm.ID() }
func (s *Session) File() domain.FileRef        { return s.file }
func (s *Session) Done() <-chan struct{}       { return s.done }

// Run drives the session until it is stopped, the surface goes away, or
// every strategy has failed. It returns ErrPlaybackFailed in the last case.
func (s *Session) Run(parent context.Context) error {
	defer close(s.done)
	metrics.ActivePlaybackSessions.Inc()
	metrics.PlaybackSessionsTotal.WithLabelValues(s.kind.String()).Inc()
	defer metrics.ActivePlaybackSessions.Dec()

	stopParent := context.AfterFunc(parent, func() { s.Stop(domain.OutcomeStopped) })
	defer stopParent()

	s.logger.Info("playback session started", slog.String("file", s.file.Path), slog.String("mime", s.mime))
	s.report(domain.EventInfo, fmt.Sprintf("Playing %s", s.file.Path), false)

	var g errgroup.Group
	g.Go(func() error {
		s.loop.Run()
		return nil
	})
	g.Go(func() error {
		s.pumpSurfaceEvents()
		return nil
	})

	every(s.token, s.cfg.PriorityInterval, s.loop.Post, s.reprioritize)
	every(s.token, s.cfg.HealthInterval, s.loop.Post, s.healthCheck)
	every(s.token, s.cfg.StatsInterval, s.loop.Post, s.statsTick)
	s.loop.Post(s.begin)

	_ = g.Wait()
	s.teardown()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stop tears the session down. The first recorded outcome wins.
func (s *Session) Stop(outcome domain.PlaybackOutcome) {
	s.mu.Lock()
	if s.outcome == "" {
		s.outcome = outcome
	}
	s.mu.Unlock()
	s.cancel()
}

// Wait blocks until Run has returned or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Strategies = make(map[string]string, len(s.status.Strategies))
	for k, v := range s.status.Strategies {
		st.Strategies[k] = v
	}
	return st
}

func (s *Session) begin() {
	rung := s.selector.Start(s.surface.CanBuffer(s.mime))
	s.enter(rung)
	s.reprioritize()
}

func (s *Session) enter(rung domain.Rung) {
	ctx, cancel := context.WithCancel(s.ctx)
	ctx, span := tracer.Start(ctx, "playback.strategy", trace.WithAttributes(
		attribute.String("session.id", s.id),
		attribute.String("torrent.id", string(s.swarm.ID())),
		attribute.String("strategy", rung.String()),
	))
	s.rungCancel = cancel
	s.rungSpan = span

	switch rung {
	case domain.RungSegmented:
		s.startSegmented(ctx)
	case domain.RungDirect:
		s.startDirect(ctx)
	case domain.RungMaterialized:
		s.startMaterialized(ctx)
	}
}

// fail moves the chain forward. Late failures from abandoned rungs are
// dropped.
func (s *Session) fail(rung domain.Rung, kind domain.FailureKind, cause error) {
	next, err := s.selector.Fail(rung, kind, cause)
	if err != nil {
		s.logger.Debug("playback failure ignored", slog.String("rung", rung.String()), slog.String("error", err.Error()))
		return
	}
	if s.rungSpan != nil && cause != nil {
		s.rungSpan.RecordError(cause)
		s.rungSpan.SetStatus(codes.Error, string(kind))
	}
	s.releaseRung()
	if next == domain.RungNone {
		s.mu.Lock()
		s.err = fmt.Errorf("%w: %v", domain.ErrPlaybackFailed, cause)
		if s.outcome == "" {
			s.outcome = domain.OutcomeFailed
		}
		s.mu.Unlock()
		s.cancel()
		return
	}
	s.enter(next)
}

func (s *Session) releaseRung() {
	if s.rungCancel != nil {
		s.rungCancel()
		s.rungCancel = nil
	}
	if s.appender != nil {
		s.appender.Close()
		s.appender = nil
	}
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	if s.sink != nil {
		_ = s.sink.Close()
		s.sink = nil
	}
	if s.rungSpan != nil {
		s.rungSpan.End()
		s.rungSpan = nil
	}
}

func (s *Session) startSegmented(ctx context.Context) {
	go func() {
		sink, err := s.surface.OpenBufferSink(ctx, s.mime)
		if err != nil {
			s.loop.Post(func() { s.fail(domain.RungSegmented, domain.FailureSetup, err) })
			return
		}
		stream, err := s.swarm.OpenReadStream(ctx, s.file)
		if err != nil {
			_ = sink.Close()
			s.loop.Post(func() { s.fail(domain.RungSegmented, domain.FailureSetup, err) })
			return
		}
		s.loop.Post(func() { s.attachSegmented(ctx, sink, stream) })
	}()
}

func (s *Session) attachSegmented(ctx context.Context, sink ports.BufferSink, stream ports.ChunkStream) {
	if ctx.Err() != nil || s.selector.Current() != domain.RungSegmented {
		_ = stream.Close()
		_ = sink.Close()
		return
	}
	s.sink = sink
	s.stream = stream
	pump := newChunkPump(s.cfg.Appender.MaxQueuedChunks)
	app := NewAppender(AppenderParams{
		Sink:     sink,
		Controls: s.surface,
		Dispatch: s.loop,
		Config:   s.cfg.Appender,
		Logger:   s.logger,
		OnFatal: func(err error) {
			s.fail(domain.RungSegmented, domain.FailureBufferFatal, err)
		},
		OnWarn: func(msg string) {
			s.report(domain.EventWarning, msg, false)
		},
		OnRelease: pump.release,
	})
	app.SetUserPaused(s.userPaused)
	s.appender = app

	go func() {
		delivered := pump.run(ctx, stream.Chunks(), s.loop.Post, func(c domain.Chunk) {
			if s.appender == app {
				app.Enqueue(c)
				return
			}
			pump.release(1)
		})
		if !delivered {
			return
		}
		streamErr := stream.Err()
		s.loop.Post(func() {
			if s.appender != app {
				return
			}
			if streamErr != nil && ctx.Err() == nil {
				s.fail(domain.RungSegmented, domain.FailureBufferFatal, streamErr)
				return
			}
			app.EndOfStream()
		})
	}()
}

func (s *Session) startDirect(ctx context.Context) {
	src := directSource{swarm: s.swarm, file: s.file, mime: s.mime}
	go func() {
		err := s.surface.RenderDirect(ctx, src)
		s.loop.Post(func() {
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				s.fail(domain.RungDirect, domain.FailureRender, err)
				return
			}
			s.report(domain.EventSuccess, "Streaming through direct render", false)
		})
	}()
}

func (s *Session) startMaterialized(ctx context.Context) {
	s.report(domain.EventInfo, "Waiting for the full file before playback", false)
	go func() {
		handle, err := s.swarm.Materialize(ctx, s.file)
		if err != nil {
			s.loop.Post(func() { s.fail(domain.RungMaterialized, domain.FailureMaterialize, err) })
			return
		}
		if err := s.surface.SetSource(ctx, handle); err != nil {
			s.loop.Post(func() { s.fail(domain.RungMaterialized, domain.FailureSetup, err) })
			return
		}
		s.loop.Post(func() {
			if ctx.Err() != nil {
				return
			}
			s.report(domain.EventSuccess, "Playing downloaded file", false)
			if !s.userPaused {
				_ = s.surface.Play()
			}
		})
	}()
}

func (s *Session) reprioritize() {
	s.scheduler.Reevaluate()
}

func (s *Session) healthCheck() {
	if s.appender != nil {
		s.appender.HealthCheck()
	}
}

func (s *Session) statsTick() {
	stats := s.swarm.Stats()
	s.lastStats = stats
	if s.reporter != nil {
		s.reporter.ReportStats(s.swarm.ID(), stats)
	}

	if stats.Progress >= 1 {
		if !s.completeReported {
			s.completeReported = true
			s.report(domain.EventSuccess, fmt.Sprintf("Download complete: %s", humanize.Bytes(uint64(stats.Length))), false)
		}
		return
	}
	step := int(stats.Progress * 10)
	if step > s.progressStep {
		s.progressStep = step
		s.report(domain.EventInfo, fmt.Sprintf("Downloaded %d%% (%s of %s) at %s/s from %d peers",
			step*10,
			humanize.Bytes(uint64(stats.BytesDone)),
			humanize.Bytes(uint64(stats.Length)),
			humanize.Bytes(uint64(stats.DownloadSpeed)),
			stats.Peers,
		), false)
	}
}

func (s *Session) pumpSurfaceEvents() {
	events := s.surface.Events()
	for {
		select {
		case <-s.token.Done():
			return
		case <-s.surface.Done():
			s.logger.Info("player disconnected")
			s.Stop(domain.OutcomeStopped)
			return
		case ev, ok := <-events:
			if !ok {
				s.Stop(domain.OutcomeStopped)
				return
			}
			s.loop.Post(func() { s.onSurfaceEvent(ev) })
		}
	}
}

func (s *Session) onSurfaceEvent(ev domain.SurfaceEvent) {
	switch ev.Kind {
	case domain.SurfaceSeeked:
		s.reprioritize()
	case domain.SurfacePaused:
		s.setUserPaused(true)
	case domain.SurfacePlayed:
		s.setUserPaused(false)
		s.reprioritize()
	case domain.SurfaceError:
		cause := fmt.Errorf("player error: %s", ev.Message)
		switch s.selector.Current() {
		case domain.RungSegmented:
			s.fail(domain.RungSegmented, domain.FailureBufferFatal, fmt.Errorf("%w: %v", domain.ErrBufferFatal, cause))
		case domain.RungDirect:
			s.fail(domain.RungDirect, domain.FailureRender, cause)
		case domain.RungMaterialized:
			s.fail(domain.RungMaterialized, domain.FailureSetup, cause)
		}
	case domain.SurfaceClosed:
		s.Stop(domain.OutcomeStopped)
	}
}

func (s *Session) setUserPaused(paused bool) {
	s.userPaused = paused
	if s.appender != nil {
		s.appender.SetUserPaused(paused)
	}
}

// teardown runs after the loop has exited, so loop-owned state is safe to
// touch here.
func (s *Session) teardown() {
	s.releaseRung()

	s.mu.Lock()
	outcome := s.outcome
	if outcome == "" {
		outcome = domain.OutcomeStopped
		s.outcome = outcome
	}
	failed := s.err != nil
	s.mu.Unlock()

	pos := s.tracker.Position()
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.historyTimeout())
		err := s.history.Upsert(ctx, domain.WatchPosition{
			TorrentID:   s.swarm.ID(),
			FileIndex:   s.file.Index,
			Position:    pos.CurrentTime,
			Duration:    pos.Duration,
			TorrentName: s.swarm.Name(),
			FilePath:    s.file.Path,
			Rung:        s.selector.Current(),
			Outcome:     outcome,
			UpdatedAt:   time.Now().UTC(),
		})
		cancel()
		if err != nil {
			s.logger.Warn("watch history save failed", slog.String("error", err.Error()))
		}
	}

	if !failed {
		s.report(domain.EventInfo, "Playback stopped", true)
	}
	s.publishStatus()
	s.logger.Info("playback session ended", slog.String("outcome", string(outcome)))
}

func (s *Session) historyTimeout() time.Duration {
	if s.cfg.HistoryTimeout > 0 {
		return s.cfg.HistoryTimeout
	}
	return 5 * time.Second
}

func (s *Session) reportRung(level domain.EventLevel, msg string, rung domain.Rung, terminal bool) {
	s.emit(domain.PlaybackEvent{Level: level, Message: msg, Rung: rung, Terminal: terminal})
}

func (s *Session) report(level domain.EventLevel, msg string, terminal bool) {
	s.emit(domain.PlaybackEvent{Level: level, Message: msg, Rung: s.selector.Current(), Terminal: terminal})
}

func (s *Session) emit(ev domain.PlaybackEvent) {
	ev.TorrentID = s.swarm.ID()
	ev.SessionID = s.id
	ev.At = time.Now().UTC()
	if s.reporter != nil {
		s.reporter.Report(ev)
	}
}

func (s *Session) publishStatus() {
	st := Status{
		ID:         s.id,
		TorrentID:  s.swarm.ID(),
		File:       s.file,
		Kind:       s.kind.String(),
		Rung:       s.selector.Current(),
		RungName:   s.selector.Current().String(),
		Strategies: s.selector.States(),
		Position:   s.tracker.Position(),
		Stats:      s.lastStats,
		Terminal:   s.selector.Terminal(),
		StartedAt:  s.started,
	}
	if s.appender != nil {
		st.QueueDepth = s.appender.Pending()
		st.Appended = s.appender.Appended()
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

type directSource struct {
	swarm ports.SwarmProvider
	file  domain.FileRef
	mime  string
}

func (d directSource) File() domain.FileRef { return d.file }
func (d directSource) MimeType() string     { return d.mime }

func (d directSource) Open() (io.ReadSeekCloser, error) {
	return d.swarm.NewFileReader(d.file)
}
