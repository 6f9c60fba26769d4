package apihttp

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"torrentplay/internal/domain"
	"torrentplay/internal/domain/ports"
)

const (
	playerRequestTimeout = 15 * time.Second
	playerWriteWait      = 10 * time.Second
	playerPongWait       = 60 * time.Second
	playerPingPeriod     = 30 * time.Second
	playerReadLimit      = 64 << 10
	// An append without an ack after this long is assumed dropped by the
	// player.
	playerAckTimeout = 30 * time.Second
)

var errPlayerGone = errors.New("player disconnected")

// Messages from the browser player.
type playerHello struct {
	CanBuffer []string `json:"canBuffer"`
}

type playerState struct {
	CurrentTime float64           `json:"currentTime"`
	Duration    float64           `json:"duration"`
	Paused      bool              `json:"paused"`
	ReadyState  domain.ReadyState `json:"readyState"`
	// Updating mirrors the media buffer's own busy flag.
	Updating bool `json:"updating"`
}

type playerAck struct {
	Seq   uint64 `json:"seq"`
	Error string `json:"error,omitempty"`
	Fatal bool   `json:"fatal,omitempty"`
}

type playerReply struct {
	Req   uint64 `json:"req"`
	Error string `json:"error,omitempty"`
}

type playerInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Commands to the browser player.
type playerWelcome struct {
	ID string `json:"id"`
}

type openBufferCommand struct {
	Req      uint64 `json:"req"`
	MimeType string `json:"mimeType"`
}

type sourceCommand struct {
	Req      uint64 `json:"req"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

type playerFrame struct {
	kind int
	data []byte
}

// remotePlayer is a media element in a browser tab, driven over a websocket.
// Control messages are JSON text frames; buffer appends are binary frames
// carrying an 8-byte big-endian sequence number followed by the bytes.
type remotePlayer struct {
	id      string
	conn    *websocket.Conn
	sources *sourceRegistry
	logger  *slog.Logger

	send      chan playerFrame
	events    chan domain.SurfaceEvent
	done      chan struct{}
	closeOnce sync.Once
	nextReq   atomic.Uint64

	mu        sync.Mutex
	state     playerState
	canBuffer map[string]bool
	requests  map[uint64]chan error
	sink      *remoteSink
}

var _ ports.RenderSurface = (*remotePlayer)(nil)

func newRemotePlayer(id string, conn *websocket.Conn, sources *sourceRegistry, logger *slog.Logger) *remotePlayer {
	return &remotePlayer{
		id:        id,
		conn:      conn,
		sources:   sources,
		logger:    logger.With(slog.String("playerId", id)),
		send:      make(chan playerFrame, 64),
		events:    make(chan domain.SurfaceEvent, 16),
		done:      make(chan struct{}),
		state:     playerState{Paused: true},
		canBuffer: make(map[string]bool),
		requests:  make(map[uint64]chan error),
	}
}

func (p *remotePlayer) ID() string                         { return p.id }
func (p *remotePlayer) Events() <-chan domain.SurfaceEvent { return p.events }
func (p *remotePlayer) Done() <-chan struct{}              { return p.done }

func (p *remotePlayer) CanBuffer(mimeType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.canBuffer[baseMime(mimeType)]
}

func (p *remotePlayer) Play() error {
	if err := p.command("play", nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Paused = false
	p.mu.Unlock()
	return nil
}

func (p *remotePlayer) Pause() error {
	if err := p.command("pause", nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.state.Paused = true
	p.mu.Unlock()
	return nil
}

func (p *remotePlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.CurrentTime
}

func (p *remotePlayer) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Duration
}

func (p *remotePlayer) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Paused
}

func (p *remotePlayer) ReadyState() domain.ReadyState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.ReadyState
}

// OpenBufferSink asks the player to create a media buffer for mimeType. A
// previous sink, if any, stops receiving acknowledgements.
func (p *remotePlayer) OpenBufferSink(ctx context.Context, mimeType string) (ports.BufferSink, error) {
	req := p.nextReq.Add(1)
	if err := p.request(ctx, req, "open-buffer", openBufferCommand{Req: req, MimeType: mimeType}); err != nil {
		return nil, err
	}
	sink := &remoteSink{
		player:     p,
		pending:    make(map[uint64]pendingAppend),
		ackTimeout: playerAckTimeout,
		now:        time.Now,
	}
	p.mu.Lock()
	prev := p.sink
	p.sink = sink
	p.mu.Unlock()
	if prev != nil {
		prev.abandon()
	}
	return sink, nil
}

func (p *remotePlayer) RenderDirect(ctx context.Context, src ports.DirectSource) error {
	return p.renderURL(ctx, "render-direct", directMediaSource(src))
}

func (p *remotePlayer) SetSource(ctx context.Context, handle domain.MaterializedHandle) error {
	return p.renderURL(ctx, "set-source", localMediaSource(handle))
}

// renderURL registers src under a fresh token and points the player at it.
// The token is revoked when ctx ends or the player leaves.
func (p *remotePlayer) renderURL(ctx context.Context, msgType string, src mediaSource) error {
	token := p.sources.add(src)
	req := p.nextReq.Add(1)
	err := p.request(ctx, req, msgType, sourceCommand{Req: req, URL: sourceURL(token), MimeType: src.mimeType})
	if err != nil {
		p.sources.revoke(token)
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
		case <-p.done:
		}
		p.sources.revoke(token)
	}()
	return nil
}

// request sends a command and waits for the matching reply.
func (p *remotePlayer) request(ctx context.Context, req uint64, msgType string, data interface{}) error {
	reply := make(chan error, 1)
	p.mu.Lock()
	p.requests[req] = reply
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.requests, req)
		p.mu.Unlock()
	}()

	if err := p.command(msgType, data); err != nil {
		return err
	}

	timer := time.NewTimer(playerRequestTimeout)
	defer timer.Stop()
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return errPlayerGone
	case <-timer.C:
		return fmt.Errorf("player did not answer %s", msgType)
	}
}

func (p *remotePlayer) command(msgType string, data interface{}) error {
	payload, err := json.Marshal(wsMessage{Type: msgType, Data: data})
	if err != nil {
		return err
	}
	return p.enqueue(playerFrame{kind: websocket.TextMessage, data: payload})
}

func (p *remotePlayer) enqueue(frame playerFrame) error {
	select {
	case <-p.done:
		return errPlayerGone
	default:
	}
	select {
	case p.send <- frame:
		return nil
	case <-p.done:
		return errPlayerGone
	}
}

func (p *remotePlayer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		sink := p.sink
		p.sink = nil
		p.mu.Unlock()
		if sink != nil {
			sink.abandon()
		}
	})
}

// handleMessage applies one inbound text frame.
func (p *remotePlayer) handleMessage(raw []byte) error {
	var msg playerInbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return err
	}
	switch msg.Type {
	case "hello":
		var hello playerHello
		if err := json.Unmarshal(msg.Data, &hello); err != nil {
			return err
		}
		p.mu.Lock()
		p.canBuffer = make(map[string]bool, len(hello.CanBuffer))
		for _, mt := range hello.CanBuffer {
			p.canBuffer[baseMime(mt)] = true
		}
		p.mu.Unlock()
	case "state":
		var st playerState
		if err := json.Unmarshal(msg.Data, &st); err != nil {
			return err
		}
		p.mu.Lock()
		p.state = st
		p.mu.Unlock()
	case "event":
		var ev domain.SurfaceEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return err
		}
		p.pushEvent(ev)
	case "ack":
		var ack playerAck
		if err := json.Unmarshal(msg.Data, &ack); err != nil {
			return err
		}
		p.mu.Lock()
		sink := p.sink
		p.mu.Unlock()
		if sink != nil {
			sink.complete(ack)
		}
	case "reply":
		var reply playerReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			return err
		}
		p.mu.Lock()
		ch, ok := p.requests[reply.Req]
		p.mu.Unlock()
		if ok {
			var err error
			if reply.Error != "" {
				err = errors.New(reply.Error)
			}
			select {
			case ch <- err:
			default:
			}
		}
	default:
		p.logger.Debug("unknown player message", slog.String("type", msg.Type))
	}
	return nil
}

func (p *remotePlayer) pushEvent(ev domain.SurfaceEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("player event dropped", slog.String("kind", string(ev.Kind)))
	}
}

func (p *remotePlayer) writePump() {
	ticker := time.NewTicker(playerPingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()
	for {
		select {
		case frame := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(playerWriteWait))
			if err := p.conn.WriteMessage(frame.kind, frame.data); err != nil {
				p.close()
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(playerWriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.close()
				return
			}
		case <-p.done:
			_ = p.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}

func (p *remotePlayer) readPump() {
	defer func() {
		p.close()
		p.conn.Close()
	}()
	p.conn.SetReadLimit(playerReadLimit)
	_ = p.conn.SetReadDeadline(time.Now().Add(playerPongWait))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(playerPongWait))
		return nil
	})
	for {
		kind, raw, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(playerPongWait))
		if kind != websocket.TextMessage {
			continue
		}
		if err := p.handleMessage(raw); err != nil {
			p.logger.Debug("bad player message", slog.String("error", err.Error()))
		}
	}
}

// remoteSink is the buffer half of a remotePlayer.
type remoteSink struct {
	player     *remotePlayer
	ackTimeout time.Duration
	now        func() time.Time

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]pendingAppend
	closed  bool
}

type pendingAppend struct {
	done func(error)
	sent time.Time
}

var _ ports.BufferSink = (*remoteSink)(nil)

func (s *remoteSink) AppendChunk(data []byte, done func(error)) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: buffer closed", domain.ErrBufferFatal)
	}
	s.seq++
	seq := s.seq
	s.pending[seq] = pendingAppend{done: done, sent: s.now()}
	s.mu.Unlock()

	frame := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(frame, seq)
	copy(frame[8:], data)
	if err := s.player.enqueue(playerFrame{kind: websocket.BinaryMessage, data: frame}); err != nil {
		s.mu.Lock()
		delete(s.pending, seq)
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", domain.ErrBufferFatal, err)
	}
	return nil
}

func (s *remoteSink) EndOfStream() error {
	if s.isClosed() {
		return fmt.Errorf("%w: buffer closed", domain.ErrBufferFatal)
	}
	return s.player.command("end-of-stream", nil)
}

func (s *remoteSink) Close() error {
	s.abandon()
	err := s.player.command("close-buffer", nil)
	if errors.Is(err, errPlayerGone) {
		return nil
	}
	return err
}

// Updating is true while the player says its buffer is busy or an append
// is still waiting for its ack. Appends older than ackTimeout are forgotten.
func (s *remoteSink) Updating() bool {
	s.player.mu.Lock()
	busy := s.player.state.Updating
	s.player.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	now := s.now()
	for seq, pa := range s.pending {
		if now.Sub(pa.sent) > s.ackTimeout {
			delete(s.pending, seq)
		}
	}
	return busy || len(s.pending) > 0
}

func (s *remoteSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// complete resolves the append acknowledged by ack. Unknown sequence numbers
// are ignored.
func (s *remoteSink) complete(ack playerAck) {
	s.mu.Lock()
	pa, ok := s.pending[ack.Seq]
	delete(s.pending, ack.Seq)
	s.mu.Unlock()
	if !ok {
		return
	}
	switch {
	case ack.Error == "":
		pa.done(nil)
	case ack.Fatal:
		pa.done(fmt.Errorf("%w: %s", domain.ErrBufferFatal, ack.Error))
	default:
		pa.done(errors.New(ack.Error))
	}
}

// abandon fails every outstanding append and refuses new ones.
func (s *remoteSink) abandon() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, pa := range pending {
		pa.done(fmt.Errorf("%w: %v", domain.ErrBufferFatal, errPlayerGone))
	}
}

// playerRegistry tracks connected players. The most recently connected one
// is the default playback target.
type playerRegistry struct {
	mu      sync.Mutex
	players map[string]*remotePlayer
	order   []string
}

func newPlayerRegistry() *playerRegistry {
	return &playerRegistry{players: make(map[string]*remotePlayer)}
}

func (r *playerRegistry) add(p *remotePlayer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.players[p.id]; ok {
		old.close()
		r.dropOrder(p.id)
	}
	r.players[p.id] = p
	r.order = append(r.order, p.id)
}

func (r *playerRegistry) remove(p *remotePlayer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.players[p.id]; ok && cur == p {
		delete(r.players, p.id)
		r.dropOrder(p.id)
	}
}

func (r *playerRegistry) dropOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// lookup returns the player with id, or the latest one when id is empty.
func (r *playerRegistry) lookup(id string) (*remotePlayer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id != "" {
		p, ok := r.players[id]
		return p, ok
	}
	if len(r.order) == 0 {
		return nil, false
	}
	return r.players[r.order[len(r.order)-1]], true
}

func (r *playerRegistry) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

func (r *playerRegistry) closeAll() {
	r.mu.Lock()
	players := make([]*remotePlayer, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	r.mu.Unlock()
	for _, p := range players {
		p.close()
	}
}

func baseMime(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// handlePlayerWS attaches a browser media element as a playback surface.
func (s *Server) handlePlayerWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		id = newToken()[:12]
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("player ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	player := newRemotePlayer(id, conn, s.sources, s.logger)
	s.players.add(player)
	s.logger.Info("player connected", slog.String("playerId", id))
	_ = player.command("welcome", playerWelcome{ID: id})

	go player.writePump()
	go func() {
		player.readPump()
		s.players.remove(player)
		s.logger.Info("player disconnected", slog.String("playerId", id))
	}()
}
