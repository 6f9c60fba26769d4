package playback

import (
	"context"
	"sync"
	"time"

	"torrentplay/internal/domain"
)

// Token is the liveness handle a session hands to everything it starts.
// Once the session is torn down the token reports dead and every timer,
// pump and callback holding it stops on its next check.
type Token struct {
	id  string
	ctx context.Context
}

func newToken(ctx context.Context, id string) Token {
	return Token{id: id, ctx: ctx}
}

func (t Token) SessionID() string {
	return t.id
}

func (t Token) Alive() bool {
	return t.ctx != nil && t.ctx.Err() == nil
}

func (t Token) Done() <-chan struct{} {
	return t.ctx.Done()
}

func (t Token) Context() context.Context {
	return t.ctx
}

// Dispatcher schedules closures onto the session task. Closures posted to
// the same dispatcher never run concurrently.
type Dispatcher interface {
	Post(fn func())
	After(d time.Duration, fn func())
}

// taskLoop is the single logical task of a playback session. Chunk arrivals,
// timer ticks, sink callbacks and surface events all run here in the order
// they were posted, so the components it drives need no locking.
type taskLoop struct {
	token Token

	mu    sync.Mutex
	queue []func()
	wake  chan struct{}

	// afterEach runs on the loop after every task.
	afterEach func()
}

func newTaskLoop(token Token) *taskLoop {
	return &taskLoop{
		token: token,
		wake:  make(chan struct{}, 1),
	}
}

// Post never blocks, so it is safe to call from inside a running task.
func (l *taskLoop) Post(fn func()) {
	if fn == nil || !l.token.Alive() {
		return
	}
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *taskLoop) After(d time.Duration, fn func()) {
	if d <= 0 {
		l.Post(fn)
		return
	}
	time.AfterFunc(d, func() { l.Post(fn) })
}

func (l *taskLoop) Run() {
	for {
		select {
		case <-l.token.Done():
			l.discard()
			return
		case <-l.wake:
		}
		for {
			fn, ok := l.next()
			if !ok {
				break
			}
			if !l.token.Alive() {
				l.discard()
				return
			}
			fn()
			if l.afterEach != nil {
				l.afterEach()
			}
		}
	}
}

func (l *taskLoop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn, true
}

func (l *taskLoop) discard() {
	l.mu.Lock()
	l.queue = nil
	l.mu.Unlock()
}

// every posts fn to the loop once per interval. The ticker goroutine checks
// the token on each tick and exits on its own once the session is gone. The
// returned channel is closed when it has.
func every(token Token, interval time.Duration, post func(func()), fn func()) <-chan struct{} {
	exited := make(chan struct{})
	if interval <= 0 {
		close(exited)
		return exited
	}
	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if !token.Alive() {
				return
			}
			post(fn)
		}
	}()
	return exited
}

// chunkPump moves chunks from a read stream onto the session task. At most
// limit chunks are handed over and not yet released, so a slow sink stalls
// the stream instead of growing the queue.
type chunkPump struct {
	credits chan struct{}
}

func newChunkPump(limit int) *chunkPump {
	if limit <= 0 {
		limit = DefaultAppenderConfig().MaxQueuedChunks
	}
	return &chunkPump{credits: make(chan struct{}, limit)}
}

// run delivers chunks in order until the channel closes. It returns false if
// ctx ended first.
func (p *chunkPump) run(ctx context.Context, chunks <-chan domain.Chunk, post func(func()), deliver func(domain.Chunk)) bool {
	for {
		select {
		case p.credits <- struct{}{}:
		case <-ctx.Done():
			return false
		}
		select {
		case c, ok := <-chunks:
			if !ok {
				p.release(1)
				return ctx.Err() == nil
			}
			post(func() { deliver(c) })
		case <-ctx.Done():
			return false
		}
	}
}

// release hands back n credits. Extra releases are ignored.
func (p *chunkPump) release(n int) {
	for i := 0; i < n; i++ {
		select {
		case <-p.credits:
		default:
			return
		}
	}
}

// inFlight is the number of chunks handed over and not yet released.
func (p *chunkPump) inFlight() int {
	return len(p.credits)
}
