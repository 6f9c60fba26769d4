package anacrolix

import (
	"context"
	"errors"
	"io"
	"sync"

	"torrentplay/internal/domain"
)

// readStream pumps a reader into fixed-size chunks on a channel.
type readStream struct {
	ch     chan domain.Chunk
	cancel context.CancelFunc
	r      io.ReadCloser

	mu  sync.Mutex
	err error

	closeOnce sync.Once
}

func newReadStream(parent context.Context, r io.ReadCloser, chunkSize int64) *readStream {
	ctx, cancel := context.WithCancel(parent)
	if cs, ok := r.(interface{ SetContext(context.Context) }); ok {
		cs.SetContext(ctx)
	}
	s := &readStream{
		ch:     make(chan domain.Chunk, 4),
		cancel: cancel,
		r:      r,
	}
	go s.pump(ctx, chunkSize)
	return s
}

func (s *readStream) pump(ctx context.Context, chunkSize int64) {
	defer close(s.ch)
	var offset int64
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(s.r, buf)
		if n > 0 {
			select {
			case s.ch <- domain.Chunk{Offset: offset, Data: buf[:n]}:
				offset += int64(n)
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			}
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		case ctx.Err() != nil:
			s.setErr(ctx.Err())
			return
		default:
			s.setErr(err)
			return
		}
	}
}

func (s *readStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *readStream) Chunks() <-chan domain.Chunk {
	return s.ch
}

func (s *readStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *readStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.r.Close()
	})
	return err
}
