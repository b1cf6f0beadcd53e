package ingest

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrPushBufferFull is returned when the webhook feed outpaces the ingester.
	ErrPushBufferFull = errors.New("push feed buffer full")
	// ErrPushClosed is returned once the session stopped accepting comments.
	ErrPushClosed = errors.New("push feed closed")
)

// PushSource is fed by the HTTP webhook. The buffer is bounded; Push never
// blocks.
type PushSource struct {
	mu     sync.RWMutex
	closed bool
	buf    chan Payload
	max    int
}

func NewPushSource(size, batch int) *PushSource {
	if size <= 0 {
		size = 256
	}
	if batch <= 0 {
		batch = 32
	}
	return &PushSource{buf: make(chan Payload, size), max: batch}
}

func (p *PushSource) Push(pl Payload) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPushClosed
	}
	select {
	case p.buf <- pl:
		return nil
	default:
		return ErrPushBufferFull
	}
}

// Fetch returns everything still buffered once ctx is done.
func (p *PushSource) Fetch(ctx context.Context) ([]Payload, error) {
	if err := ctx.Err(); err != nil {
		return p.drain(nil), err
	}
	select {
	case <-ctx.Done():
		return p.drain(nil), ctx.Err()
	case pl := <-p.buf:
		return p.drain([]Payload{pl}), nil
	}
}

// drain appends everything buffered, up to the batch size when out is non-nil.
func (p *PushSource) drain(out []Payload) []Payload {
	limited := out != nil
	for {
		if limited && len(out) >= p.max {
			return out
		}
		select {
		case pl := <-p.buf:
			out = append(out, pl)
		default:
			return out
		}
	}
}

// Close stops accepting pushes. Buffered payloads can still be fetched.
func (p *PushSource) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}
