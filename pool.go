package mmt

import (
	"context"
	"errors"
	"sync"
)

// Pool hands out decoders for concurrent translation.
type Pool struct {
	decoders chan *Decoder
	size     int
	mu       sync.Mutex
	closed   bool
}

// NewPool creates a pool over decoders. Each decoder must own its model.
func NewPool(decoders ...*Decoder) *Pool {
	pool := &Pool{
		decoders: make(chan *Decoder, len(decoders)),
		size:     len(decoders),
	}
	for _, d := range decoders {
		pool.decoders <- d
	}
	return pool
}

// Acquire gets a decoder from the pool, blocking if none available.
// Respects context cancellation. Returns ErrPoolClosed if pool is closed.
func (p *Pool) Acquire(ctx context.Context) (*Decoder, error) {
	select {
	case d, ok := <-p.decoders:
		if !ok {
			return nil, ErrPoolClosed
		}
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a decoder to the pool.
func (p *Pool) Release(d *Decoder) {
	if d == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = d.Close() // Pool closed; clean up decoder
		return
	}

	select {
	case p.decoders <- d:
	default:
		_ = d.Close() // Pool full; clean up excess decoder
	}
}

// Translate runs Decoder.Translate on a pooled decoder.
func (p *Pool) Translate(ctx context.Context, sourceLang, targetLang string, segments []string, opts ...TranslateOption) ([]Translation, error) {
	d, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.Release(d)
	return d.Translate(ctx, sourceLang, targetLang, segments, opts...)
}

// Close closes all idle decoders. Decoders still out are closed on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.decoders)
	p.mu.Unlock()

	var errs []error
	for d := range p.decoders {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.size
}
