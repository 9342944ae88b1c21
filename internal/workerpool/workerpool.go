// Package workerpool bounds the number of blocking SQL and filesystem
// operations in flight at once, mirroring the fixed-size executor the
// original server used to keep request-handling goroutines off its I/O
// threads (spec §5's "bounded worker pool").
package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gauge is the subset of prometheus.Gauge the pool reports occupancy
// to, kept minimal so this package doesn't import the metrics stack
// directly.
type Gauge interface {
	Inc()
	Dec()
}

// Pool limits concurrent Do calls to size.
type Pool struct {
	sem   *semaphore.Weighted
	size  int64
	gauge Gauge
}

// New creates a pool that admits at most size concurrent operations.
func New(size int) *Pool {
	if size <= 0 {
		size = 32
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// WithGauge attaches a gauge tracking in-flight Do calls.
func (p *Pool) WithGauge(g Gauge) *Pool {
	p.gauge = g
	return p
}

// Do runs fn once a slot is free, blocking until one is or ctx is
// canceled. The slot is released before Do returns.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	if p.gauge != nil {
		p.gauge.Inc()
		defer p.gauge.Dec()
	}
	return fn()
}

// Size returns the configured concurrency limit.
func (p *Pool) Size() int64 { return p.size }
