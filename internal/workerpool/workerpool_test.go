package workerpool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoRunsFunction(t *testing.T) {
	pool := New(4)
	var ran bool
	err := pool.Do(context.Background(), func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
}

func TestDoPropagatesFunctionError(t *testing.T) {
	pool := New(1)
	sentinel := context.DeadlineExceeded
	err := pool.Do(context.Background(), func() error {
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
}

func TestDoBoundsConcurrency(t *testing.T) {
	pool := New(2)
	var current, max int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pool.Do(context.Background(), func() error {
				n := atomic.AddInt64(&current, 1)
				mu.Lock()
				if n > max {
					max = n
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, max, int64(2))
}

func TestDoReturnsOnContextCancellation(t *testing.T) {
	pool := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = pool.Do(context.Background(), func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	cancel()
	err := pool.Do(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.Canceled)
	close(release)
}

type fakeGauge struct {
	inc, dec int64
}

func (g *fakeGauge) Inc() { atomic.AddInt64(&g.inc, 1) }
func (g *fakeGauge) Dec() { atomic.AddInt64(&g.dec, 1) }

func TestWithGaugeTracksInFlight(t *testing.T) {
	gauge := &fakeGauge{}
	pool := New(2).WithGauge(gauge)

	require.NoError(t, pool.Do(context.Background(), func() error { return nil }))
	require.Equal(t, int64(1), atomic.LoadInt64(&gauge.inc))
	require.Equal(t, int64(1), atomic.LoadInt64(&gauge.dec))
}

func TestSizeReturnsConfiguredLimit(t *testing.T) {
	require.Equal(t, int64(5), New(5).Size())
	require.Equal(t, int64(32), New(0).Size())
	require.Equal(t, int64(32), New(-1).Size())
}
