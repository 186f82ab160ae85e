package pool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/stretchr/testify/require"
)

func counterFactory() (Config, *int64) {
	var created int64
	cfg := Config{
		MinSize: 1,
		MaxSize: 2,
		Factory: func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt64(&created, 1)
			return n, nil
		},
	}
	return cfg, &created
}

func TestInitializePrefillsMinSize(t *testing.T) {
	cfg, _ := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	require.Equal(t, StateActive, p.State())
	require.Equal(t, 1, p.Stats().Total)
}

func TestAcquireAndReleaseReusesEntry(t *testing.T) {
	cfg, created := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	lease, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	lease.Release()

	lease2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	lease2.Release()

	require.LessOrEqual(t, atomic.LoadInt64(created), int64(2))
}

func TestAcquireGrowsUpToMaxSize(t *testing.T) {
	cfg, _ := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	l1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)

	require.Equal(t, 2, p.Stats().Total)
	l1.Release()
	l2.Release()
}

func TestAcquireTimesOutWhenExhausted(t *testing.T) {
	cfg, _ := counterFactory()
	cfg.MaxSize = 1
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	l1, err := p.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	defer l1.Release()

	_, err = p.Acquire(context.Background(), 20*time.Millisecond)
	var timeoutErr *migerr.PoolTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestAcquireWithMaxSizeZeroFailsImmediately(t *testing.T) {
	p := New(Config{MaxSize: 0}, nil)
	p.Initialize(context.Background())
	defer p.Close()

	_, err := p.Acquire(context.Background(), time.Second)
	var timeoutErr *migerr.PoolTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func TestCloseDestroysAllResources(t *testing.T) {
	cfg, _ := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())

	p.Close()
	require.Equal(t, StateClosed, p.State())
	require.Equal(t, 0, p.Stats().Total)
}
