package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorRunSamplesRegisteredPools(t *testing.T) {
	cfg, _ := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	m := NewMonitor(10)
	m.Register("primary", p)

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx, 5*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	cancel()
	time.Sleep(5 * time.Millisecond)

	history := m.PoolMetrics("primary")
	require.NotEmpty(t, history)

	all := m.AllMetrics()
	require.Contains(t, all, "primary")
}

func TestUnregisterRemovesPoolFromMetrics(t *testing.T) {
	cfg, _ := counterFactory()
	p := New(cfg, nil)
	p.Initialize(context.Background())
	defer p.Close()

	m := NewMonitor(10)
	m.Register("primary", p)
	m.Unregister("primary")

	require.Empty(t, m.PoolMetrics("primary"))
	require.NotContains(t, m.AllMetrics(), "primary")
}
