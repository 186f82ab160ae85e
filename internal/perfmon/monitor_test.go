package perfmon

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTransferTrackingComputesRateAndEfficiency(t *testing.T) {
	m := New(time.Second, 100)
	m.StartTransferTracking("sess-1", "transfer_files", 1024*1024, 10, 10)

	time.Sleep(10 * time.Millisecond)
	m.UpdateTransferProgress("sess-1", "transfer_files", 1024*1024, 10, 0, 0)

	tm, ok := m.GetTransferMetrics("sess-1", "transfer_files")
	require.True(t, ok)
	require.Equal(t, int64(1024*1024), tm.BytesTransferred)
	require.Greater(t, tm.CurrentRateMBps, 0.0)
}

func TestUpdateTransferProgressWithoutStartIsNoop(t *testing.T) {
	m := New(time.Second, 100)
	m.UpdateTransferProgress("sess-1", "transfer_files", 100, 1, 0, 0)

	_, ok := m.GetTransferMetrics("sess-1", "transfer_files")
	require.False(t, ok)
}

func TestDatabaseTrackingComputesRate(t *testing.T) {
	m := New(time.Second, 100)
	m.StartDatabaseTracking("sess-1", "migrate_database", "insert", 1000)

	time.Sleep(10 * time.Millisecond)
	m.UpdateDatabaseProgress("sess-1", "migrate_database", 500, 1.5, 0)

	dm, ok := m.GetDatabaseMetrics("sess-1", "migrate_database")
	require.True(t, ok)
	require.Equal(t, int64(500), dm.RecordsProcessed)
	require.Greater(t, dm.CurrentRateRPS, 0.0)
}

func TestCleanupSessionRemovesAggregators(t *testing.T) {
	m := New(time.Second, 100)
	m.StartTransferTracking("sess-1", "transfer_files", 100, 1, 1)
	m.StartDatabaseTracking("sess-1", "migrate_database", "insert", 10)
	m.StartTransferTracking("sess-2", "transfer_files", 100, 1, 1)

	m.CleanupSession("sess-1")

	_, ok1 := m.GetTransferMetrics("sess-1", "transfer_files")
	_, ok2 := m.GetDatabaseMetrics("sess-1", "migrate_database")
	_, ok3 := m.GetTransferMetrics("sess-2", "transfer_files")
	require.False(t, ok1)
	require.False(t, ok2)
	require.True(t, ok3)
}

func TestThresholdAlertEmittedOnBreach(t *testing.T) {
	m := New(time.Second, 100)
	m.SetThresholds([]ThresholdRule{{Metric: MetricTransferRate, Warning: 1, Critical: 1000, Comparison: ">"}})

	var alerts []Event
	m.Subscribe(func(e Event) {
		if level, ok := e.Metadata["alert_level"]; ok {
			_ = level
			alerts = append(alerts, e)
		}
	})

	m.StartTransferTracking("sess-1", "transfer_files", 1024*1024*1024, 1, 0)
	time.Sleep(10 * time.Millisecond)
	m.UpdateTransferProgress("sess-1", "transfer_files", 1024*1024*1024, 1, 0, 0)

	require.NotEmpty(t, alerts)
	require.Equal(t, "critical", alerts[0].Unit)
}

func TestStartAndStopSamplerLoop(t *testing.T) {
	m := New(5*time.Millisecond, 10)

	var samples int
	m.Subscribe(func(e Event) {
		if e.Type == MetricMemory {
			samples++
		}
	})

	ctx := context.Background()
	m.Start(ctx, "sess-1")
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	require.Greater(t, samples, 0)
}
