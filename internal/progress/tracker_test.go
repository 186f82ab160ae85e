package progress

import (
	"testing"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/stretchr/testify/require"
)

func TestStartAndUpdateEmitEvents(t *testing.T) {
	tr := New()
	var events []Event
	tr.Subscribe(func(e Event) { events = append(events, e) })

	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "starting")
	time.Sleep(time.Millisecond)
	err := tr.Update("sess-1", "step-1", 50, nil, "halfway", nil)
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.Equal(t, EventStarted, events[0].Type)
	require.Equal(t, EventProgress, events[1].Type)
	require.Equal(t, int64(50), events[1].Current)
	require.NotNil(t, events[1].Rate)
}

func TestUpdateRejectsCurrentGreaterThanTotal(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")

	err := tr.Update("sess-1", "step-1", 150, nil, "", nil)
	var invalidState *migerr.InvalidStateError
	require.ErrorAs(t, err, &invalidState)
}

func TestGetMetricsAverageRateUsesTenSampleWindow(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 1000, model.UnitBytes, "")

	st := tr.sessions[key("sess-1", "step-1")]
	for i := 0; i < 5; i++ {
		st.rateHistory = append(st.rateHistory, 1.0)
	}
	for i := 0; i < 10; i++ {
		st.rateHistory = append(st.rateHistory, 100.0)
	}

	m, ok := tr.GetMetrics("sess-1", "step-1")
	require.True(t, ok)
	require.Equal(t, 100.0, m.AverageRate)
}

func TestPauseIgnoresSubsequentUpdates(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")
	tr.Pause("sess-1", "step-1")

	err := tr.Update("sess-1", "step-1", 10, nil, "", nil)
	require.NoError(t, err)

	metrics, ok := tr.GetMetrics("sess-1", "step-1")
	require.True(t, ok)
	require.Equal(t, int64(0), metrics.Current)
}

func TestResumeAllowsUpdatesAgain(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")
	tr.Pause("sess-1", "step-1")
	tr.Resume("sess-1", "step-1")

	err := tr.Update("sess-1", "step-1", 25, nil, "", nil)
	require.NoError(t, err)

	metrics, ok := tr.GetMetrics("sess-1", "step-1")
	require.True(t, ok)
	require.Equal(t, int64(25), metrics.Current)
}

func TestCompleteSetsCurrentToTotal(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")
	tr.Complete("sess-1", "step-1", "done")

	metrics, ok := tr.GetMetrics("sess-1", "step-1")
	require.True(t, ok)
	require.Equal(t, int64(100), metrics.Current)
	require.Equal(t, float64(100), metrics.CompletionPercent)
}

func TestCancelRemovesTrackingState(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")
	tr.Cancel("sess-1", "step-1", "cancelled by user")

	_, ok := tr.GetMetrics("sess-1", "step-1")
	require.False(t, ok)
}

func TestCleanupSessionRemovesAllStepsUnderSession(t *testing.T) {
	tr := New()
	tr.Start("sess-1", "step-1", 100, model.UnitBytes, "")
	tr.Start("sess-1", "step-2", 50, model.UnitBytes, "")
	tr.Start("sess-2", "step-1", 10, model.UnitBytes, "")

	tr.CleanupSession("sess-1")

	_, ok1 := tr.GetMetrics("sess-1", "step-1")
	_, ok2 := tr.GetMetrics("sess-1", "step-2")
	_, ok3 := tr.GetMetrics("sess-2", "step-1")
	require.False(t, ok1)
	require.False(t, ok2)
	require.True(t, ok3)
}

func TestSubscriberPanicDoesNotAbortTracker(t *testing.T) {
	tr := New()
	tr.Subscribe(func(Event) { panic("boom") })

	var secondCalled bool
	tr.Subscribe(func(Event) { secondCalled = true })

	require.NotPanics(t, func() {
		tr.Start("sess-1", "step-1", 10, model.UnitBytes, "")
	})
	require.True(t, secondCalled)
}
