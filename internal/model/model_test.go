package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProgressInfoPercentage(t *testing.T) {
	p := ProgressInfo{Current: 25, Total: 100}
	require.Equal(t, 25.0, p.Percentage())
}

func TestProgressInfoPercentageZeroTotal(t *testing.T) {
	p := ProgressInfo{Current: 5, Total: 0}
	require.Equal(t, 0.0, p.Percentage())
}

func TestMigrationSessionCloneIsIndependentOfOriginal(t *testing.T) {
	sess := &MigrationSession{
		ID:     "sess-1",
		Status: SessionRunning,
		Steps: []*MigrationStep{
			{ID: "step-1", Status: StepPending},
		},
		Log:     []LogEntry{{Message: "started"}},
		Backups: []BackupRecord{{ID: "bak-1"}},
	}

	clone := sess.Clone()
	clone.Status = SessionCompleted
	clone.Steps[0].Status = StepCompleted
	clone.Log[0].Message = "mutated"

	require.Equal(t, SessionRunning, sess.Status)
	require.Equal(t, StepPending, sess.Steps[0].Status)
	require.Equal(t, "started", sess.Log[0].Message)
}

func TestMigrationSessionCloneOfNilIsNil(t *testing.T) {
	var sess *MigrationSession
	require.Nil(t, sess.Clone())
}

func TestStepByIDFindsMatch(t *testing.T) {
	sess := &MigrationSession{
		Steps: []*MigrationStep{
			{ID: "step-1"},
			{ID: "step-2"},
		},
	}

	found := sess.StepByID("step-2")
	require.NotNil(t, found)
	require.Equal(t, "step-2", found.ID)
}

func TestStepByIDReturnsNilWhenAbsent(t *testing.T) {
	sess := &MigrationSession{Steps: []*MigrationStep{{ID: "step-1"}}}
	require.Nil(t, sess.StepByID("missing"))
}

func TestBackupRecordCarriesTimestamp(t *testing.T) {
	now := time.Now()
	b := BackupRecord{ID: "bak-1", Type: BackupDatabase, CreatedAt: now, Verified: true}
	require.Equal(t, BackupDatabase, b.Type)
	require.True(t, b.Verified)
}
