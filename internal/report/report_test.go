package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artemis/migrationctl/internal/model"
	"github.com/stretchr/testify/require"
)

func sampleSession() *model.MigrationSession {
	start := time.Now().Add(-5 * time.Minute)
	return &model.MigrationSession{
		ID:     "sess-1",
		Config: model.MigrationConfig{Name: "prod-to-staging"},
		Status: model.SessionCompleted,
		Steps: []*model.MigrationStep{
			{ID: "initialize", Name: "Initialize", Status: model.StepCompleted},
			{ID: "transfer_files", Name: "Transfer Files", Status: model.StepFailed,
				Error: &model.ErrorInfo{Code: "E_TRANSFER", Message: "disk full", Severity: model.SeverityCritical}},
		},
		StartedAt: &start,
		Log: []model.LogEntry{
			{Timestamp: time.Now(), Level: "error", Message: "transfer failed", StepID: "transfer_files"},
			{Timestamp: time.Now(), Level: "warning", Message: "slow network"},
		},
		Backups: []model.BackupRecord{{ID: "b1", Type: model.BackupFiles, SizeBytes: 2048, Verified: true, CreatedAt: time.Now()}},
	}
}

func TestGenerateMigrationSummaryReportJSON(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	info, err := g.GenerateMigrationSummaryReport(sampleSession(), map[string]interface{}{"transfer_metrics": map[string]interface{}{}}, FormatJSON)
	require.NoError(t, err)
	require.Equal(t, KindSummary, info.Kind)
	require.FileExists(t, info.Location)
	require.Equal(t, filepath.Dir(info.Location), dir)
}

func TestGenerateValidationReportAllFormats(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	result := model.ValidationSummary{
		CanProceed: false, TotalChecks: 10, Passed: 7, Failed: 3, Warnings: 1,
		CriticalIssues: []model.Issue{{Code: "E1", Message: "missing permission", Field: "source.auth"}},
	}

	for _, format := range []Format{FormatJSON, FormatHTML, FormatMarkdown, FormatText} {
		info, err := g.GenerateValidationReport(sampleSession(), result, format, true)
		require.NoError(t, err)
		require.Equal(t, format, info.Format)
		content, err := os.ReadFile(info.Location)
		require.NoError(t, err)
		require.NotEmpty(t, content)
	}
}

func TestGenerateErrorReport(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	primary := model.ErrorInfo{Code: "E_TRANSFER", Message: "disk full", Severity: model.SeverityCritical, RetryPossible: true}
	info, err := g.GenerateErrorReport(sampleSession(), primary, FormatJSON, true)
	require.NoError(t, err)
	require.Equal(t, "E_TRANSFER", info.Summary["error_code"])
}

func TestCleanupOldReports(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	info, err := g.GeneratePerformanceReport("sess-1", map[string]interface{}{}, FormatJSON)
	require.NoError(t, err)

	require.NoError(t, g.CleanupOldReports(0))
	_, found := g.GetReport(info.ID)
	require.False(t, found)
	require.NoFileExists(t, info.Location)
}

func TestListReportsFiltering(t *testing.T) {
	dir := t.TempDir()
	g, err := New(dir)
	require.NoError(t, err)

	_, err = g.GeneratePerformanceReport("sess-1", map[string]interface{}{}, FormatJSON)
	require.NoError(t, err)
	_, err = g.GeneratePerformanceReport("sess-2", map[string]interface{}{}, FormatJSON)
	require.NoError(t, err)

	reports := g.ListReports("sess-1", "")
	require.Len(t, reports, 1)
	require.Equal(t, "sess-1", reports[0].SessionID)
}
