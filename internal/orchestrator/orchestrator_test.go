package orchestrator

import (
	"context"
	"testing"

	"github.com/artemis/migrationctl/internal/model"
	"github.com/artemis/migrationctl/internal/perfmon"
	"github.com/artemis/migrationctl/internal/progress"
	"github.com/artemis/migrationctl/internal/session"
	"github.com/stretchr/testify/require"
)

type stubValidation struct{ canProceed bool }

func (s stubValidation) Validate(ctx context.Context, cfg model.MigrationConfig, phase string) (model.ValidationSummary, error) {
	return model.ValidationSummary{CanProceed: s.canProceed, TotalChecks: 1, Passed: 1}, nil
}

type stubTransferFactory struct{}
type stubTransferMethod struct{}

func (stubTransferFactory) MethodFor(cfg model.TransferConfig) (TransferMethod, error) {
	return stubTransferMethod{}, nil
}
func (stubTransferMethod) Transfer(ctx context.Context, cfg model.MigrationConfig, onProgress func(current, total int64)) error {
	onProgress(1, 1)
	return nil
}

type stubDatabaseFactory struct{ migrateErr error }
type stubDatabaseMigrator struct{ err error }

func (f stubDatabaseFactory) MigratorFor(cfg model.DatabaseConfig) (DatabaseMigrator, error) {
	return stubDatabaseMigrator{err: f.migrateErr}, nil
}
func (m stubDatabaseMigrator) Migrate(ctx context.Context, cfg model.MigrationConfig, onProgress func(current, total int64)) error {
	onProgress(1, 1)
	return m.err
}

// restoreRecorder implements RollbackManager, recording the order and the
// records it was invoked with (spec §4.G: per-record restore, reverse
// creation order).
type restoreRecorder struct {
	restored []string
	err      error
}

func (r *restoreRecorder) Restore(ctx context.Context, record model.BackupRecord, cfg model.MigrationConfig) error {
	r.restored = append(r.restored, record.ID)
	return r.err
}

func baseConfig() model.MigrationConfig {
	return model.MigrationConfig{
		Name:        "test-migration",
		Source:      model.SystemConfig{Host: "src.example.com", Paths: model.PathConfig{RootPath: "/var/www"}},
		Destination: model.SystemConfig{Host: "dst.example.com"},
	}
}

func TestExecuteHappyPath(t *testing.T) {
	store := session.New()
	sess, err := store.Create(baseConfig())
	require.NoError(t, err)

	orch := New(store, Collaborators{Validation: stubValidation{canProceed: true}, Transfer: stubTransferFactory{}}, progress.New(), nil, nil)
	err = orch.Execute(context.Background(), sess.ID, false)
	require.NoError(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionCompleted, got.Status)
	for _, step := range got.Steps {
		require.Equal(t, model.StepCompleted, step.Status)
	}
}

func TestExecuteValidationFailureRollsBackPerRecordInReverseOrder(t *testing.T) {
	store := session.New()
	cfg := baseConfig()
	cfg.Options.RollbackOnFailure = true
	sess, err := store.Create(cfg)
	require.NoError(t, err)

	rb := &restoreRecorder{}
	mut, err := store.Mutable(sess.ID)
	require.NoError(t, err)
	mut.Backups = []model.BackupRecord{{ID: "b1"}, {ID: "b2"}, {ID: "b3"}}

	orch := New(store, Collaborators{Validation: stubValidation{canProceed: false}, Rollback: rb}, progress.New(), nil, nil)
	err = orch.Execute(context.Background(), sess.ID, true)
	require.Error(t, err)
	require.Equal(t, []string{"b3", "b2", "b1"}, rb.restored)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	require.Equal(t, model.SessionRolledBack, got.Status)
}

func TestStepFailureErrorCodeUsesUppercaseStepID(t *testing.T) {
	store := session.New()
	sess, err := store.Create(baseConfig())
	require.NoError(t, err)

	orch := New(store, Collaborators{Validation: stubValidation{canProceed: true}, Transfer: stubNoFactory{}}, progress.New(), nil, nil)
	err = orch.Execute(context.Background(), sess.ID, false)
	require.Error(t, err)

	got, err := store.Get(sess.ID)
	require.NoError(t, err)
	for _, step := range got.Steps {
		if step.ID == "transfer_files" {
			require.NotNil(t, step.Error)
			require.Equal(t, "STEP_FAILED_TRANSFER_FILES", step.Error.Code)
		}
	}
}

type stubNoFactory struct{}

func (stubNoFactory) MethodFor(cfg model.TransferConfig) (TransferMethod, error) {
	return nil, &notFound{}
}

type notFound struct{}

func (n *notFound) Error() string { return "no transfer method available" }

func TestCancelAttemptsRollbackWhenRequested(t *testing.T) {
	store := session.New()
	cfg := baseConfig()
	cfg.Options.RollbackOnFailure = true
	sess, err := store.Create(cfg)
	require.NoError(t, err)

	rb := &restoreRecorder{}
	mut, err := store.Mutable(sess.ID)
	require.NoError(t, err)
	mut.Backups = []model.BackupRecord{{ID: "only"}}

	orch := New(store, Collaborators{Rollback: rb}, progress.New(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = orch.cancel(ctx, mut, nil)
	require.Error(t, err)
	require.Equal(t, []string{"only"}, rb.restored)
	require.Equal(t, model.SessionRolledBack, mut.Status)
}

func TestCancelRejectsNonRunningSession(t *testing.T) {
	store := session.New()
	sess, err := store.Create(baseConfig())
	require.NoError(t, err)

	orch := New(store, Collaborators{}, progress.New(), nil, nil)
	err = orch.Cancel(sess.ID)
	require.Error(t, err)
}

func TestRollbackIsIdempotentAfterSuccess(t *testing.T) {
	store := session.New()
	sess, err := store.Create(baseConfig())
	require.NoError(t, err)

	rb := &restoreRecorder{}
	mut, err := store.Mutable(sess.ID)
	require.NoError(t, err)
	mut.Backups = []model.BackupRecord{{ID: "b1"}}
	mut.Status = model.SessionFailed

	orch := New(store, Collaborators{Rollback: rb}, progress.New(), nil, nil)
	require.NoError(t, orch.Rollback(context.Background(), sess.ID))
	require.Equal(t, []string{"b1"}, rb.restored)

	// A second call must be a no-op: restore is not invoked again.
	require.NoError(t, orch.Rollback(context.Background(), sess.ID))
	require.Equal(t, []string{"b1"}, rb.restored)
}

func TestRunDatabaseMigrationWiresPerformanceTracking(t *testing.T) {
	store := session.New()
	cfg := baseConfig()
	cfg.Source.Database = &model.DatabaseConfig{Engine: "postgres"}
	sess, err := store.Create(cfg)
	require.NoError(t, err)
	mut, err := store.Mutable(sess.ID)
	require.NoError(t, err)

	perf := perfmon.New(0, 10)
	orch := New(store, Collaborators{Database: stubDatabaseFactory{}}, progress.New(), perf, nil)

	step := &model.MigrationStep{ID: "migrate_database"}
	require.NoError(t, orch.runDatabaseMigration(context.Background(), mut, step))

	metrics, ok := perf.GetDatabaseMetrics(sess.ID, step.ID)
	require.True(t, ok)
	require.Equal(t, int64(1), metrics.RecordsProcessed)
}
