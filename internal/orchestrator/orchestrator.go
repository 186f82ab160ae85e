// Package orchestrator implements the Orchestrator of spec §4.G: drives a
// MigrationSession's steps in topological order, dispatching each step id
// to a fixed handler, tracking progress via internal/progress, recording
// backups, and rolling back on failure when requested.
//
// Grounded on original_source/migration_assistant/orchestrator/orchestrator.py's
// MigrationOrchestrator: the same execute → sort-steps → execute_step
// dispatch-by-id loop, the same "fail the step, log it, optionally roll
// back the whole session" error path, and the same collaborator seams
// (ValidationEngine, BackupManager, TransferMethodFactory,
// DatabaseMigrationFactory, RollbackManager) reappear here as Go
// interfaces instead of optional constructor arguments, so a caller
// without a real backup/rollback implementation can still run the
// orchestrator against stub collaborators in tests — the same "proceed
// with a warning if unconfigured" behavior the Python original has for an
// absent backup_manager/rollback_manager is preserved via nil-checked
// interface fields.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/artemis/migrationctl/internal/perfmon"
	"github.com/artemis/migrationctl/internal/progress"
	"github.com/artemis/migrationctl/internal/session"
	"github.com/artemis/migrationctl/internal/stepgraph"
	"go.uber.org/zap"
)

// ValidationEngine runs pre/post-migration checks against a MigrationConfig.
type ValidationEngine interface {
	Validate(ctx context.Context, cfg model.MigrationConfig, phase string) (model.ValidationSummary, error)
}

// BackupManager creates backup artifacts before a destructive step.
type BackupManager interface {
	CreateFullSystemBackup(ctx context.Context, cfg model.MigrationConfig) ([]model.BackupRecord, error)
}

// TransferMethod moves a source file tree to a destination.
type TransferMethod interface {
	Transfer(ctx context.Context, cfg model.MigrationConfig, onProgress func(current, total int64)) error
}

// TransferMethodFactory selects a TransferMethod for a TransferConfig.
type TransferMethodFactory interface {
	MethodFor(cfg model.TransferConfig) (TransferMethod, error)
}

// DatabaseMigrator moves a source database to a destination.
type DatabaseMigrator interface {
	Migrate(ctx context.Context, cfg model.MigrationConfig, onProgress func(current, total int64)) error
}

// DatabaseMigrationFactory selects a DatabaseMigrator for a DatabaseConfig.
type DatabaseMigrationFactory interface {
	MigratorFor(cfg model.DatabaseConfig) (DatabaseMigrator, error)
}

// RollbackManager reverses a single recorded backup artifact. The
// orchestrator drives the per-record iteration itself (spec §4.G: "iterate
// BackupRecords in reverse creation order, calling RollbackManager.restore
// per record"), matching the §6 collaborator contract `restore(BackupRecord,
// MigrationConfig)`.
type RollbackManager interface {
	Restore(ctx context.Context, record model.BackupRecord, cfg model.MigrationConfig) error
}

// Collaborators bundles every optional dependency the orchestrator drives
// steps through. A nil Validation or Backup field degrades its step to a
// logged no-op, mirroring the Python original's "not configured, skipping"
// behavior, and a nil Rollback disables automatic rollback. A nil Transfer
// fails transfer_files, and a nil Database fails migrate_database when the
// source has a database.
type Collaborators struct {
	Validation ValidationEngine
	Backup     BackupManager
	Transfer   TransferMethodFactory
	Database   DatabaseMigrationFactory
	Rollback   RollbackManager
}

// Orchestrator is the component G implementation.
type Orchestrator struct {
	store         *session.Store
	collaborators Collaborators
	tracker       *progress.Tracker
	perf          *perfmon.Monitor
	logger        *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New returns an Orchestrator driving sessions out of store. perf may be
// nil (performance aggregation is then skipped around transfer_files and
// migrate_database, matching the nil-is-a-no-op degrade policy of the
// Validation and Backup collaborators).
func New(store *session.Store, collaborators Collaborators, tracker *progress.Tracker, perf *perfmon.Monitor, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:         store,
		collaborators: collaborators,
		tracker:       tracker,
		perf:          perf,
		logger:        logger,
		cancels:       make(map[string]context.CancelFunc),
	}
}

// Execute drives session sessionID's steps to completion (or failure),
// optionally rolling back automatically on failure. It is the sole writer
// of the session's mutable fields while it runs (spec §5's single-writer
// rule) — callers observe progress via the Store's Clone-based Get/List or
// by subscribing to the progress/perfmon trackers.
func (o *Orchestrator) Execute(ctx context.Context, sessionID string, autoRollback bool) error {
	sess, err := o.store.Mutable(sessionID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, sessionID)
		o.mu.Unlock()
		cancel()
	}()

	now := time.Now().UTC()
	o.mutate(func() {
		sess.Status = model.SessionRunning
		sess.StartedAt = &now
		o.addLog(sess, "info", "", "starting migration execution")
	})

	order, err := stepgraph.TopologicalSort(sess.Steps)
	if err != nil {
		return o.fail(sess, err, autoRollback, ctx)
	}

	for _, step := range order {
		select {
		case <-ctx.Done():
			return o.cancel(ctx, sess, step)
		default:
		}

		if err := o.executeStep(ctx, sess, step); err != nil {
			return o.fail(sess, err, autoRollback, ctx)
		}
	}

	end := time.Now().UTC()
	o.mutate(func() {
		sess.Status = model.SessionCompleted
		sess.EndedAt = &end
		o.addLog(sess, "info", "", "migration completed successfully")
	})
	return nil
}

// mutate brackets a direct field mutation on a live session/step (as
// returned by the store's Mutable) with the store's write lock, so
// Get/List's Clone-based reads observe a consistent snapshot instead of
// racing the orchestrator's writes.
func (o *Orchestrator) mutate(fn func()) {
	o.store.Lock()
	fn()
	o.store.Unlock()
}

// cancel finalizes sess as cancelled and, per spec §4.G's cancellation
// contract ("if rollback_on_failure is set, rollback is attempted after
// cancellation"), attempts a rollback when the config asked for one and
// there is something to restore.
func (o *Orchestrator) cancel(ctx context.Context, sess *model.MigrationSession, current *model.MigrationStep) error {
	end := time.Now().UTC()
	o.mutate(func() {
		sess.Status = model.SessionCancelled
		sess.EndedAt = &end
		if current != nil {
			current.Status = model.StepCancelled
		}
		o.addLog(sess, "warning", "", "migration cancelled")
	})
	if current != nil {
		o.tracker.Cancel(sess.ID, current.ID, "cancelled")
	}

	if sess.Config.Options.RollbackOnFailure && o.collaborators.Rollback != nil && len(sess.Backups) > 0 {
		if rbErr := o.performRollback(ctx, sess); rbErr != nil {
			o.mutate(func() { o.addLog(sess, "error", "", "rollback failed: "+rbErr.Error()) })
		} else {
			o.mutate(func() {
				sess.Status = model.SessionRolledBack
				o.addLog(sess, "info", "", "rollback completed")
			})
		}
	}

	return &migerr.CancelledError{Message: "migration " + sess.ID + " cancelled"}
}

func (o *Orchestrator) fail(sess *model.MigrationSession, cause error, autoRollback bool, ctx context.Context) error {
	end := time.Now().UTC()
	o.mutate(func() {
		sess.Status = model.SessionFailed
		sess.EndedAt = &end
		sess.Error = &model.ErrorInfo{
			Code: "MIGRATION_FAILED", Message: cause.Error(),
			Severity: model.SeverityCritical, Component: "orchestrator",
			RollbackRequired: autoRollback,
		}
		o.addLog(sess, "error", "", "migration failed: "+cause.Error())
	})

	if autoRollback && sess.Config.Options.RollbackOnFailure && o.collaborators.Rollback != nil && len(sess.Backups) > 0 {
		if rbErr := o.performRollback(ctx, sess); rbErr != nil {
			o.mutate(func() { o.addLog(sess, "error", "", "rollback failed: "+rbErr.Error()) })
		} else {
			o.mutate(func() {
				sess.Status = model.SessionRolledBack
				o.addLog(sess, "info", "", "rollback completed")
			})
		}
	}

	return cause
}

// performRollback restores sess's recorded backups in reverse creation
// order, invoking RollbackManager.Restore exactly once per BackupRecord
// (spec §4.G).
func (o *Orchestrator) performRollback(ctx context.Context, sess *model.MigrationSession) error {
	if o.collaborators.Rollback == nil {
		return &migerr.ConfigurationError{Message: "no rollback manager configured"}
	}
	for i := len(sess.Backups) - 1; i >= 0; i-- {
		record := sess.Backups[i]
		if err := o.collaborators.Rollback.Restore(ctx, record, sess.Config); err != nil {
			return &migerr.RollbackError{Message: "restore failed for backup " + record.ID, Cause: err}
		}
	}
	return nil
}

// executeStep dispatches one step by id, matching the fixed template's
// handler table (spec §4.F/§4.G).
func (o *Orchestrator) executeStep(ctx context.Context, sess *model.MigrationSession, step *model.MigrationStep) error {
	started := time.Now().UTC()
	o.mutate(func() {
		step.Status = model.StepRunning
		step.StartedAt = &started
		sess.CurrentStepID = step.ID
		o.addLog(sess, "info", step.ID, "starting step: "+step.Name)
	})
	o.tracker.Start(sess.ID, step.ID, 1, model.UnitOperations, step.Name)

	var err error
	switch step.ID {
	case stepgraph.StepInitialize:
		err = o.runInitialize(sess, step)
	case stepgraph.StepValidatePre:
		err = o.runValidation(ctx, sess, step, "pre")
	case stepgraph.StepCreateBackups:
		err = o.runBackup(ctx, sess, step)
	case stepgraph.StepEnableMaintenance:
		err = o.runMaintenance(sess, step, true)
	case stepgraph.StepTransferFiles:
		err = o.runTransfer(ctx, sess, step)
	case stepgraph.StepMigrateDatabase:
		err = o.runDatabaseMigration(ctx, sess, step)
	case stepgraph.StepValidatePost:
		err = o.runValidation(ctx, sess, step, "post")
	case stepgraph.StepDisableMaintenance:
		err = o.runMaintenance(sess, step, false)
	case stepgraph.StepCleanup:
		err = o.runCleanup(sess, step)
	default:
		err = &migerr.ConfigurationError{Message: "unknown step: " + step.ID}
	}

	ended := time.Now().UTC()
	o.mutate(func() { step.EndedAt = &ended })

	if err != nil {
		o.mutate(func() {
			step.Status = model.StepFailed
			step.Error = &model.ErrorInfo{
				Code: fmt.Sprintf("STEP_FAILED_%s", strings.ToUpper(step.ID)), Message: err.Error(),
				Severity: model.SeverityCritical, Component: "orchestrator", StepID: step.ID,
			}
			o.addLog(sess, "error", step.ID, "step failed: "+step.Name+": "+err.Error())
		})
		o.tracker.Fail(sess.ID, step.ID, err.Error(), nil)
		return err
	}

	o.mutate(func() {
		step.Status = model.StepCompleted
		step.Progress = model.ProgressInfo{Current: 1, Total: 1, Unit: model.UnitOperations}
		o.addLog(sess, "info", step.ID, "completed step: "+step.Name)
	})
	o.tracker.Complete(sess.ID, step.ID, "completed")
	return nil
}

func (o *Orchestrator) runInitialize(sess *model.MigrationSession, step *model.MigrationStep) error {
	cfg := sess.Config
	if cfg.Source.Host == "" {
		return &migerr.ValidationError{Message: "source host is required"}
	}
	if cfg.Destination.Host == "" {
		return &migerr.ValidationError{Message: "destination host is required"}
	}
	if cfg.Options.BackupBefore && o.collaborators.Backup == nil {
		o.mutate(func() { o.addLog(sess, "warning", step.ID, "backup requested but no backup manager configured") })
	}
	if cfg.Options.RollbackOnFailure && o.collaborators.Rollback == nil {
		o.mutate(func() { o.addLog(sess, "warning", step.ID, "rollback requested but no rollback manager configured") })
	}
	return nil
}

func (o *Orchestrator) runValidation(ctx context.Context, sess *model.MigrationSession, step *model.MigrationStep, phase string) error {
	if o.collaborators.Validation == nil {
		o.mutate(func() { o.addLog(sess, "warning", step.ID, "no validation engine configured, skipping") })
		return nil
	}

	summary, err := o.collaborators.Validation.Validate(ctx, sess.Config, phase)
	if err != nil {
		return &migerr.ValidationError{Message: phase + "-migration validation failed: " + err.Error()}
	}
	if phase == "pre" {
		o.mutate(func() { sess.ValidationResult = &summary })
	}
	if !summary.CanProceed {
		return &migerr.ValidationError{
			Message: fmt.Sprintf("%s-migration validation failed with %d critical issue(s)", phase, len(summary.CriticalIssues)),
		}
	}
	return nil
}

func (o *Orchestrator) runBackup(ctx context.Context, sess *model.MigrationSession, step *model.MigrationStep) error {
	if o.collaborators.Backup == nil {
		o.mutate(func() { o.addLog(sess, "warning", step.ID, "backup manager not configured, skipping backup") })
		return nil
	}
	backups, err := o.collaborators.Backup.CreateFullSystemBackup(ctx, sess.Config)
	if err != nil {
		return &migerr.BackupError{Message: "backup creation failed", Cause: err}
	}
	o.mutate(func() {
		sess.Backups = append(sess.Backups, backups...)
		o.addLog(sess, "info", step.ID, fmt.Sprintf("created %d backup(s)", len(backups)))
	})
	return nil
}

func (o *Orchestrator) runMaintenance(sess *model.MigrationSession, step *model.MigrationStep, enable bool) error {
	verb := "enabled"
	if !enable {
		verb = "disabled"
	}
	o.mutate(func() { o.addLog(sess, "info", step.ID, "maintenance mode "+verb) })
	return nil
}

func (o *Orchestrator) runTransfer(ctx context.Context, sess *model.MigrationSession, step *model.MigrationStep) error {
	if o.collaborators.Transfer == nil {
		return &migerr.TransferError{Message: "no transfer method factory configured"}
	}
	method, err := o.collaborators.Transfer.MethodFor(sess.Config.Transfer)
	if err != nil {
		return &migerr.TransferError{Message: "cannot select transfer method", Cause: err}
	}

	if o.perf != nil {
		o.perf.StartTransferTracking(sess.ID, step.ID, 0, 0, 0)
	}

	onProgress := func(current, total int64) {
		_ = o.tracker.Update(sess.ID, step.ID, current, &total, "transferring files", nil)
		if o.perf != nil {
			o.perf.UpdateTransferProgress(sess.ID, step.ID, current, 0, 0, 0)
		}
	}
	if err := method.Transfer(ctx, sess.Config, onProgress); err != nil {
		return &migerr.TransferError{Message: "transfer failed", Cause: err}
	}
	return nil
}

func (o *Orchestrator) runDatabaseMigration(ctx context.Context, sess *model.MigrationSession, step *model.MigrationStep) error {
	if sess.Config.Source.Database == nil {
		return nil
	}
	if o.collaborators.Database == nil {
		return &migerr.DatabaseError{Message: "no database migration factory configured"}
	}
	migrator, err := o.collaborators.Database.MigratorFor(*sess.Config.Source.Database)
	if err != nil {
		return &migerr.DatabaseError{Message: "cannot select database migrator", Cause: err}
	}

	if o.perf != nil {
		o.perf.StartDatabaseTracking(sess.ID, step.ID, "migrate", 0)
	}

	onProgress := func(current, total int64) {
		_ = o.tracker.Update(sess.ID, step.ID, current, &total, "migrating database", nil)
		if o.perf != nil {
			o.perf.UpdateDatabaseProgress(sess.ID, step.ID, current, 0, 0)
		}
	}
	if err := migrator.Migrate(ctx, sess.Config, onProgress); err != nil {
		return &migerr.DatabaseError{Message: "database migration failed", Cause: err}
	}
	return nil
}

func (o *Orchestrator) runCleanup(sess *model.MigrationSession, step *model.MigrationStep) error {
	o.tracker.CleanupSession(sess.ID)
	if o.perf != nil {
		o.perf.CleanupSession(sess.ID)
	}
	o.mutate(func() { o.addLog(sess, "info", step.ID, "cleanup completed") })
	return nil
}

func (o *Orchestrator) addLog(sess *model.MigrationSession, level, stepID, message string) {
	sess.Log = append(sess.Log, model.LogEntry{
		Timestamp: time.Now().UTC(), Level: level, StepID: stepID, Message: message,
	})
	if o.logger != nil {
		switch level {
		case "error", "critical":
			o.logger.Error(message, zap.String("session_id", sess.ID), zap.String("step_id", stepID))
		case "warning":
			o.logger.Warn(message, zap.String("session_id", sess.ID), zap.String("step_id", stepID))
		default:
			o.logger.Info(message, zap.String("session_id", sess.ID), zap.String("step_id", stepID))
		}
	}
}

// Cancel requests cooperative cancellation of a running session by id
// (spec §4.G's cancel contract, spec §5's cooperative cancellation
// semantics): it cancels the context passed to that session's Execute
// goroutine, which Execute observes before dispatching its next step.
func (o *Orchestrator) Cancel(sessionID string) error {
	sess, err := o.store.Mutable(sessionID)
	if err != nil {
		return err
	}
	o.store.RLock()
	running := sess.Status == model.SessionRunning || sess.Status == model.SessionValidating
	o.store.RUnlock()
	if !running {
		return &migerr.InvalidStateError{Message: "session " + sessionID + " is not running"}
	}

	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if !ok {
		return &migerr.InvalidStateError{Message: "session " + sessionID + " has no active execution to cancel"}
	}
	cancel()
	return nil
}

// Rollback drives RollbackManager.Restore against sess's recorded backups
// directly, for an operator-triggered rollback of an already-failed or
// cancelled session (ControlAPI's explicit /migrations/{id}/rollback,
// distinct from Execute's automatic auto_rollback path). Invoking it again
// once a session is already rolled back is a no-op.
func (o *Orchestrator) Rollback(ctx context.Context, sessionID string) error {
	sess, err := o.store.Mutable(sessionID)
	if err != nil {
		return err
	}
	o.store.RLock()
	alreadyRolledBack := sess.Status == model.SessionRolledBack
	o.store.RUnlock()
	if alreadyRolledBack {
		return nil
	}
	if err := o.performRollback(ctx, sess); err != nil {
		o.mutate(func() { o.addLog(sess, "error", "", "rollback failed: "+err.Error()) })
		return err
	}
	o.mutate(func() {
		sess.Status = model.SessionRolledBack
		o.addLog(sess, "info", "", "rollback completed")
	})
	return nil
}

// ValidateConfig runs pre-migration validation against cfg synchronously,
// without creating or mutating any session — ControlAPI's standalone
// POST /validate endpoint (spec §4.I).
func (o *Orchestrator) ValidateConfig(ctx context.Context, cfg model.MigrationConfig) (model.ValidationSummary, error) {
	if o.collaborators.Validation == nil {
		return model.ValidationSummary{}, &migerr.ConfigurationError{Message: "no validation engine configured"}
	}
	return o.collaborators.Validation.Validate(ctx, cfg, "pre")
}
