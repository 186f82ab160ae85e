package stepgraph

import (
	"testing"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/stretchr/testify/require"
)

func TestBuildMinimalConfigOnlyIncludesUnconditionalSteps(t *testing.T) {
	steps, err := Build(model.MigrationConfig{})
	require.NoError(t, err)

	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}
	require.True(t, ids[StepInitialize])
	require.True(t, ids[StepValidatePre])
	require.True(t, ids[StepValidatePost])
	require.True(t, ids[StepCleanup])
	require.False(t, ids[StepCreateBackups])
	require.False(t, ids[StepEnableMaintenance])
	require.False(t, ids[StepTransferFiles])
	require.False(t, ids[StepMigrateDatabase])
}

func TestBuildIncludesConditionalStepsWhenRequested(t *testing.T) {
	cfg := model.MigrationConfig{
		Source: model.SystemConfig{
			Paths:    model.PathConfig{RootPath: "/var/www"},
			Database: &model.DatabaseConfig{},
		},
		Options: model.MigrationOptions{
			BackupBefore:    true,
			MaintenanceMode: true,
		},
	}

	steps, err := Build(cfg)
	require.NoError(t, err)

	ids := make(map[string]bool, len(steps))
	for _, s := range steps {
		ids[s.ID] = true
	}
	require.True(t, ids[StepCreateBackups])
	require.True(t, ids[StepEnableMaintenance])
	require.True(t, ids[StepTransferFiles])
	require.True(t, ids[StepMigrateDatabase])
	require.True(t, ids[StepDisableMaintenance])
}

func TestBuildSkipsDependencyOnFilteredOutStep(t *testing.T) {
	// No backups, no maintenance mode: transfer_files should depend back on
	// validate_pre_migration rather than a step that was never included.
	cfg := model.MigrationConfig{
		Source: model.SystemConfig{Paths: model.PathConfig{RootPath: "/var/www"}},
	}
	steps, err := Build(cfg)
	require.NoError(t, err)

	var transfer *model.MigrationStep
	for _, s := range steps {
		if s.ID == StepTransferFiles {
			transfer = s
		}
	}
	require.NotNil(t, transfer)
	require.Equal(t, []string{StepValidatePre}, transfer.Dependencies)
}

func TestTopologicalSortOrdersByDependency(t *testing.T) {
	steps := []*model.MigrationStep{
		{ID: "b", Dependencies: []string{"a"}},
		{ID: "a"},
		{ID: "c", Dependencies: []string{"b"}},
	}
	order, err := TopologicalSort(steps)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, []string{order[0].ID, order[1].ID, order[2].ID})
}

func TestTopologicalSortDetectsCycle(t *testing.T) {
	steps := []*model.MigrationStep{
		{ID: "a", Dependencies: []string{"b"}},
		{ID: "b", Dependencies: []string{"a"}},
	}
	_, err := TopologicalSort(steps)
	var cfgErr *migerr.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestNewSessionIDIsUnique(t *testing.T) {
	a := NewSessionID()
	b := NewSessionID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
