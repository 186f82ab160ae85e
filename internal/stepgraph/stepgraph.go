// Package stepgraph synthesizes a MigrationSession's step list from a
// MigrationConfig (spec §4.F) and performs the topological sort the
// orchestrator drives in order.
//
// The fixed step template mirrors the original Python orchestrator's
// `_initialize_step_definitions` table: a linear chain of named steps,
// each carrying the dependency that produces the template's default
// order. Inclusion rules are evaluated against the MigrationConfig the
// caller supplies; the resulting step list is topologically sorted
// defensively so user-added dependencies (via a preset override, for
// instance) can't reorder the chain into a cycle undetected.
package stepgraph

import (
	"fmt"

	"github.com/artemis/migrationctl/internal/migerr"
	"github.com/artemis/migrationctl/internal/model"
	"github.com/google/uuid"
)

// Step ids, fixed by the template.
const (
	StepInitialize           = "initialize"
	StepValidatePre          = "validate_pre_migration"
	StepCreateBackups        = "create_backups"
	StepEnableMaintenance    = "enable_maintenance"
	StepTransferFiles        = "transfer_files"
	StepMigrateDatabase      = "migrate_database"
	StepValidatePost         = "validate_post_migration"
	StepDisableMaintenance   = "disable_maintenance"
	StepCleanup              = "cleanup"
)

type templateEntry struct {
	id           string
	name         string
	description  string
	dependsOn    string // "" for no dependency
	include      func(cfg model.MigrationConfig) bool
}

var template = []templateEntry{
	{StepInitialize, "Initialize", "Prepare session state and workspace", "", func(model.MigrationConfig) bool { return true }},
	{StepValidatePre, "Validate (pre-migration)", "Run pre-flight validation checks", StepInitialize, func(model.MigrationConfig) bool { return true }},
	{StepCreateBackups, "Create backups", "Snapshot source state before mutation", StepValidatePre, func(cfg model.MigrationConfig) bool {
		return cfg.Options.BackupBefore || cfg.Options.BackupDestination != ""
	}},
	{StepEnableMaintenance, "Enable maintenance mode", "Put the source system into maintenance mode", StepCreateBackups, func(cfg model.MigrationConfig) bool {
		return cfg.Options.MaintenanceMode
	}},
	{StepTransferFiles, "Transfer files", "Copy the application's file tree to the destination", StepEnableMaintenance, func(cfg model.MigrationConfig) bool {
		return cfg.Source.Paths.RootPath != ""
	}},
	{StepMigrateDatabase, "Migrate database", "Move the source database to the destination", StepTransferFiles, func(cfg model.MigrationConfig) bool {
		return cfg.Source.Database != nil
	}},
	{StepValidatePost, "Validate (post-migration)", "Run post-migration integrity checks", StepMigrateDatabase, func(model.MigrationConfig) bool { return true }},
	{StepDisableMaintenance, "Disable maintenance mode", "Take the destination system out of maintenance mode", StepValidatePost, func(cfg model.MigrationConfig) bool {
		return cfg.Options.MaintenanceMode
	}},
	{StepCleanup, "Cleanup", "Release temporary resources", StepDisableMaintenance, func(model.MigrationConfig) bool { return true }},
}

// Build synthesizes, filters, and topologically sorts a session's step
// list from a MigrationConfig, per spec §4.F's inclusion table.
func Build(cfg model.MigrationConfig) ([]*model.MigrationStep, error) {
	included := make(map[string]bool, len(template))
	var steps []*model.MigrationStep

	for _, t := range template {
		if !t.include(cfg) {
			continue
		}
		included[t.id] = true
		var deps []string
		// Walk back through the template chain to the nearest included
		// predecessor so filtered-out steps don't leave dangling deps.
		dep := t.dependsOn
		for dep != "" && !included[dep] {
			dep = depOf(dep)
		}
		if dep != "" {
			deps = []string{dep}
		}
		steps = append(steps, &model.MigrationStep{
			ID:           t.id,
			Name:         t.name,
			Description:  t.description,
			Dependencies: deps,
			Status:       model.StepPending,
			Progress:     model.ProgressInfo{Unit: model.UnitOperations},
		})
	}

	order, err := TopologicalSort(steps)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func depOf(id string) string {
	for _, t := range template {
		if t.id == id {
			return t.dependsOn
		}
	}
	return ""
}

// TopologicalSort performs a Kahn-style sort over a step list's declared
// Dependencies, returning a *ConfigurationError when a cycle is found.
// It is defensive: the template itself is already acyclic, but a caller
// may hand Build a config whose steps were mutated (e.g. a preset adding
// a dependency), so every call path goes through the same sort.
func TopologicalSort(steps []*model.MigrationStep) ([]*model.MigrationStep, error) {
	byID := make(map[string]*model.MigrationStep, len(steps))
	indegree := make(map[string]int, len(steps))
	children := make(map[string][]string, len(steps))

	for _, s := range steps {
		byID[s.ID] = s
		if _, ok := indegree[s.ID]; !ok {
			indegree[s.ID] = 0
		}
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue // dependency on a step outside this list is ignored
			}
			indegree[s.ID]++
			children[dep] = append(children[dep], s.ID)
		}
	}

	var queue []string
	for _, s := range steps {
		if indegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	var order []*model.MigrationStep
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, byID[id])
		for _, child := range children[id] {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) != len(steps) {
		// Find one step still short a satisfied dependency to name in the error.
		for _, s := range steps {
			if indegree[s.ID] > 0 {
				return nil, &migerr.ConfigurationError{
					Message: fmt.Sprintf("circular dependency detected involving step %s", s.ID),
				}
			}
		}
		return nil, &migerr.ConfigurationError{Message: "circular dependency detected"}
	}

	return order, nil
}

// NewSessionID returns a UUIDv4 string, per spec §6 ("ids are UUIDv4 strings").
func NewSessionID() string { return uuid.NewString() }
