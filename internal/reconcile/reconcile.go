// Package reconcile converges the set of projects registered with the
// OpenGrok service toward the desired set read from input: extra projects
// are removed, missing or drifted projects are (re)created, and projects
// whose source actually changed are reindexed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/schaermu/groksyncd/internal/config"
	"github.com/schaermu/groksyncd/internal/fetch"
	"github.com/schaermu/groksyncd/internal/grok"
	"github.com/schaermu/groksyncd/internal/retry"
	"github.com/schaermu/groksyncd/internal/spec"
	"github.com/schaermu/groksyncd/internal/store"
)

// Engine orchestrates one reconciliation pass
type Engine struct {
	cfg     *config.Config
	store   *store.Store
	fetcher fetch.Fetcher
	api     grok.API
	tools   grok.Tools
	retry   *retry.Policy
	logger  *slog.Logger
	dryRun  bool
}

// NewEngine creates a reconciliation engine
func NewEngine(cfg *config.Config, st *store.Store, fetcher fetch.Fetcher, api grok.API, tools grok.Tools, policy *retry.Policy, logger *slog.Logger, dryRun bool) *Engine {
	return &Engine{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		api:     api,
		tools:   tools,
		retry:   policy,
		logger:  logger,
		dryRun:  dryRun,
	}
}

// Run executes one reconciliation pass over the full desired set. Projects
// are processed strictly one at a time; an acquisition failure skips only
// the affected project, while indexing-service and tool failures abort the
// run.
func (e *Engine) Run(ctx context.Context, desired map[string]spec.Project) error {
	e.logger.Info("starting reconciliation", "desired", len(desired), "dry_run", e.dryRun)

	actual, err := e.observe(ctx)
	if err != nil {
		return fmt.Errorf("failed to observe registered projects: %w", err)
	}
	e.logger.Info("observed registered projects", "count", len(actual))

	// Remove registered projects no longer desired.
	for _, name := range sortedNames(actual) {
		if _, ok := desired[name]; ok {
			continue
		}
		if e.dryRun {
			e.logger.Info("[dry-run] would delete project", "name", name)
			continue
		}
		if err := e.deleteProject(ctx, name); err != nil {
			return err
		}
		e.logger.Info("deleted project", "name", name)
	}

	for _, name := range sortedNames(desired) {
		if err := e.reconcileProject(ctx, desired[name], actual); err != nil {
			return err
		}
	}

	e.logger.Info("reconciliation complete")
	return nil
}

// observe fetches the registered project names and resolves each to its
// persisted record. Names with no resolvable record are purged immediately
// (self-healing) and left out of the returned set.
func (e *Engine) observe(ctx context.Context) (map[string]spec.Project, error) {
	names, err := e.api.ProjectNames(ctx)
	if err != nil {
		return nil, err
	}

	actual := make(map[string]spec.Project, len(names))
	var invalid []string
	for _, name := range names {
		record, err := e.store.Load(name)
		if err != nil {
			return nil, err
		}
		if record == nil {
			invalid = append(invalid, name)
			continue
		}
		actual[name] = *record
	}

	for _, name := range invalid {
		if e.dryRun {
			e.logger.Info("[dry-run] would purge project without record", "name", name)
			continue
		}
		if err := e.deleteProject(ctx, name); err != nil {
			return nil, err
		}
		e.logger.Info("purged project without record", "name", name)
	}

	return actual, nil
}

// reconcileProject converges a single desired project.
func (e *Engine) reconcileProject(ctx context.Context, project spec.Project, actual map[string]spec.Project) error {
	persisted, registered := actual[project.Name]
	e.logger.Info("processing project",
		"name", project.Name,
		"origin", project.Origin(),
		"registered", registered)

	// A registered project whose record no longer matches the desired spec
	// is deregistered first and treated as new for the rest of this pass.
	// Its record is superseded on success, not separately deleted.
	recreate := registered && !persisted.Equal(project)
	if recreate {
		if e.dryRun {
			e.logger.Info("[dry-run] would recreate project due to record mismatch", "name", project.Name)
		} else {
			if err := e.tools.DeleteProject(ctx, project.Name); err != nil {
				return fmt.Errorf("failed to delete project %s for recreation: %w", project.Name, err)
			}
			e.logger.Info("deleted project due to record mismatch", "name", project.Name)
		}
	}

	if e.dryRun {
		e.logger.Info("[dry-run] would acquire source and reindex on change",
			"name", project.Name,
			"add", !registered || recreate)
		return nil
	}

	// Pass the most recent known record so the strategies can decide
	// between reuse and recreation.
	var lastKnown *spec.Project
	if registered {
		lastKnown = &persisted
	} else if record, err := e.store.Load(project.Name); err != nil {
		return err
	} else {
		lastKnown = record
	}

	changed, err := e.fetcher.Fetch(ctx, project, lastKnown)
	if err != nil {
		var dlErr *fetch.DownloadError
		if errors.As(err, &dlErr) {
			// Recovered at project granularity: skip this project, keep going.
			e.logger.Warn("failed to acquire source, skipping project", "name", project.Name, "error", err)
			return nil
		}
		return err
	}

	if !changed {
		e.logger.Info("source unchanged", "name", project.Name)
		return nil
	}
	e.logger.Info("source changed", "name", project.Name)

	if !registered || recreate {
		if err := e.addProject(ctx, project); err != nil {
			return err
		}
	}

	e.logger.Info("reindexing project", "name", project.Name)
	if err := e.retry.Do(func() error { return e.tools.Reindex(ctx, project.Name) }); err != nil {
		return fmt.Errorf("failed to reindex %s: %w", project.Name, err)
	}
	e.logger.Info("reindexed project", "name", project.Name)

	return nil
}

// addProject registers the project, indexes it against a fresh configuration
// snapshot, refreshes the service configuration, and persists the record.
func (e *Engine) addProject(ctx context.Context, project spec.Project) error {
	e.logger.Info("adding project", "name", project.Name)

	if err := e.tools.AddProject(ctx, project.Name); err != nil {
		return fmt.Errorf("failed to add project %s: %w", project.Name, err)
	}

	configPath, cleanup, err := e.configSnapshot(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := e.tools.Index(ctx, configPath, project.Name); err != nil {
		return fmt.Errorf("failed to index project %s: %w", project.Name, err)
	}
	if err := e.tools.Refresh(ctx); err != nil {
		return fmt.Errorf("failed to refresh configuration: %w", err)
	}

	if err := e.store.Save(project); err != nil {
		return err
	}

	return nil
}

// configSnapshot writes the current service configuration to a temporary
// file for the indexer tool to consume.
func (e *Engine) configSnapshot(ctx context.Context) (string, func(), error) {
	content, err := e.api.Configuration(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("failed to fetch configuration: %w", err)
	}

	tmpFile, err := os.CreateTemp("", "groksyncd-config-*.xml")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create configuration snapshot: %w", err)
	}
	path := tmpFile.Name()
	cleanup := func() { _ = os.Remove(path) }

	if _, err := tmpFile.Write(content); err != nil {
		_ = tmpFile.Close()
		cleanup()
		return "", nil, fmt.Errorf("failed to write configuration snapshot: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to write configuration snapshot: %w", err)
	}

	return path, cleanup, nil
}

// deleteProject removes a project from the service and drops its record.
func (e *Engine) deleteProject(ctx context.Context, name string) error {
	if err := e.tools.DeleteProject(ctx, name); err != nil {
		return fmt.Errorf("failed to delete project %s: %w", name, err)
	}
	return e.store.Delete(name)
}

func sortedNames(projects map[string]spec.Project) []string {
	names := make([]string, 0, len(projects))
	for name := range projects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
