// Package fetch acquires project source trees from their declared origin
// (git repository or downloadable archive) and reports whether the on-disk
// content actually changed, so that callers can skip redundant indexing.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/schaermu/groksyncd/internal/config"
	"github.com/schaermu/groksyncd/internal/spec"
)

// DownloadError marks an unrecoverable acquisition failure (network,
// verification, extraction, or git command failure). The reconciler
// recovers from it at project granularity instead of aborting the run.
type DownloadError struct {
	Project string
	Err     error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to acquire source for %s: %v", e.Project, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// Fetcher acquires a project's source tree. persisted is the last-applied
// record for the same project name, or nil when none exists. The returned
// bool reports whether the on-disk content changed.
type Fetcher interface {
	Fetch(ctx context.Context, project spec.Project, persisted *spec.Project) (bool, error)
}

// Engine implements Fetcher with a git strategy and an archive strategy.
type Engine struct {
	cfg    *config.Config
	client *http.Client
	logger *slog.Logger
}

// NewEngine creates a source acquisition engine
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		client: http.DefaultClient,
		logger: logger,
	}
}

// Fetch dispatches to the strategy matching the project's origin. A git
// origin always wins; the spec layer guarantees only one origin is set.
func (e *Engine) Fetch(ctx context.Context, project spec.Project, persisted *spec.Project) (bool, error) {
	switch {
	case project.Git != nil:
		return e.fetchGit(ctx, project, persisted)
	case project.Archive != nil:
		return e.fetchArchive(ctx, project, persisted)
	default:
		return false, &DownloadError{Project: project.Name, Err: spec.ErrInvalidOrigin}
	}
}
