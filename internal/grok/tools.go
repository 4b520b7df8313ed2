package grok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"

	"github.com/schaermu/groksyncd/internal/config"
)

// ExitError reports a management tool that ran but exited nonzero. This is
// the only error class the reindex retry policy retries.
type ExitError struct {
	Tool string
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with an error: %v", e.Tool, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// IsExitError reports whether err is (or wraps) a nonzero tool exit.
func IsExitError(err error) bool {
	var exitErr *ExitError
	return errors.As(err, &exitErr)
}

// Tools is the OpenGrok management command-line surface the reconciler
// depends on.
type Tools interface {
	// AddProject registers a project and regenerates the configuration
	AddProject(ctx context.Context, name string) error
	// DeleteProject deregisters a project and removes its index data
	DeleteProject(ctx context.Context, name string) error
	// Refresh reloads the regenerated configuration into the service
	Refresh(ctx context.Context) error
	// Index runs the indexer for one project against a configuration snapshot
	Index(ctx context.Context, configPath, name string) error
	// Reindex rebuilds the index of a single registered project
	Reindex(ctx context.Context, name string) error
}

// ShellTools implements Tools by shelling out to the opengrok command suite.
type ShellTools struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewShellTools creates a tool runner using the configured paths
func NewShellTools(cfg *config.Config, logger *slog.Logger) *ShellTools {
	return &ShellTools{cfg: cfg, logger: logger}
}

// AddProject registers a project via opengrok-projadm --add
func (t *ShellTools) AddProject(ctx context.Context, name string) error {
	return t.run(ctx, "opengrok-projadm", t.projadmArgs("--add", name)...)
}

// DeleteProject deregisters a project via opengrok-projadm --delete
func (t *ShellTools) DeleteProject(ctx context.Context, name string) error {
	return t.run(ctx, "opengrok-projadm", t.projadmArgs("--delete", name)...)
}

// Refresh reloads the service configuration via opengrok-projadm --refresh
func (t *ShellTools) Refresh(ctx context.Context) error {
	return t.run(ctx, "opengrok-projadm", t.projadmArgs("--refresh")...)
}

// Index runs opengrok-indexer for one project against a configuration
// snapshot previously fetched from the service.
func (t *ShellTools) Index(ctx context.Context, configPath, name string) error {
	return t.run(ctx, "opengrok-indexer",
		"--jar", t.cfg.Tools.Jar,
		"--",
		"-c", t.cfg.Tools.Ctags,
		"-U", t.cfg.Server.URL,
		"-R", configPath,
		"-H", name,
	)
}

// Reindex rebuilds a single project's index via opengrok-reindex-project.
func (t *ShellTools) Reindex(ctx context.Context, name string) error {
	return t.run(ctx, "opengrok-reindex-project",
		"-J=-Djava.util.logging.config.file="+t.cfg.Tools.LoggingConfig,
		"-a", t.cfg.Tools.Jar,
		"--uri", t.cfg.Server.URL,
		"--printoutput",
		"-P", name,
		"--",
		"-c", t.cfg.Tools.Ctags,
		"-H",
		"-r", "dirbased",
		"--renamedHistory", "on",
		"--threads", strconv.Itoa(t.cfg.Reindex.Threads),
	)
}

func (t *ShellTools) projadmArgs(op string, extra ...string) []string {
	args := []string{
		"--jar", t.cfg.Tools.Jar,
		"--base", t.cfg.Tools.Base,
		"--uri", t.cfg.Server.URL,
		op,
	}
	return append(args, extra...)
}

// run executes a tool with its output streamed to the operator and stdin on
// the null device so it can never block awaiting interactive input.
func (t *ShellTools) run(ctx context.Context, tool string, args ...string) error {
	t.logger.Debug("running tool", "tool", tool, "args", args)

	cmd := exec.CommandContext(ctx, tool, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Tool: tool, Err: err}
		}
		return fmt.Errorf("failed to run %s: %w", tool, err)
	}
	return nil
}
