package fetch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schaermu/groksyncd/internal/spec"
)

// fetchGit acquires a git origin. When the existing worktree was produced by
// an identical specification it is updated in place (fetch + reset) and the
// changed signal compares the HEAD commit before and after; otherwise the
// directory is recreated with a fresh clone, which always counts as a change.
func (e *Engine) fetchGit(ctx context.Context, project spec.Project, persisted *spec.Project) (bool, error) {
	git := project.Git
	targetDir := e.cfg.SourceDir(project.Name)

	reuse := dirExists(targetDir) &&
		dirExists(filepath.Join(targetDir, ".git")) &&
		persisted != nil && persisted.Equal(project)

	if !reuse {
		changed, err := e.cloneFresh(ctx, project, targetDir)
		if err != nil {
			return false, &DownloadError{Project: project.Name, Err: err}
		}
		return changed, nil
	}

	changed, err := e.updateExisting(ctx, git, targetDir)
	if err != nil {
		return false, &DownloadError{Project: project.Name, Err: err}
	}
	return changed, nil
}

// updateExisting refreshes a reusable worktree with fetch + reset.
func (e *Engine) updateExisting(ctx context.Context, git *spec.GitOrigin, targetDir string) (bool, error) {
	oldCommit, err := headCommit(ctx, targetDir)
	if err != nil {
		return false, err
	}

	if err := runGit(ctx, targetDir, "fetch", "origin"); err != nil {
		return false, err
	}

	ref := git.Ref
	if ref == "" {
		ref = "HEAD"
	}

	// A ref that resolves under the tag namespace is reset directly;
	// anything else is treated as a branch on the remote.
	if gitRefExists(ctx, targetDir, "refs/tags/"+ref) {
		if err := runGit(ctx, targetDir, "reset", "--hard", ref); err != nil {
			return false, err
		}
	} else {
		if err := runGit(ctx, targetDir, "reset", "--hard", "origin/"+ref); err != nil {
			return false, err
		}
	}

	newCommit, err := headCommit(ctx, targetDir)
	if err != nil {
		return false, err
	}

	e.logger.Debug("updated git worktree", "dir", targetDir, "old_commit", oldCommit, "new_commit", newCommit)
	return oldCommit != newCommit, nil
}

// cloneFresh removes any stale directory and clones from scratch.
func (e *Engine) cloneFresh(ctx context.Context, project spec.Project, targetDir string) (bool, error) {
	git := project.Git

	if err := os.RemoveAll(targetDir); err != nil {
		return false, fmt.Errorf("failed to remove stale directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(targetDir), 0755); err != nil {
		return false, fmt.Errorf("failed to create parent directory: %w", err)
	}

	args := []string{"clone"}
	if git.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(git.Depth))
	}
	if git.Ref != "" {
		args = append(args, "--branch", git.Ref)
	}
	args = append(args, git.URL, targetDir)

	e.logger.Debug("cloning repository", "url", git.URL, "dir", targetDir)
	if err := runGit(ctx, "", args...); err != nil {
		return false, err
	}

	// A fresh clone is always a change.
	return true, nil
}

// runGit executes a git command, optionally inside dir, and returns an error
// carrying the combined output on failure. Stdin is the null device so git
// can never block on interactive prompts.
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s failed: %w: %s", args[0], err, string(output))
	}
	return nil
}

// headCommit returns the commit id of HEAD in dir.
func headCommit(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}

// gitRefExists reports whether ref resolves in dir.
func gitRefExists(ctx context.Context, dir, ref string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref)
	cmd.Dir = dir
	return cmd.Run() == nil
}

func dirExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
