package fetch

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/schaermu/groksyncd/internal/spec"
)

// initRepo creates a local repo with an initial commit on the given branch.
func initRepo(t *testing.T, dir, branch string) {
	t.Helper()
	cmds := [][]string{
		{"git", "init", "-b", branch, dir},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	for _, args := range cmds {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
}

// commitFile creates or overwrites a file and commits it.
func commitFile(t *testing.T, repoDir, content, msg string) {
	t.Helper()
	const name = "hello.txt"
	if err := os.WriteFile(filepath.Join(repoDir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"git", "-C", repoDir, "add", name},
		{"git", "-C", repoDir, "commit", "-m", msg},
	} {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
}

func gitProject(name, url, ref string) spec.Project {
	return spec.Project{
		Name: name,
		Git:  &spec.GitOrigin{URL: url, Ref: ref},
	}
}

func TestFetchGit_FreshClone(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	engine, cfg := newTestEngine(t)
	project := gitProject("proj", remoteDir, "main")

	changed, err := engine.Fetch(context.Background(), project, nil)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !changed {
		t.Error("fresh clone should always report a change")
	}

	got, err := os.ReadFile(filepath.Join(cfg.SourceDir("proj"), "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version1\n" {
		t.Errorf("expected version1, got %q", got)
	}
}

func TestFetchGit_ReuseUnchanged(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	engine, cfg := newTestEngine(t)
	project := gitProject("proj", remoteDir, "main")

	if _, err := engine.Fetch(context.Background(), project, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	// An untracked marker survives fetch+reset but not a re-clone.
	marker := filepath.Join(cfg.SourceDir("proj"), "marker.untracked")
	if err := os.WriteFile(marker, []byte("m"), 0644); err != nil {
		t.Fatal(err)
	}

	persisted := project
	changed, err := engine.Fetch(context.Background(), project, &persisted)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if changed {
		t.Error("unchanged upstream should not report a change")
	}
	if _, err := os.Stat(marker); err != nil {
		t.Error("worktree was recreated instead of reused")
	}
}

func TestFetchGit_ReuseUpstreamChange(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	engine, cfg := newTestEngine(t)
	project := gitProject("proj", remoteDir, "main")

	if _, err := engine.Fetch(context.Background(), project, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	commitFile(t, remoteDir, "version2\n", "Update")

	persisted := project
	changed, err := engine.Fetch(context.Background(), project, &persisted)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if !changed {
		t.Error("moved upstream should report a change")
	}

	got, err := os.ReadFile(filepath.Join(cfg.SourceDir("proj"), "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "version2\n" {
		t.Errorf("expected version2 after reuse update, got %q", got)
	}
}

func TestFetchGit_RecreateOnSpecMismatch(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	engine, cfg := newTestEngine(t)
	project := gitProject("proj", remoteDir, "main")

	if _, err := engine.Fetch(context.Background(), project, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	marker := filepath.Join(cfg.SourceDir("proj"), "marker.untracked")
	if err := os.WriteFile(marker, []byte("m"), 0644); err != nil {
		t.Fatal(err)
	}

	// Persisted record differs from the desired spec: the worktree is not
	// eligible for reuse and must be re-cloned.
	stale := gitProject("proj", remoteDir, "other-branch-back-then")
	changed, err := engine.Fetch(context.Background(), project, &stale)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !changed {
		t.Error("re-clone should report a change")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("worktree should have been recreated, marker survived")
	}
}

func TestFetchGit_TagResolvesViaTagNamespace(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "main")
	commitFile(t, remoteDir, "tagged\n", "Tagged commit")
	if out, err := exec.Command("git", "-C", remoteDir, "tag", "v1.0").CombinedOutput(); err != nil {
		t.Fatalf("tag: %v: %s", err, out)
	}
	// main moves ahead of the tag.
	commitFile(t, remoteDir, "after-tag\n", "Post-tag commit")

	engine, cfg := newTestEngine(t)
	project := gitProject("proj", remoteDir, "v1.0")

	if _, err := engine.Fetch(context.Background(), project, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	persisted := project
	changed, err := engine.Fetch(context.Background(), project, &persisted)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if changed {
		t.Error("pinned tag should never report a change")
	}

	got, err := os.ReadFile(filepath.Join(cfg.SourceDir("proj"), "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "tagged\n" {
		t.Errorf("expected tagged content, got %q", got)
	}
}

func TestFetchGit_BranchResolvesViaRemoteTracking(t *testing.T) {
	remoteDir := t.TempDir()
	initRepo(t, remoteDir, "release")
	commitFile(t, remoteDir, "version1\n", "Initial commit")

	engine, _ := newTestEngine(t)
	project := gitProject("proj", remoteDir, "release")

	if _, err := engine.Fetch(context.Background(), project, nil); err != nil {
		t.Fatalf("first Fetch: %v", err)
	}

	commitFile(t, remoteDir, "version2\n", "Update")

	// "release" is not a tag: the reuse path must follow origin/release.
	persisted := project
	changed, err := engine.Fetch(context.Background(), project, &persisted)
	if err != nil {
		t.Fatalf("second Fetch: %v", err)
	}
	if !changed {
		t.Error("expected change from moved remote branch")
	}
}

func TestFetchGit_CloneFailure(t *testing.T) {
	engine, _ := newTestEngine(t)
	project := gitProject("proj", filepath.Join(t.TempDir(), "no-such-repo"), "")

	_, err := engine.Fetch(context.Background(), project, nil)
	if err == nil {
		t.Fatal("expected error for missing remote")
	}
	var dlErr *DownloadError
	if !errors.As(err, &dlErr) {
		t.Errorf("error should be a DownloadError: %v", err)
	}
}
