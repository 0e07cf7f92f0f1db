// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// RequireGit skips the test when no git executable is on PATH.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// GitRepo is a fixture repository built with go-git.
type GitRepo struct {
	Dir  string
	repo *git.Repository
	t    testing.TB
}

// NewGitRepo initialises a non-bare repository in dir.
func NewGitRepo(t testing.TB, dir string) *GitRepo {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repository: %v", err)
	}
	return &GitRepo{Dir: dir, repo: repo, t: t}
}

// Commit writes files (relative slash paths to content), stages everything
// and commits, returning the commit hash.
func (r *GitRepo) Commit(message string, files map[string]string) string {
	r.t.Helper()
	for name, content := range files {
		MustWriteFile(r.t, filepath.Join(r.Dir, filepath.FromSlash(name)), content)
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("failed to get worktree: %v", err)
	}
	for name := range files {
		if _, err := wt.Add(name); err != nil {
			r.t.Fatalf("failed to stage %s: %v", name, err)
		}
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: "buildmc", Email: "buildmc@example.com", When: time.Now()},
	})
	if err != nil {
		r.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

// Remove deletes a file from the work tree and the index; the next Commit
// records the removal.
func (r *GitRepo) Remove(name string) {
	r.t.Helper()
	wt, err := r.repo.Worktree()
	if err != nil {
		r.t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := wt.Remove(name); err != nil {
		r.t.Fatalf("failed to stage removal of %s: %v", name, err)
	}
}
