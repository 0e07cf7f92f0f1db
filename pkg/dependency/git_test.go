// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"errors"
	"path/filepath"
	"testing"

	"codeberg.org/helmo2019/buildmc/internal/testutil"
)

func gitDep(t *testing.T, name Name, repoURL, root string, checkout GitRef) *Dependency {
	t.Helper()
	s, err := NewGitSource(repoURL, root, checkout)
	if err != nil {
		t.Fatalf("NewGitSource() error = %v", err)
	}
	d, err := New(name, DeploymentBundle, false, s)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

// fixtureRepo has two commits: v1 with pack/data/v.txt = "1" and the current
// head with "2" plus an extra file.
func fixtureRepo(t *testing.T) (dir, first, second string) {
	t.Helper()
	dir = filepath.Join(t.TempDir(), "repo")
	repo := testutil.NewGitRepo(t, dir)
	first = repo.Commit("v1", map[string]string{
		"pack.mcmeta":      testutil.Manifest(61),
		"data/v.txt":       "1",
		"sub/pack.mcmeta":  testutil.Manifest(61),
		"sub/data/sub.txt": "sub",
	})
	second = repo.Commit("v2", map[string]string{
		"data/v.txt":     "2",
		"data/extra.txt": "extra",
	})
	return dir, first, second
}

func TestGitCloneDefaultBranch(t *testing.T) {
	testutil.RequireGit(t)
	t.Parallel()

	repo, _, _ := fixtureRepo(t)
	x := openIndex(t, t.TempDir(), gitDep(t, "lib", repo, "", ""))
	if err := x.Resolve(t.Context()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	dest := filepath.Join(x.Root(), "lib")
	if got := testutil.MustReadFile(t, filepath.Join(dest, "data", "v.txt")); got != "2" {
		t.Errorf("v.txt = %q, want 2", got)
	}
	if testutil.Exists(filepath.Join(dest, ".git")) {
		t.Error(".git was placed into the managed directory")
	}
}

func TestGitCheckoutCommit(t *testing.T) {
	testutil.RequireGit(t)
	t.Parallel()

	repo, first, _ := fixtureRepo(t)

	// The full hash can be fetched directly; the abbreviated one cannot and
	// forces the full clone fallback. Both end in the same tree.
	for _, ref := range []GitRef{GitRef(first), GitRef(first[:10])} {
		t.Run(string(ref), func(t *testing.T) {
			t.Parallel()

			x := openIndex(t, t.TempDir(), gitDep(t, "lib", repo, "", ref))
			if err := x.Resolve(t.Context()); err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			dest := filepath.Join(x.Root(), "lib")
			if got := testutil.MustReadFile(t, filepath.Join(dest, "data", "v.txt")); got != "1" {
				t.Errorf("v.txt = %q, want 1", got)
			}
			if testutil.Exists(filepath.Join(dest, "data", "extra.txt")) {
				t.Error("extra.txt from a later commit is present")
			}
		})
	}
}

func TestGitRoot(t *testing.T) {
	testutil.RequireGit(t)
	t.Parallel()

	repo, _, _ := fixtureRepo(t)

	x := openIndex(t, t.TempDir(), gitDep(t, "sub", repo, "sub", ""))
	if err := x.Resolve(t.Context()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := testutil.MustReadFile(t, filepath.Join(x.Root(), "sub", "data", "sub.txt")); got != "sub" {
		t.Errorf("sub.txt = %q", got)
	}

	y := openIndex(t, t.TempDir(), gitDep(t, "missing", repo, "nope", ""))
	if err := y.Resolve(t.Context()); !errors.Is(err, ErrRootNotDirectory) {
		t.Errorf("Resolve() error = %v, want ErrRootNotDirectory", err)
	}
}

func TestGitMissingBinary(t *testing.T) {
	t.Parallel()

	x := openIndex(t, t.TempDir(), gitDep(t, "lib", "https://example.com/r.git", "", ""))
	x.git = newGitRunner("buildmc-no-such-git", x.logger)

	err := x.Resolve(t.Context())
	if !errors.Is(err, ErrGitNotFound) {
		t.Errorf("Resolve() error = %v, want ErrGitNotFound", err)
	}
}
