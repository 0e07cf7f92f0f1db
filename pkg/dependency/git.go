// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-git/go-git/v5"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
)

// DefaultGitBinary is used when no git binary is configured.
const DefaultGitBinary = "git"

var (
	// ErrGitNotFound is returned when the git executable cannot be found.
	ErrGitNotFound = errors.New("git is not installed")
	// ErrInvalidGitRef is the sentinel error wrapped by InvalidGitRefError.
	ErrInvalidGitRef = errors.New("invalid git checkout")
	// ErrCheckoutMismatch is returned when HEAD does not point at the requested commit.
	ErrCheckoutMismatch = errors.New("checked out commit does not match")
	// ErrRootNotDirectory is returned when a repository root does not exist or is not a directory.
	ErrRootNotDirectory = errors.New("root is not a directory")

	commitPattern = regexp.MustCompile(`^[0-9a-fA-F]{4,64}$`)
)

type (
	// GitRef is a commit to check out. Full SHAs allow the fetch-by-SHA fast path.
	GitRef string

	// InvalidGitRefError is returned for refs that could be mistaken for options
	// or contain whitespace.
	InvalidGitRefError struct {
		Value GitRef
	}

	// GitSource is a Git repository cloned at acquisition time.
	GitSource struct {
		URL string
		// Root selects a directory inside the repository.
		Root     string
		Checkout GitRef
	}

	// gitRunner runs the git executable. Availability is checked once.
	gitRunner struct {
		binary string
		logger *log.Logger

		once     sync.Once
		checkErr error
	}
)

// Error implements the error interface.
func (e *InvalidGitRefError) Error() string {
	return fmt.Sprintf("invalid git checkout %q", e.Value)
}

// Unwrap returns ErrInvalidGitRef.
func (e *InvalidGitRefError) Unwrap() error { return ErrInvalidGitRef }

// Validate rejects refs starting with '-' or containing whitespace or control characters.
func (r GitRef) Validate() error {
	if r == "" {
		return nil
	}
	if strings.HasPrefix(string(r), "-") || strings.ContainsFunc(string(r), func(c rune) bool {
		return c <= ' ' || c == 0x7f
	}) {
		return &InvalidGitRefError{Value: r}
	}
	return nil
}

// IsCommit reports whether r looks like a (possibly abbreviated) commit hash.
func (r GitRef) IsCommit() bool { return commitPattern.MatchString(string(r)) }

// String returns the ref.
func (r GitRef) String() string { return string(r) }

// NewGitSource normalises root and validates the source.
func NewGitSource(repoURL, root string, checkout GitRef) (*GitSource, error) {
	r, err := cleanRoot(root)
	if err != nil {
		return nil, err
	}
	s := &GitSource{URL: repoURL, Root: r, Checkout: checkout}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Kind returns KindGit.
func (s *GitSource) Kind() Kind { return KindGit }

// Identity returns the Git fingerprint.
func (s *GitSource) Identity() Identity {
	return Identity{Type: KindGit, URL: s.URL, Root: s.Root, Checkout: string(s.Checkout)}
}

// Validate checks the URL, root and checkout.
func (s *GitSource) Validate() error {
	if strings.TrimSpace(s.URL) == "" || strings.HasPrefix(s.URL, "-") {
		return fmt.Errorf("%w: repository URL '%s'", ErrInvalidURL, s.URL)
	}
	if _, err := cleanRoot(s.Root); err != nil {
		return err
	}
	return s.Checkout.Validate()
}

func (s *GitSource) stage(ctx context.Context, x *Index, name Name) (staged, error) {
	if err := x.git.available(); err != nil {
		return staged{}, err
	}

	dir, err := x.cache.Get(cache.Download, true)
	if err != nil {
		return staged{}, err
	}

	if s.Checkout == "" {
		if err := x.git.run(ctx, "", "clone", "--depth", "1", "--recurse-submodules", "--shallow-submodules", s.URL, dir); err != nil {
			return staged{}, fmt.Errorf("unable to clone Git repository '%s': %w", s.URL, err)
		}
	} else if err := s.fetchCommit(ctx, x, dir); err != nil {
		x.logger.Warn("unable to fetch commit directly, attempting full clone",
			"dependency", name, "url", s.URL, "checkout", s.Checkout, "err", err)

		if dir, err = x.cache.Get(cache.Download, true); err != nil {
			return staged{}, err
		}
		if err := s.cloneAndCheckout(ctx, x, dir); err != nil {
			return staged{}, fmt.Errorf("unable to clone Git repository '%s' and check out '%s': %w", s.URL, s.Checkout, err)
		}
	}

	if err := s.verifyHead(x.logger, dir, name); err != nil {
		return staged{}, err
	}
	// The repository metadata never becomes part of the managed directory.
	if err := os.RemoveAll(filepath.Join(dir, ".git")); err != nil {
		return staged{}, fmt.Errorf("failed to remove repository metadata: %w", err)
	}

	src := dir
	if s.Root != "" {
		src = filepath.Join(dir, filepath.FromSlash(s.Root))
		if info, err := os.Stat(src); err != nil || !info.IsDir() {
			return staged{}, fmt.Errorf("%w: no such directory '%s' in Git repository '%s'", ErrRootNotDirectory, s.Root, s.URL)
		}
	}
	return staged{path: src, removable: true}, nil
}

// fetchCommit is the cheap path: fetch only the requested commit. It needs
// uploadpack.allowReachableSHA1InWant (or protocol v2) on the server.
func (s *GitSource) fetchCommit(ctx context.Context, x *Index, dir string) error {
	steps := [][]string{
		{"init", "--quiet", dir},
		{"-C", dir, "remote", "add", "origin", s.URL},
		{"-C", dir, "fetch", "--depth", "1", "origin", string(s.Checkout)},
		{"-C", dir, "checkout", "--quiet", "FETCH_HEAD"},
		{"-C", dir, "submodule", "update", "--init", "--recursive"},
	}
	for _, args := range steps {
		if err := x.git.run(ctx, "", args...); err != nil {
			return err
		}
	}
	return nil
}

// cloneAndCheckout clones the full history so any reachable commit can be checked out.
func (s *GitSource) cloneAndCheckout(ctx context.Context, x *Index, dir string) error {
	steps := [][]string{
		{"clone", "--recurse-submodules", s.URL, dir},
		{"-C", dir, "checkout", "--quiet", string(s.Checkout)},
		{"-C", dir, "submodule", "update", "--init", "--recursive"},
	}
	for _, args := range steps {
		if err := x.git.run(ctx, "", args...); err != nil {
			return err
		}
	}
	return nil
}

// verifyHead opens the clone with go-git, logs the resolved commit and, for
// hash-like checkouts, checks that HEAD is that commit.
func (s *GitSource) verifyHead(logger *log.Logger, dir string, name Name) error {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return fmt.Errorf("failed to open cloned repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit := head.Hash().String()
	logger.Debug("checked out", "dependency", name, "url", s.URL, "commit", commit)

	if s.Checkout.IsCommit() && !strings.HasPrefix(commit, strings.ToLower(string(s.Checkout))) {
		return fmt.Errorf("%w: HEAD is %s, expected %s", ErrCheckoutMismatch, commit, s.Checkout)
	}
	return nil
}

func newGitRunner(binary string, logger *log.Logger) *gitRunner {
	if binary == "" {
		binary = DefaultGitBinary
	}
	return &gitRunner{binary: binary, logger: logger}
}

// available reports whether the git binary can be found. The lookup happens once.
func (g *gitRunner) available() error {
	g.once.Do(func() {
		if _, err := exec.LookPath(g.binary); err != nil {
			g.checkErr = fmt.Errorf("%w: '%s' not found on PATH: %w", ErrGitNotFound, g.binary, err)
		}
	})
	return g.checkErr
}

// run executes git with args. Output is only surfaced on failure.
func (g *gitRunner) run(ctx context.Context, dir string, args ...string) error {
	g.logger.Debug("git", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(out.String())
		if msg == "" {
			return fmt.Errorf("git %s: %w", args[0], err)
		}
		return fmt.Errorf("git %s: %w: %s", args[0], err, msg)
	}
	return nil
}
