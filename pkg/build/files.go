// SPDX-License-Identifier: MPL-2.0

// Package build collects a project's files, substitutes %{variable}
// references in processed files and assembles the pack ZIP.
package build

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
)

var (
	// ErrNoMatch is returned when an include pattern matches nothing.
	ErrNoMatch = errors.New("no file matched")
	// ErrInvalidPattern is returned for malformed glob patterns.
	ErrInvalidPattern = errors.New("invalid pattern")
)

type (
	// File is one file of the built pack.
	File struct {
		// Source is absolute.
		Source string
		// Destination is slash separated and relative to the pack root.
		Destination string
		Process     bool
	}

	// Include selects files. Without Glob, Pattern is a single path.
	Include struct {
		Pattern     string
		Glob        bool
		Process     bool
		Destination string
	}

	// Exclude removes files matching Pattern, by source path relative to the
	// project directory or by destination.
	Exclude struct {
		Pattern       string
		ByDestination bool
	}

	// FileSet is the ordered list of files going into the pack.
	FileSet struct {
		projectDir  string
		buildmcRoot string
		logger      *log.Logger
		files       []File
	}
)

// NewFileSet returns an empty set. Files below buildmcRoot are never included.
func NewFileSet(projectDir, buildmcRoot string, logger *log.Logger) *FileSet {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &FileSet{projectDir: projectDir, buildmcRoot: buildmcRoot, logger: logger}
}

// Files returns the included files in inclusion order.
func (s *FileSet) Files() []File { return slices.Clone(s.files) }

// Include adds the files selected by inc. Re-including a file moves it to the end.
func (s *FileSet) Include(inc Include) error {
	var matches []string
	if inc.Glob {
		if !doublestar.ValidatePattern(inc.Pattern) {
			return fmt.Errorf("%w: '%s'", ErrInvalidPattern, inc.Pattern)
		}
		rel, err := doublestar.Glob(os.DirFS(s.projectDir), inc.Pattern, doublestar.WithFilesOnly())
		if err != nil {
			return fmt.Errorf("failed to match '%s': %w", inc.Pattern, err)
		}
		for _, r := range rel {
			matches = append(matches, filepath.Join(s.projectDir, filepath.FromSlash(r)))
		}
		if len(matches) == 0 {
			return fmt.Errorf("%w: pattern '%s'", ErrNoMatch, inc.Pattern)
		}
	} else {
		p := inc.Pattern
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.projectDir, p)
		}
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("file not found: '%s'", p)
		}
		matches = []string{p}
	}

	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("file not found: '%s'", abs)
		}
		if !info.Mode().IsRegular() || (s.buildmcRoot != "" && isBelow(s.buildmcRoot, abs)) {
			continue
		}

		inside := isBelow(s.projectDir, abs)
		if !inside {
			s.logger.Warn("including file which is outside of the project root", "path", abs)
		}

		var dest string
		switch {
		case inc.Destination != "":
			dest = path.Join(filepath.ToSlash(inc.Destination), filepath.Base(abs))
		case inside:
			rel, _ := filepath.Rel(s.projectDir, abs)
			dest = filepath.ToSlash(rel)
		default:
			dest = filepath.Base(abs)
		}
		if !filepath.IsLocal(filepath.FromSlash(dest)) {
			return fmt.Errorf("destination '%s' leaves the pack root", dest)
		}

		f := File{Source: abs, Destination: dest, Process: inc.Process}
		s.files = slices.DeleteFunc(s.files, func(e File) bool {
			return e.Source == f.Source && e.Destination == f.Destination
		})
		s.files = append(s.files, f)
	}
	return nil
}

// Exclude removes every file matching exc.
func (s *FileSet) Exclude(exc Exclude) error {
	if !doublestar.ValidatePattern(exc.Pattern) {
		return fmt.Errorf("%w: '%s'", ErrInvalidPattern, exc.Pattern)
	}
	s.files = slices.DeleteFunc(s.files, func(f File) bool {
		name := f.Destination
		if !exc.ByDestination {
			rel, err := filepath.Rel(s.projectDir, f.Source)
			if err != nil {
				return false
			}
			name = filepath.ToSlash(rel)
		}
		ok, _ := doublestar.Match(exc.Pattern, name)
		return ok
	})
	return nil
}

// isBelow reports whether p lies strictly inside dir.
func isBelow(dir, p string) bool {
	rel, err := filepath.Rel(dir, p)
	return err == nil && rel != "." && filepath.IsLocal(rel)
}
