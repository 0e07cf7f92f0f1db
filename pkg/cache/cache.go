// SPDX-License-Identifier: MPL-2.0

// Package cache manages the scratch directories below <buildmc root>/cache.
//
// Scratch directories absorb partial work (downloads, unpacked archives, build
// output) so that an interrupted run never leaves the managed dependency tree
// half-written. They are reset at the end of every run and by `buildmc clean`.
package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Well-known scratch directory names.
const (
	Download = "download"
	Unpack   = "unpack"
	Build    = "build"
	Meta     = "meta"
)

// ErrInvalidName is returned for names that would leave the cache root.
var ErrInvalidName = errors.New("invalid cache directory name")

// Cache is rooted at a single directory; every subdirectory is single-writer.
type Cache struct {
	root   string
	logger *log.Logger
}

// New returns a Cache rooted at root. The directory is created lazily.
func New(root string, logger *log.Logger) *Cache {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Cache{root: root, logger: logger}
}

// Root returns the cache root directory.
func (c *Cache) Root() string { return c.root }

// Path returns the path of a cache subdirectory without touching the disk.
func (c *Cache) Path(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || clean == "." || filepath.IsAbs(clean) || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(c.root, clean), nil
}

// Get makes sure the subdirectory exists and returns its path. When clean is
// set the directory is emptied first. A regular file occupying the path is removed.
func (c *Cache) Get(name string, clean bool) (string, error) {
	dir, err := c.Path(name)
	if err != nil {
		return "", err
	}

	if clean {
		if err := c.Clean(name); err != nil {
			return "", err
		}
	} else if info, statErr := os.Stat(dir); statErr == nil && !info.IsDir() {
		c.logger.Warn("cache subdirectory is a file, removing", "path", dir)
		if err := os.Remove(dir); err != nil {
			return "", fmt.Errorf("failed to remove %s: %w", dir, err)
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}
	return dir, nil
}

// Clean removes a cache subdirectory. A missing directory is not an error.
func (c *Cache) Clean(name string) error {
	dir, err := c.Path(name)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Error("unable to remove cache directory", "path", dir, "err", err)
		return fmt.Errorf("failed to clean %s: %w", dir, err)
	}
	return nil
}

// CleanAll removes every subdirectory of the cache root.
func (c *Cache) CleanAll() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to list cache root: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		if err := c.Clean(entry.Name()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CleanScratch removes the staging directories used during dependency acquisition.
func (c *Cache) CleanScratch() error {
	return errors.Join(c.Clean(Download), c.Clean(Unpack))
}
