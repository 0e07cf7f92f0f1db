// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"codeberg.org/helmo2019/buildmc/pkg/download"
	"codeberg.org/helmo2019/buildmc/pkg/packformat"
)

const (
	// DefaultRootDir is the buildmc root below the project directory.
	DefaultRootDir = "buildmc_root"
	// DefaultBytesPerSecond throttles downloads to 8 MiB/s.
	DefaultBytesPerSecond int64 = 8 << 20
	// DefaultTimeout bounds a single download attempt.
	DefaultTimeout = 10 * time.Minute
	// DefaultGitBinary is looked up on PATH.
	DefaultGitBinary = "git"
)

// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
var ErrInvalidConfig = errors.New("invalid config")

type (
	// Config is the effective tool configuration.
	Config struct {
		RootDir             string         `json:"root_dir" mapstructure:"root_dir"`
		Download            DownloadConfig `json:"download" mapstructure:"download"`
		VersionMetaIndexURL string         `json:"version_meta_index_url" mapstructure:"version_meta_index_url"`
		Git                 GitConfig      `json:"git" mapstructure:"git"`
	}

	// DownloadConfig tunes the download primitive.
	DownloadConfig struct {
		BytesPerSecond int64         `json:"bytes_per_second" mapstructure:"bytes_per_second"`
		Retries        int           `json:"retries" mapstructure:"retries"`
		Timeout        time.Duration `json:"timeout" mapstructure:"timeout"`
	}

	// GitConfig selects the git executable.
	GitConfig struct {
		Binary string `json:"binary" mapstructure:"binary"`
	}

	// InvalidConfigError lists every invalid field.
	InvalidConfigError struct {
		FieldErrors []error
	}
)

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		RootDir: DefaultRootDir,
		Download: DownloadConfig{
			BytesPerSecond: DefaultBytesPerSecond,
			Retries:        download.DefaultRetries,
			Timeout:        DefaultTimeout,
		},
		VersionMetaIndexURL: packformat.DefaultIndexURL,
		Git:                 GitConfig{Binary: DefaultGitBinary},
	}
}

// Error implements the error interface.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, err := range e.FieldErrors {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig for errors.Is compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Validate checks values that may have bypassed the schema through the
// environment.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.RootDir) == "" {
		errs = append(errs, errors.New("root_dir must not be empty"))
	}
	if c.Download.BytesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("download.bytes_per_second must not be negative, got %d", c.Download.BytesPerSecond))
	}
	if c.Download.Retries < 1 {
		errs = append(errs, fmt.Errorf("download.retries must be at least 1, got %d", c.Download.Retries))
	}
	if c.Download.Timeout < 0 {
		errs = append(errs, fmt.Errorf("download.timeout must not be negative, got %s", c.Download.Timeout))
	}
	if !strings.HasPrefix(c.VersionMetaIndexURL, "http://") && !strings.HasPrefix(c.VersionMetaIndexURL, "https://") {
		errs = append(errs, fmt.Errorf("version_meta_index_url must be an http(s) URL, got %q", c.VersionMetaIndexURL))
	}
	if strings.TrimSpace(c.Git.Binary) == "" {
		errs = append(errs, errors.New("git.binary must not be empty"))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

// BuildmcRoot resolves RootDir against the project directory.
func (c *Config) BuildmcRoot(projectDir string) string {
	if filepath.IsAbs(c.RootDir) {
		return filepath.Clean(c.RootDir)
	}
	return filepath.Join(projectDir, c.RootDir)
}

// DownloadOptions returns the download settings for the given logger.
func (c *Config) DownloadOptions(logger *log.Logger) download.Options {
	opts := download.Options{
		BytesPerSecond: c.Download.BytesPerSecond,
		Retries:        c.Download.Retries,
		Logger:         logger,
	}
	if c.Download.Timeout > 0 {
		opts.Client = &http.Client{Timeout: c.Download.Timeout}
	}
	return opts
}
