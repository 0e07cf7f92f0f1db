// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"codeberg.org/helmo2019/buildmc/internal/issue"
	"codeberg.org/helmo2019/buildmc/internal/testutil"
	"codeberg.org/helmo2019/buildmc/pkg/packformat"
)

// Tests in this file mutate the environment and must not run in parallel.

func load(t *testing.T, opts LoadOptions) (*Loaded, error) {
	t.Helper()
	if opts.ConfigDirPath == "" {
		opts.ConfigDirPath = t.TempDir()
	}
	return LoadWithSources(context.Background(), opts)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.RootDir != "buildmc_root" {
		t.Errorf("RootDir = %q", cfg.RootDir)
	}
	if cfg.Download.BytesPerSecond != 8<<20 || cfg.Download.Retries != 3 {
		t.Errorf("Download = %+v", cfg.Download)
	}
	if cfg.VersionMetaIndexURL != packformat.DefaultIndexURL || cfg.Git.Binary != "git" {
		t.Errorf("config = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	got, err := load(t, LoadOptions{ProjectDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got.Sources) != 0 {
		t.Errorf("Sources = %v, want none", got.Sources)
	}
	if *got.Config != *DefaultConfig() {
		t.Errorf("Config = %+v, want defaults", got.Config)
	}
}

func TestLoadLayering(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()

	testutil.MustWriteFile(t, filepath.Join(userDir, ConfigFileName), `
root_dir: "user_root"
download: {retries: 5, timeout: "30s"}
git: binary: "/usr/local/bin/git"
`)
	testutil.MustWriteFile(t, filepath.Join(projectDir, ConfigFileName), `
download: bytes_per_second: 0
`)
	testutil.MustWriteFile(t, filepath.Join(projectDir, DotEnvFileName), "BUILDMC_DOWNLOAD_RETRIES=7\n")
	t.Cleanup(testutil.MustSetenv(t, "BUILDMC_ROOT_DIR", "env_root"))
	t.Cleanup(testutil.MustUnsetenv(t, "BUILDMC_DOWNLOAD_RETRIES"))

	got, err := load(t, LoadOptions{ConfigDirPath: userDir, ProjectDir: projectDir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(got.Sources) != 2 {
		t.Errorf("Sources = %v, want user and project files", got.Sources)
	}
	if got.RootDir != "env_root" {
		t.Errorf("RootDir = %q, want the environment value", got.RootDir)
	}
	if got.Download.Retries != 7 {
		t.Errorf("Retries = %d, want 7 from .env", got.Download.Retries)
	}
	if got.Download.Timeout != 30*time.Second {
		t.Errorf("Timeout = %s, want 30s", got.Download.Timeout)
	}
	if got.Download.BytesPerSecond != 0 {
		t.Errorf("BytesPerSecond = %d, want project override 0", got.Download.BytesPerSecond)
	}
	if got.Git.Binary != "/usr/local/bin/git" {
		t.Errorf("Git.Binary = %q", got.Git.Binary)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	projectDir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(projectDir, DotEnvFileName), "BUILDMC_GIT_BINARY=from-dotenv\n")
	t.Cleanup(testutil.MustSetenv(t, "BUILDMC_GIT_BINARY", "from-env"))

	got, err := load(t, LoadOptions{ProjectDir: projectDir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Git.Binary != "from-env" {
		t.Errorf("Git.Binary = %q, want from-env", got.Git.Binary)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Run("schema violation", func(t *testing.T) {
		dir := t.TempDir()
		testutil.MustWriteFile(t, filepath.Join(dir, ConfigFileName), `download: retries: 0`)
		_, err := load(t, LoadOptions{ConfigDirPath: dir})
		if _, ok := issue.AsActionable(err); !ok {
			t.Fatalf("Load() error = %v, want an actionable error", err)
		}
		if !strings.Contains(err.Error(), "retries") {
			t.Errorf("error %q does not name the field", err)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		dir := t.TempDir()
		testutil.MustWriteFile(t, filepath.Join(dir, ConfigFileName), `colour: "red"`)
		if _, err := load(t, LoadOptions{ConfigDirPath: dir}); err == nil {
			t.Error("Load() error = nil, want schema error")
		}
	})

	t.Run("bad timeout", func(t *testing.T) {
		dir := t.TempDir()
		testutil.MustWriteFile(t, filepath.Join(dir, ConfigFileName), `download: timeout: "soon"`)
		if _, err := load(t, LoadOptions{ConfigDirPath: dir}); err == nil {
			t.Error("Load() error = nil, want schema error")
		}
	})

	t.Run("missing explicit file", func(t *testing.T) {
		_, err := load(t, LoadOptions{ConfigFilePath: filepath.Join(t.TempDir(), "nope.cue")})
		if err == nil || !strings.Contains(err.Error(), "config file not found") {
			t.Fatalf("Load() error = %v", err)
		}
		ae, ok := issue.AsActionable(err)
		if !ok || !ae.HasSuggestions() || len(ae.Suggestions) != 2 {
			t.Errorf("suggestions = %v, want 2", ae)
		}
	})

	t.Run("invalid environment value", func(t *testing.T) {
		t.Cleanup(testutil.MustSetenv(t, "BUILDMC_VERSION_META_INDEX_URL", "ftp://example.com/index.json"))
		_, err := load(t, LoadOptions{})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Load() error = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestConfigDirOverride(t *testing.T) {
	dir := t.TempDir()
	SetConfigDirOverride(dir)
	t.Cleanup(func() { SetConfigDirOverride("") })

	got, err := ConfigDir()
	if err != nil || got != dir {
		t.Errorf("ConfigDir() = %q, %v, want %q", got, err, dir)
	}
}

func TestBuildmcRoot(t *testing.T) {
	cfg := DefaultConfig()
	project := filepath.Join(string(filepath.Separator), "work", "pack")
	if got, want := cfg.BuildmcRoot(project), filepath.Join(project, "buildmc_root"); got != want {
		t.Errorf("BuildmcRoot() = %q, want %q", got, want)
	}

	abs := filepath.Join(t.TempDir(), "elsewhere")
	cfg.RootDir = abs
	if got := cfg.BuildmcRoot(project); got != abs {
		t.Errorf("BuildmcRoot() = %q, want %q", got, abs)
	}
}

func TestDownloadOptions(t *testing.T) {
	cfg := DefaultConfig()
	opts := cfg.DownloadOptions(nil)
	if opts.Retries != 3 || opts.BytesPerSecond != 8<<20 || opts.Client == nil || opts.Client.Timeout != DefaultTimeout {
		t.Errorf("DownloadOptions() = %+v", opts)
	}

	cfg.Download.Timeout = 0
	if opts := cfg.DownloadOptions(nil); opts.Client != nil {
		t.Error("zero timeout should keep the default client")
	}
}

func TestGenerateCUERoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RootDir = "custom"
	cfg.Download.Retries = 9

	dir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dir, ConfigFileName), GenerateCUE(cfg))

	got, err := load(t, LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if *got.Config != *cfg {
		t.Errorf("Config = %+v, want %+v", got.Config, cfg)
	}
}
