// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"codeberg.org/helmo2019/buildmc/internal/issue"
	"codeberg.org/helmo2019/buildmc/pkg/cueutil"
)

const (
	// AppName names the configuration directory.
	AppName = "buildmc"
	// ConfigFileName is the name of the config file.
	ConfigFileName = "config.cue"
	// EnvPrefix prefixes environment overrides, e.g. BUILDMC_DOWNLOAD_RETRIES.
	EnvPrefix = "BUILDMC"
	// DotEnvFileName is loaded from the project directory.
	DotEnvFileName = ".env"
)

var (
	//go:embed config_schema.cue
	configSchema []byte

	// configDirOverride replaces ConfigDir in tests, where os.UserHomeDir
	// does not reliably follow HOME.
	configDirOverride string
)

type fileConfig struct {
	RootDir  *string `json:"root_dir,omitempty"`
	Download *struct {
		BytesPerSecond *int64  `json:"bytes_per_second,omitempty"`
		Retries        *int    `json:"retries,omitempty"`
		Timeout        *string `json:"timeout,omitempty"`
	} `json:"download,omitempty"`
	VersionMetaIndexURL *string `json:"version_meta_index_url,omitempty"`
	Git                 *struct {
		Binary *string `json:"binary,omitempty"`
	} `json:"git,omitempty"`
}

// SetConfigDirOverride makes ConfigDir return dir. An empty dir clears it.
func SetConfigDirOverride(dir string) {
	configDirOverride = dir
}

// ConfigDir returns the user configuration directory for buildmc: %APPDATA%
// on Windows, ~/Library/Application Support on macOS and $XDG_CONFIG_HOME
// (default ~/.config) elsewhere.
//
//nolint:revive // config.ConfigDir reads better at call sites than config.Dir
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, "Library", "Application Support")
	default:
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, AppName), nil
}

// loadWithOptions returns the configuration and the files it was read from.
func loadWithOptions(ctx context.Context, opts LoadOptions) (*Config, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("load config canceled: %w", err)
	}

	if opts.ProjectDir != "" {
		envPath := filepath.Join(opts.ProjectDir, DotEnvFileName)
		// godotenv.Load keeps variables that are already set.
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load environment file").
				WithResource(envPath).
				WithSuggestion("Use KEY=value lines, one per variable").
				Wrap(err).
				BuildError()
		}
	}

	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("root_dir", defaults.RootDir)
	v.SetDefault("download.bytes_per_second", defaults.Download.BytesPerSecond)
	v.SetDefault("download.retries", defaults.Download.Retries)
	v.SetDefault("download.timeout", defaults.Download.Timeout.String())
	v.SetDefault("version_meta_index_url", defaults.VersionMetaIndexURL)
	v.SetDefault("git.binary", defaults.Git.Binary)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var sources []string
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestions(
					"Verify the file path is correct",
					"Use 'buildmc config show' to see the default configuration",
				).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		sources = append(sources, opts.ConfigFilePath)
	} else {
		dir := opts.ConfigDirPath
		if dir == "" {
			var err error
			if dir, err = ConfigDir(); err != nil {
				return nil, nil, err
			}
		}
		candidates := []string{filepath.Join(dir, ConfigFileName)}
		if opts.ProjectDir != "" {
			// Project settings override user settings.
			candidates = append(candidates, filepath.Join(opts.ProjectDir, ConfigFileName))
		}
		for _, candidate := range candidates {
			if fileExists(candidate) {
				sources = append(sources, candidate)
			}
		}
	}

	for _, path := range sources {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestions(
					"Check that the file contains valid CUE syntax",
					"Verify the values match the documented configuration keys",
				).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Check the " + EnvPrefix + "_* environment variables").
			Wrap(err).
			BuildError()
	}
	return &cfg, sources, nil
}

// loadCUEIntoViper validates a config file against #Config and merges the
// fields it sets into v.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	res, err := cueutil.ParseAndDecode[fileConfig](configSchema, data, "#Config",
		cueutil.WithFilename(path), cueutil.WithConcrete(false))
	if err != nil {
		return err
	}
	f := res.Value

	m := map[string]any{}
	if f.RootDir != nil {
		m["root_dir"] = *f.RootDir
	}
	if f.Download != nil {
		dl := map[string]any{}
		if f.Download.BytesPerSecond != nil {
			dl["bytes_per_second"] = *f.Download.BytesPerSecond
		}
		if f.Download.Retries != nil {
			dl["retries"] = *f.Download.Retries
		}
		if f.Download.Timeout != nil {
			d, err := time.ParseDuration(*f.Download.Timeout)
			if err != nil {
				return fmt.Errorf("%s: download.timeout: %w", path, err)
			}
			dl["timeout"] = d.String()
		}
		m["download"] = dl
	}
	if f.VersionMetaIndexURL != nil {
		m["version_meta_index_url"] = *f.VersionMetaIndexURL
	}
	if f.Git != nil && f.Git.Binary != nil {
		m["git"] = map[string]any{"binary": *f.Git.Binary}
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// GenerateCUE renders cfg in config.cue syntax.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder
	sb.WriteString("// buildmc configuration\n\n")
	fmt.Fprintf(&sb, "root_dir: %q\n", cfg.RootDir)
	sb.WriteString("\ndownload: {\n")
	fmt.Fprintf(&sb, "\tbytes_per_second: %d\n", cfg.Download.BytesPerSecond)
	fmt.Fprintf(&sb, "\tretries:          %d\n", cfg.Download.Retries)
	fmt.Fprintf(&sb, "\ttimeout:          %q\n", cfg.Download.Timeout.String())
	sb.WriteString("}\n")
	fmt.Fprintf(&sb, "\nversion_meta_index_url: %q\n", cfg.VersionMetaIndexURL)
	sb.WriteString("\ngit: {\n")
	fmt.Fprintf(&sb, "\tbinary: %q\n", cfg.Git.Binary)
	sb.WriteString("}\n")
	return sb.String()
}
