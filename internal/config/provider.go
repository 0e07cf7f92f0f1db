// SPDX-License-Identifier: MPL-2.0

package config

import "context"

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a single config file when set.
	ConfigFilePath string
	// ConfigDirPath overrides ConfigDir when set.
	ConfigDirPath string
	// ProjectDir is searched for config.cue and .env when set.
	ProjectDir string
}

type (
	// Provider loads configuration from explicit options.
	Provider interface {
		Load(ctx context.Context, opts LoadOptions) (*Config, error)
	}

	// Loaded is a configuration together with the files it was read from.
	Loaded struct {
		*Config
		Sources []string
	}

	fileProvider struct{}
)

// NewProvider creates a configuration provider backed by config files.
func NewProvider() Provider {
	return &fileProvider{}
}

// Load reads configuration from the requested sources.
func (p *fileProvider) Load(ctx context.Context, opts LoadOptions) (*Config, error) {
	cfg, _, err := loadWithOptions(ctx, opts)
	return cfg, err
}

// LoadWithSources is Load also reporting which files were read.
func LoadWithSources(ctx context.Context, opts LoadOptions) (*Loaded, error) {
	cfg, sources, err := loadWithOptions(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &Loaded{Config: cfg, Sources: sources}, nil
}
