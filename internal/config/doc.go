// SPDX-License-Identifier: MPL-2.0

// Package config loads the buildmc tool configuration.
//
// Settings come from, in increasing priority: built-in defaults, config.cue
// in the user configuration directory, config.cue in the project directory and
// BUILDMC_* environment variables. A .env file in the project directory is
// loaded into the environment first without overriding variables that are
// already set. Files are validated against the embedded #Config schema.
package config
