// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helpers for tests: process state (environment,
// home directory), filesystem fixtures and pack fixtures
// (pack.mcmeta trees, ZIP archives, Git repositories).
package testutil
