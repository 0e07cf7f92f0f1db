// SPDX-License-Identifier: MPL-2.0

// Package project loads buildmc.cue, the file describing a pack project.
//
// Loading resolves the pack format through a [packformat.Lookup], builds the
// variable table used by %{variable} processing and turns each declared
// dependency into a [dependency.Dependency]. Problems with a single object are
// recorded with [Project.Fail] and its siblings are still processed, so one
// run reports every configuration error at once.
package project
