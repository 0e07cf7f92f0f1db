// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the buildmc command tree.
//
// Every task opens a session: it loads the tool configuration, sets up the
// logger and the cache below the buildmc root and, when the task needs it,
// loads buildmc.cue and the dependency index. Closing the session saves the
// index when dependencies were resolved and empties the scratch caches.
package cmd
