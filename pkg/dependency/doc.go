// SPDX-License-Identifier: MPL-2.0

// Package dependency resolves a project's declared pack dependencies into
// managed directories under the buildmc root.
//
// Each configured Dependency has exactly one Source (local path, URL archive or
// Git repository). A Source produces an Identity, a structural fingerprint that
// is persisted in index.json next to the managed directories. On every run the
// Index first repairs the on-disk state (every directory carries a UUID marker
// matching exactly one index entry), then pairs configured dependencies with
// entries by name, then by identity alone (renames), deletes what is no longer
// configured and acquires what is new. Acquisition is sequential and fail-fast.
package dependency
