// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/download"
	"codeberg.org/helmo2019/buildmc/pkg/mcmeta"
)

const (
	// ManagedDirName is the directory below the buildmc root holding managed dependencies.
	ManagedDirName = "dependencies"
	// IndexFileName is the index stored in the managed root.
	IndexFileName = "index.json"
	// MarkerFileName is the UUID marker stored in every managed directory.
	MarkerFileName = ".buildmc_dependency_uuid"

	renamePrefix = ".rename-"
)

// ErrNoManagedDirectory is returned by Save for dependencies that were never resolved.
var ErrNoManagedDirectory = errors.New("dependency has no managed directory")

type (
	// Options configures an Index.
	Options struct {
		// Root is the managed root, usually ManagedRoot(<buildmc root>).
		Root   string
		Cache  *cache.Cache
		Logger *log.Logger
		// Download carries rate limit, retries and client for URL sources.
		Download download.Options
		// GitBinary defaults to DefaultGitBinary.
		GitBinary string
		// PackFormat is the project's pack format, used by version checks.
		PackFormat int
	}

	// Entry is one persisted index record.
	Entry struct {
		Name     Name     `json:"name"`
		Identity Identity `json:"identity"`
		UUID     string   `json:"uuid"`
	}

	indexFile struct {
		Dependencies []Entry `json:"dependencies"`
	}

	// Index maps managed directories to configured dependencies.
	Index struct {
		root       string
		cache      *cache.Cache
		logger     *log.Logger
		download   download.Options
		git        *gitRunner
		packFormat int

		entries []Entry
		deps    []*Dependency
	}

	// record is an entry paired with the directory carrying its UUID.
	record struct {
		Entry
		dir     string
		claimed bool
	}

	pairing struct {
		dep *Dependency
		rec *record
	}
)

// ManagedRoot returns <buildmcRoot>/dependencies, creating it and replacing a
// regular file squatting the path.
func ManagedRoot(buildmcRoot string, logger *log.Logger) (string, error) {
	dir := filepath.Join(buildmcRoot, ManagedDirName)
	if info, err := os.Lstat(dir); err == nil && !info.IsDir() {
		if logger != nil {
			logger.Warn("dependency destination exists but is not a directory, removing", "path", dir)
		}
		if err := os.Remove(dir); err != nil {
			return "", fmt.Errorf("failed to remove '%s': %w", dir, err)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dependency directory: %w", err)
	}
	return dir, nil
}

// Open creates the managed root if needed and loads its index. A missing or
// unreadable index yields an empty one.
func Open(opts Options) (*Index, error) {
	if opts.Root == "" {
		return nil, errors.New("managed root not set")
	}
	if opts.Cache == nil {
		return nil, errors.New("cache not set")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dependency directory: %w", err)
	}

	x := &Index{
		root:       opts.Root,
		cache:      opts.Cache,
		logger:     logger,
		download:   opts.Download,
		git:        newGitRunner(opts.GitBinary, logger),
		packFormat: opts.PackFormat,
	}

	data, err := os.ReadFile(filepath.Join(opts.Root, IndexFileName))
	if err == nil {
		var f indexFile
		if jsonErr := json.Unmarshal(data, &f); jsonErr != nil {
			logger.Warn("ignoring unreadable dependency index", "err", jsonErr)
		} else {
			x.entries = f.Dependencies
		}
	}
	return x, nil
}

// Root returns the managed root.
func (x *Index) Root() string { return x.root }

// Entries returns a copy of the current index entries.
func (x *Index) Entries() []Entry { return slices.Clone(x.entries) }

// Add registers a configured dependency. Names must be unique.
func (x *Index) Add(d *Dependency) error {
	if err := d.Validate(); err != nil {
		return err
	}
	for _, other := range x.deps {
		if other.Name == d.Name {
			return fmt.Errorf("%w: '%s'", ErrDuplicateName, d.Name)
		}
	}
	x.deps = append(x.deps, d)
	return nil
}

// Dependencies returns the configured dependencies in configuration order.
func (x *Index) Dependencies() []*Dependency { return slices.Clone(x.deps) }

// Resolve reconciles the managed root with the configured dependencies and
// acquires what is missing. It stops at the first acquisition or version
// check failure, leaving no managed directory for the failed dependency.
func (x *Index) Resolve(ctx context.Context) error {
	records, err := x.reconcile()
	if err != nil {
		return err
	}

	var pairs []pairing
	var unmatched, fresh []*Dependency

	// By name, the common case.
	for _, d := range x.deps {
		if r := findRecord(records, func(r *record) bool {
			return r.Name == d.Name && d.MatchesIdentity(r.Identity)
		}); r != nil {
			r.claimed = true
			pairs = append(pairs, pairing{dep: d, rec: r})
		} else {
			unmatched = append(unmatched, d)
		}
	}

	// By identity alone: the dependency was renamed.
	for _, d := range unmatched {
		if r := findRecord(records, func(r *record) bool { return d.MatchesIdentity(r.Identity) }); r != nil {
			x.logger.Info("dependency renamed", "from", r.Name, "to", d.Name)
			r.claimed = true
			pairs = append(pairs, pairing{dep: d, rec: r})
		} else {
			fresh = append(fresh, d)
		}
	}

	if err := x.settle(pairs, records); err != nil {
		return err
	}

	// Local sources can change without changing their identity.
	stale := make(map[Name]bool)
	for _, p := range pairs {
		local, ok := p.dep.Source.(*LocalSource)
		if !ok || x.localCurrent(p.dep.Name, local, p.rec.dir) {
			continue
		}
		x.logger.Info("local dependency source changed", "dependency", p.dep.Name)
		stale[p.dep.Name] = true
	}
	if len(stale) > 0 {
		x.entries = slices.DeleteFunc(x.entries, func(e Entry) bool { return stale[e.Name] })
		for _, d := range x.deps {
			if stale[d.Name] {
				fresh = append(fresh, d)
			}
		}
		// Keep configured order across new and changed dependencies.
		order := make(map[Name]int, len(x.deps))
		for i, d := range x.deps {
			order[d.Name] = i
		}
		slices.SortFunc(fresh, func(a, b *Dependency) int { return order[a.Name] - order[b.Name] })
	}

	for _, d := range fresh {
		if err := ctx.Err(); err != nil {
			return err
		}
		x.logger.Info("acquiring", "dependency", d.Name)
		if err := x.acquire(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// settle moves every paired directory to its dependency's name and deletes the
// directories of unclaimed records. Renamed directories go through a
// temporary name so swapped names cannot collide.
func (x *Index) settle(pairs []pairing, records []*record) error {
	for _, p := range pairs {
		if p.rec.dir == x.dirOf(p.dep.Name) {
			continue
		}
		tmp := filepath.Join(x.root, renamePrefix+uuid.NewString())
		if err := os.Rename(p.rec.dir, tmp); err != nil {
			return fmt.Errorf("failed to rename dependency files of '%s': %w", p.rec.Name, err)
		}
		p.rec.dir = tmp
	}

	for _, r := range records {
		if r.claimed {
			continue
		}
		x.logger.Warn("removing unused dependency", "dependency", r.Name, "uuid", r.UUID)
		if err := os.RemoveAll(r.dir); err != nil {
			return fmt.Errorf("failed to remove unused dependency '%s': %w", r.Name, err)
		}
	}

	entries := make([]Entry, 0, len(pairs))
	for _, p := range pairs {
		final := x.dirOf(p.dep.Name)
		if p.rec.dir != final {
			if _, err := os.Lstat(final); err == nil {
				x.logger.Warn("removing unexpected file", "path", final)
				if err := os.RemoveAll(final); err != nil {
					return fmt.Errorf("failed to remove '%s': %w", final, err)
				}
			}
			if err := os.Rename(p.rec.dir, final); err != nil {
				return fmt.Errorf("failed to rename dependency files to '%s': %w", p.dep.Name, err)
			}
			p.rec.dir = final
		}
		p.rec.Name = p.dep.Name
		p.dep.location = final
		entries = append(entries, p.rec.Entry)
	}
	x.entries = entries
	return nil
}

// acquire stages, places and optionally version checks one dependency.
func (x *Index) acquire(ctx context.Context, d *Dependency) error {
	d.location = ""
	fail := func(op string, err error) error {
		if rmErr := os.RemoveAll(x.dirOf(d.Name)); rmErr != nil {
			x.logger.Warn("failed to remove partial dependency files", "dependency", d.Name, "err", rmErr)
		}
		x.logger.Error("unable to acquire dependency", "dependency", d.Name, "err", err)
		return &AcquireError{Dependency: d.Name, Op: op, Err: err}
	}

	st, err := d.Source.stage(ctx, x, d.Name)
	if err != nil {
		return fail("fetch", err)
	}
	location, err := x.place(d.Name, st)
	if err != nil {
		return fail("place", err)
	}

	if d.VersionCheck {
		if err := x.versionCheck(d, location); err != nil {
			return fail("version check", err)
		}
	}
	d.location = location
	return nil
}

func (x *Index) versionCheck(d *Dependency, location string) error {
	if x.packFormat < 1 {
		return &mcmeta.IncompatibleError{
			Dependency: string(d.Name),
			Err:        errors.New("pack format is not set or invalid"),
		}
	}
	return mcmeta.Check(string(d.Name), filepath.Join(location, mcmeta.FileName), x.packFormat)
}

// reconcile makes directories and entries correspond one to one. Directories
// without a readable marker, directories sharing a UUID and directories no
// entry refers to are deleted. Entries without a directory are dropped.
func (x *Index) reconcile() ([]*record, error) {
	dirEntries, err := os.ReadDir(x.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency directory: %w", err)
	}

	byUUID := make(map[string]string)
	duplicates := make(map[string]bool)
	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(x.root, de.Name())

		id, err := readMarker(dir)
		if err != nil {
			x.logger.Warn("unable to read UUID file in dependency files, deleting", "path", dir, "err", err)
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("failed to remove '%s': %w", dir, err)
			}
			continue
		}

		if duplicates[id] {
			x.logger.Warn("duplicate UUID, deleting", "path", dir, "uuid", id)
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("failed to remove '%s': %w", dir, err)
			}
			continue
		}
		if seen, ok := byUUID[id]; ok {
			x.logger.Warn("duplicate UUIDs, deleting both", "path", dir, "other", seen, "uuid", id)
			for _, p := range []string{dir, seen} {
				if err := os.RemoveAll(p); err != nil {
					return nil, fmt.Errorf("failed to remove '%s': %w", p, err)
				}
			}
			delete(byUUID, id)
			duplicates[id] = true
			continue
		}
		byUUID[id] = dir
	}

	var records []*record
	kept := x.entries[:0:0]
	for _, e := range x.entries {
		dir, ok := byUUID[e.UUID]
		if !ok || e.UUID == "" {
			x.logger.Warn("removing orphaned index entry", "dependency", e.Name, "uuid", e.UUID)
			continue
		}
		delete(byUUID, e.UUID)
		kept = append(kept, e)
		records = append(records, &record{Entry: e, dir: dir})
	}
	x.entries = kept

	for id, dir := range byUUID {
		x.logger.Warn("removing orphaned dependency files", "path", dir, "uuid", id)
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("failed to remove '%s': %w", dir, err)
		}
	}
	return records, nil
}

func readMarker(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFileName))
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", errors.New("empty UUID file")
	}
	return id, nil
}

func findRecord(records []*record, match func(*record) bool) *record {
	for _, r := range records {
		if !r.claimed && match(r) {
			return r
		}
	}
	return nil
}

func (x *Index) dirOf(name Name) string {
	return filepath.Join(x.root, string(name))
}

// Save writes a fresh UUID into every configured dependency's managed
// directory and rewrites the index from the configured dependencies.
func (x *Index) Save() error {
	entries := make([]Entry, 0, len(x.deps))
	for _, d := range x.deps {
		dir := x.dirOf(d.Name)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("%w: '%s'", ErrNoManagedDirectory, d.Name)
		}

		id := uuid.NewString()
		if err := os.WriteFile(filepath.Join(dir, MarkerFileName), []byte(id), 0o644); err != nil {
			return fmt.Errorf("failed to write UUID file for '%s': %w", d.Name, err)
		}
		entries = append(entries, Entry{Name: d.Name, Identity: d.Identity(), UUID: id})
	}

	data, err := json.MarshalIndent(indexFile{Dependencies: entries}, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}

	path := filepath.Join(x.root, IndexFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath) // Best-effort cleanup of temp file
		return fmt.Errorf("failed to rename index: %w", err)
	}

	x.entries = entries
	return nil
}

// Purge deletes every managed directory and the index.
func (x *Index) Purge() error {
	dirEntries, err := os.ReadDir(x.root)
	if err != nil {
		return fmt.Errorf("failed to read dependency directory: %w", err)
	}
	for _, de := range dirEntries {
		if err := os.RemoveAll(filepath.Join(x.root, de.Name())); err != nil {
			return fmt.Errorf("failed to remove '%s': %w", de.Name(), err)
		}
	}
	x.entries = nil
	for _, d := range x.deps {
		d.location = ""
	}
	return nil
}
