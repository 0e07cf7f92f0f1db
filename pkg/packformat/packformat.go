// SPDX-License-Identifier: MPL-2.0

// Package packformat maps Minecraft version names to pack format numbers
// using the published version metadata index.
package packformat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/download"
)

const (
	// Data selects data pack formats.
	Data PackType = "data"
	// Resource selects resource pack formats.
	Resource PackType = "resource"

	// DefaultIndexURL is the published version metadata index.
	DefaultIndexURL = "https://codeberg.org/helmo2019/buildmc/raw/branch/main/version_meta_data.json"

	// IndexFileName is the cached copy of the index inside the meta cache.
	IndexFileName = "version_meta.json"

	memoSize = 128
)

var (
	// ErrInvalidPackType is the sentinel error wrapped by InvalidPackTypeError.
	ErrInvalidPackType = errors.New("invalid pack type")
	// ErrUnknownVersion is returned when the index has no entry for a version.
	ErrUnknownVersion = errors.New("unknown version")
	// ErrInvalidIndex is returned when the index cannot be used.
	ErrInvalidIndex = errors.New("invalid version metadata index")

	aliases = map[string]string{
		"1.14.2-pre4": "1.14.2 Pre-Release 4",
		"1.14.2-pre3": "1.14.2 Pre-Release 3",
		"1.14.2-pre2": "1.14.2 Pre-Release 2",
		"1.14.2-pre1": "1.14.2 Pre-Release 1",

		"1.14.1-pre2": "1.14.1 Pre-Release 2",
		"1.14.1-pre1": "1.14.1 Pre-Release 1",

		"1.14-pre5": "1.14 Pre-Release 5",
		"1.14-pre4": "1.14 Pre-Release 4",
		"1.14-pre3": "1.14 Pre-Release 3",
		"1.14-pre2": "1.14 Pre-Release 2",
		"1.14-pre1": "1.14 Pre-Release 1",

		"potato_update":       "24w14potato",
		"vote_update":         "23w13a_or_b",
		"one_block_at_a_time": "22w13oneblockatatime",
		"infinite":            "20w14infinite",
		"3d_shareware":        "3D Shareware v1.34",
	}
)

type (
	// PackType is either Data or Resource.
	PackType string

	// InvalidPackTypeError is returned for unknown pack types.
	InvalidPackTypeError struct {
		Value PackType
	}

	// Lookup resolves a version name to a pack format.
	Lookup interface {
		PackFormat(ctx context.Context, version string, packType PackType) (int, error)
	}

	// IndexLookup reads the version metadata index from the meta cache and
	// downloads it when the cached copy is missing, unreadable or stale.
	IndexLookup struct {
		cache    *cache.Cache
		indexURL string
		download download.Options
		logger   *log.Logger
		memo     *lru.Cache[memoKey, int]
	}

	memoKey struct {
		version  string
		packType PackType
	}

	// versionMeta is one index entry. PackVersion is an integer shared by
	// both pack types or an object with "data" and "resource".
	versionMeta struct {
		PackVersion json.RawMessage `json:"pack_version"`
	}
)

// Error implements the error interface.
func (e *InvalidPackTypeError) Error() string {
	return fmt.Sprintf("invalid pack type '%s' (must be data or resource)", e.Value)
}

// Unwrap returns ErrInvalidPackType.
func (e *InvalidPackTypeError) Unwrap() error { return ErrInvalidPackType }

// Validate returns an *InvalidPackTypeError for anything but Data and Resource.
func (t PackType) Validate() error {
	if t != Data && t != Resource {
		return &InvalidPackTypeError{Value: t}
	}
	return nil
}

// String returns the pack type.
func (t PackType) String() string { return string(t) }

// MinFormat is the lowest pack format a pack of this type can declare.
func (t PackType) MinFormat() int {
	if t == Data {
		return 4
	}
	return 1
}

// RealVersionName resolves an alias to the name used in the index.
func RealVersionName(version string) string {
	if name, ok := aliases[version]; ok {
		return name
	}
	return version
}

// NewIndexLookup returns a lookup that caches the index in c's meta directory.
// An empty indexURL means DefaultIndexURL.
func NewIndexLookup(c *cache.Cache, indexURL string, opts download.Options, logger *log.Logger) (*IndexLookup, error) {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	memo, err := lru.New[memoKey, int](memoSize)
	if err != nil {
		return nil, err
	}
	return &IndexLookup{cache: c, indexURL: indexURL, download: opts, logger: logger, memo: memo}, nil
}

// PackFormat returns the pack format of version for packType.
func (l *IndexLookup) PackFormat(ctx context.Context, version string, packType PackType) (int, error) {
	if err := packType.Validate(); err != nil {
		return 0, err
	}
	name := RealVersionName(version)
	key := memoKey{version: name, packType: packType}
	if v, ok := l.memo.Get(key); ok {
		return v, nil
	}

	dir, err := l.cache.Get(cache.Meta, false)
	if err != nil {
		return 0, err
	}
	path := filepath.Join(dir, IndexFileName)

	index, err := readIndex(path)
	if err != nil || !hasVersion(index, name) {
		if err != nil {
			l.logger.Debug("cached version index unusable", "path", path, "err", err)
		}
		if err := l.refresh(ctx, path); err != nil {
			return 0, err
		}
		if index, err = readIndex(path); err != nil {
			return 0, err
		}
	}

	meta, ok := index[name]
	if !ok {
		return 0, fmt.Errorf("%w: '%s'. Is it spelled correctly? Is it listed in Mojang's version manifest?", ErrUnknownVersion, version)
	}
	format, err := meta.format(packType)
	if err != nil {
		return 0, fmt.Errorf("version '%s': %w", version, err)
	}

	l.memo.Add(key, format)
	return format, nil
}

// refresh downloads the index next to path and renames it into place.
func (l *IndexLookup) refresh(ctx context.Context, path string) error {
	l.logger.Info("updating version metadata index", "url", l.indexURL)

	tmp, err := os.CreateTemp(filepath.Dir(path), IndexFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // No-op after a successful rename

	opts := l.download
	opts.Logger = l.logger
	err = download.Download(ctx, tmp, l.indexURL, opts)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("unable to obtain version metadata index: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to store version metadata index: %w", err)
	}
	return nil
}

func readIndex(path string) (map[string]versionMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var index map[string]versionMeta
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIndex, err)
	}
	return index, nil
}

func hasVersion(index map[string]versionMeta, version string) bool {
	_, ok := index[version]
	return ok
}

func (m versionMeta) format(packType PackType) (int, error) {
	var single int
	if err := json.Unmarshal(m.PackVersion, &single); err == nil {
		return single, nil
	}
	var split map[PackType]int
	if err := json.Unmarshal(m.PackVersion, &split); err != nil {
		return 0, fmt.Errorf("%w: malformed pack_version", ErrInvalidIndex)
	}
	v, ok := split[packType]
	if !ok {
		return 0, fmt.Errorf("%w: no %s pack format", ErrInvalidIndex, packType)
	}
	return v, nil
}
