// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/download"
)

// downloadFileName is the scratch file URL archives are written to.
const downloadFileName = "download_file.zip"

var (
	// ErrInvalidRoot is returned for in-archive or in-repository roots that are
	// absolute or climb out of the source.
	ErrInvalidRoot = errors.New("invalid root")
	// ErrInvalidURL is returned for unusable download or repository URLs.
	ErrInvalidURL = errors.New("invalid URL")
	// ErrInvalidChecksum is returned for malformed SHA-256 digests.
	ErrInvalidChecksum = errors.New("invalid sha256 checksum")
	// ErrSourceNotFound is returned when a local source path does not exist.
	ErrSourceNotFound = errors.New("local source not found")

	sha256Pattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

type (
	// LocalSource is a directory or ZIP archive on the local filesystem.
	// It is never modified or removed by acquisition.
	LocalSource struct {
		// Path is absolute.
		Path string
		// RelativePath is Path relative to the project directory, slash separated.
		RelativePath string
		FileType     FileType
		// ArchiveRoot selects a directory inside a ZIP archive. Ignored for directories.
		ArchiveRoot string
	}

	// URLSource is a ZIP archive downloaded over HTTP.
	URLSource struct {
		URL string
		// Root selects a directory inside the archive.
		Root string
		// SHA256 is the expected lowercase hex digest of the archive, if any.
		SHA256 string
	}
)

// NewLocalSource resolves path against projectDir, records whether it is a
// file or a directory and normalises archiveRoot. A leading "~/" expands to
// the user's home directory.
func NewLocalSource(p, projectDir, archiveRoot string) (*LocalSource, error) {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to expand '~': %w", err)
		}
		p = filepath.Join(home, rest)
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(projectDir, p)
	}

	abs, err := resolvePath(p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %w", ErrSourceNotFound, abs, err)
	}

	base, err := resolvePath(projectDir)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		rel = abs
	}

	s := &LocalSource{Path: abs, RelativePath: filepath.ToSlash(rel), FileType: FileTypeDirectory}
	if !info.IsDir() {
		s.FileType = FileTypeFile
		if s.ArchiveRoot, err = cleanRoot(archiveRoot); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// resolvePath makes p absolute and resolves symlinks where possible.
func resolvePath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path '%s': %w", p, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// Kind returns KindLocal.
func (s *LocalSource) Kind() Kind { return KindLocal }

// Identity returns the local fingerprint. ArchiveRoot is recorded for archives only.
func (s *LocalSource) Identity() Identity {
	id := Identity{
		Type:         KindLocal,
		PathAbsolute: s.Path,
		PathRelative: s.RelativePath,
		FileType:     s.FileType,
	}
	if s.FileType == FileTypeFile {
		id.ArchiveRoot = s.ArchiveRoot
	}
	return id
}

// Validate checks that the source was resolved.
func (s *LocalSource) Validate() error {
	if !filepath.IsAbs(s.Path) {
		return fmt.Errorf("%w: local path '%s' is not absolute", ErrSourceNotFound, s.Path)
	}
	if s.FileType != FileTypeDirectory && s.FileType != FileTypeFile {
		return fmt.Errorf("invalid file type '%s'", s.FileType)
	}
	_, err := cleanRoot(s.ArchiveRoot)
	return err
}

func (s *LocalSource) stage(_ context.Context, _ *Index, _ Name) (staged, error) {
	st := staged{path: s.Path}
	if s.FileType == FileTypeFile {
		st.archiveRoot = s.ArchiveRoot
	}
	return st, nil
}

// NewURLSource normalises root and checksum and validates the source.
func NewURLSource(rawURL, root, sha256 string) (*URLSource, error) {
	r, err := cleanRoot(root)
	if err != nil {
		return nil, err
	}
	s := &URLSource{URL: rawURL, Root: r, SHA256: strings.ToLower(strings.TrimSpace(sha256))}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Kind returns KindURL.
func (s *URLSource) Kind() Kind { return KindURL }

// Identity returns the URL fingerprint.
func (s *URLSource) Identity() Identity {
	return Identity{Type: KindURL, URL: s.URL, Root: s.Root, SHA256: s.SHA256}
}

// Validate requires an http(s) URL and, when set, a 64 digit hex checksum.
func (s *URLSource) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: '%s' (must be an http or https URL)", ErrInvalidURL, s.URL)
	}
	if s.SHA256 != "" && !sha256Pattern.MatchString(s.SHA256) {
		return fmt.Errorf("%w: '%s'", ErrInvalidChecksum, s.SHA256)
	}
	_, err = cleanRoot(s.Root)
	return err
}

func (s *URLSource) stage(ctx context.Context, x *Index, name Name) (staged, error) {
	dir, err := x.cache.Get(cache.Download, true)
	if err != nil {
		return staged{}, err
	}
	target := filepath.Join(dir, downloadFileName)

	f, err := os.Create(target)
	if err != nil {
		return staged{}, fmt.Errorf("failed to create download file: %w", err)
	}

	opts := x.download
	opts.Checksum = s.SHA256
	opts.Algorithm = download.SHA256
	opts.Logger = x.logger.With("dependency", name)

	x.logger.Debug("downloading", "dependency", name, "url", s.URL)
	dlErr := download.Download(ctx, f, s.URL, opts)
	if closeErr := f.Close(); dlErr == nil && closeErr != nil {
		dlErr = closeErr
	}
	if dlErr != nil {
		return staged{}, dlErr
	}
	return staged{path: target, removable: true, archiveRoot: s.Root}, nil
}

// cleanRoot normalises an in-source root to a clean slash path. "" and "."
// both mean no root.
func cleanRoot(root string) (string, error) {
	if root == "" {
		return "", nil
	}
	r := path.Clean(filepath.ToSlash(root))
	if r == "." {
		return "", nil
	}
	if path.IsAbs(r) || filepath.IsAbs(root) || r == ".." || strings.HasPrefix(r, "../") {
		return "", fmt.Errorf("%w: '%s' must be a relative path inside the source", ErrInvalidRoot, root)
	}
	return r, nil
}
