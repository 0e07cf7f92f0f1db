// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/mcmeta"
)

// place validates the staged files and moves or copies them into the managed
// directory of name, returning that directory.
func (x *Index) place(name Name, st staged) (string, error) {
	info, err := os.Stat(st.path)
	if err != nil {
		return "", fmt.Errorf("failed to stat '%s': %w", st.path, err)
	}

	src := st.path
	removable := st.removable
	if !info.IsDir() {
		if src, err = x.unpack(name, st.path, st.archiveRoot); err != nil {
			return "", err
		}
		// The unpack directory is scratch space.
		removable = true
	}

	if info, err := os.Stat(filepath.Join(src, mcmeta.FileName)); err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: dependency '%s' is missing %s", ErrMissingManifest, name, mcmeta.FileName)
	}

	dest := filepath.Join(x.root, string(name))
	if info, err := os.Lstat(dest); err == nil {
		if info.IsDir() && sameContent(src, dest) {
			x.logger.Info("dependency already acquired", "dependency", name)
			return dest, nil
		}
		x.logger.Warn("replacing stale dependency files", "dependency", name, "path", dest)
		if err := os.RemoveAll(dest); err != nil {
			return "", fmt.Errorf("failed to remove '%s': %w", dest, err)
		}
	}

	if removable {
		err = moveDir(src, dest)
	} else {
		err = copyDir(src, dest)
	}
	if err != nil {
		_ = os.RemoveAll(dest) // Best-effort cleanup of a partial copy
		return "", fmt.Errorf("failed to place files into '%s': %w", dest, err)
	}
	return dest, nil
}

// unpack extracts a ZIP archive into the unpack scratch directory. With a
// root, only entries below it are kept, re-rooted at the top. Entries that
// would land outside the scratch directory are skipped.
func (x *Index) unpack(name Name, archivePath, root string) (dir string, err error) {
	// Non-local entry names are filtered below, so ErrInsecurePath is not fatal.
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return "", fmt.Errorf("failed to open ZIP file: %w", err)
	}
	defer func() {
		if closeErr := zr.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	prefix := ""
	if root != "" {
		prefix = root + "/"
	}

	hasManifest := false
	for _, f := range zr.File {
		if !f.FileInfo().IsDir() && f.Name == prefix+mcmeta.FileName {
			hasManifest = true
			break
		}
	}
	if !hasManifest {
		return "", fmt.Errorf("%w: archive of dependency '%s' has no %s%s", ErrMissingManifest, name, prefix, mcmeta.FileName)
	}

	workDir, err := x.cache.Get(cache.Unpack, true)
	if err != nil {
		return "", err
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		rel := path.Clean(strings.ReplaceAll(f.Name, `\`, "/"))
		if prefix != "" {
			var ok bool
			if rel, ok = strings.CutPrefix(rel, prefix); !ok {
				continue
			}
		}

		target := filepath.Join(workDir, filepath.FromSlash(rel))
		if !within(workDir, target) || path.IsAbs(rel) || filepath.IsAbs(f.Name) {
			x.logger.Warn("skipping archive entry outside of the dependency directory",
				"dependency", name, "entry", f.Name)
			continue
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			x.logger.Warn("skipping symlink in archive", "dependency", name, "entry", f.Name)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := extractFile(f, target); err != nil {
			return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}
	return workDir, nil
}

// within reports whether target lies strictly below dir.
func within(dir, target string) bool {
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == "." || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func extractFile(f *zip.File, dst string) (err error) {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rc.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	//nolint:gosec // G110: archives come from sources the project declares
	_, err = io.Copy(out, rc)
	return err
}

// moveDir renames src to dst, falling back to copy and delete across devices.
func moveDir(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyDir(src, dst); err != nil {
		return err
	}
	return os.RemoveAll(src)
}

// copyDir recursively copies a directory, skipping symlinks.
func copyDir(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, srcInfo.Mode().Perm()|0o700); err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())

		info, err := entry.Info()
		if err != nil {
			return err
		}
		switch {
		case info.Mode()&os.ModeSymlink != 0:
			continue
		case entry.IsDir():
			if err := copyDir(srcPath, dstPath); err != nil {
				return err
			}
		default:
			if err := copyFile(srcPath, dstPath, info.Mode().Perm()); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string, perm fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, perm)
}

// localCurrent reports whether dir still holds the content of the local
// source. Archives are unpacked to scratch space for the comparison.
func (x *Index) localCurrent(name Name, s *LocalSource, dir string) bool {
	src := s.Path
	if s.FileType == FileTypeFile {
		unpacked, err := x.unpack(name, s.Path, s.ArchiveRoot)
		if err != nil {
			x.logger.Debug("unable to unpack local archive for comparison", "dependency", name, "err", err)
			return false
		}
		defer func() {
			if err := x.cache.Clean(cache.Unpack); err != nil {
				x.logger.Warn("failed to clean unpack directory", "err", err)
			}
		}()
		src = unpacked
	}
	return sameContent(src, dir)
}

// sameContent compares the content digests of two trees.
func sameContent(a, b string) bool {
	da, errA := contentDigest(a)
	db, errB := contentDigest(b)
	return errA == nil && errB == nil && bytes.Equal(da, db)
}

// contentDigest hashes every regular file below dir in lexical order, keyed by
// its slash separated relative path. The UUID marker at the top level and
// symlinks are ignored.
func contentDigest(dir string) ([]byte, error) {
	h := sha256.New()
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == MarkerFileName {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fmt.Fprintf(h, "%s\x00%d\x00", rel, info.Size())

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(h, f)
		return errors.Join(err, f.Close())
	})
	if err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
