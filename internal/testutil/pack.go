// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// Manifest returns a minimal pack.mcmeta with the given pack format.
func Manifest(format int) string {
	return fmt.Sprintf(`{"pack":{"pack_format":%d,"description":"test pack"}}`, format)
}

// WritePack creates a pack directory at dir with a pack.mcmeta of the given
// format and the extra files (slash separated relative path to content).
func WritePack(t testing.TB, dir string, format int, files map[string]string) {
	t.Helper()
	MustWriteFile(t, filepath.Join(dir, "pack.mcmeta"), Manifest(format))
	for name, content := range files {
		MustWriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
	}
}

// WriteZip writes a ZIP archive at path holding files, keyed by raw entry name.
// Entry names are written verbatim so tests can craft hostile archives.
func WriteZip(t testing.TB, path string, files map[string]string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to finish archive: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close %s: %v", path, err)
	}
}

// ZipBytes returns the content of a ZIP archive holding files.
func ZipBytes(t testing.TB, files map[string]string) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.zip")
	WriteZip(t, path, files)
	return []byte(MustReadFile(t, path))
}
