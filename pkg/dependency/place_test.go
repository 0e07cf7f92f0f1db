// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"errors"
	"path/filepath"
	"testing"

	"codeberg.org/helmo2019/buildmc/internal/testutil"
)

func TestArchiveEntriesStayInsideUnpackDirectory(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	root := t.TempDir()
	testutil.WriteZip(t, filepath.Join(project, "evil.zip"), map[string]string{
		"pack.mcmeta":         testutil.Manifest(61),
		"data/ok.txt":         "ok",
		"../escape.txt":       "nope",
		"data/../../deep.txt": "nope",
		"/abs.txt":            "nope",
	})

	x := openIndex(t, root, localDep(t, "evil", "evil.zip", project, ""))
	if err := x.Resolve(t.Context()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	dest := filepath.Join(x.Root(), "evil")
	if got := testutil.MustReadFile(t, filepath.Join(dest, "data", "ok.txt")); got != "ok" {
		t.Errorf("ok.txt = %q", got)
	}
	for _, p := range []string{
		filepath.Join(root, "cache", "escape.txt"),
		filepath.Join(root, "cache", "deep.txt"),
		filepath.Join(x.Root(), "escape.txt"),
		filepath.Join(dest, "abs.txt"),
	} {
		if testutil.Exists(p) {
			t.Errorf("%s was extracted", p)
		}
	}
	if !testutil.Exists(filepath.Join(project, "evil.zip")) {
		t.Error("local source archive was removed")
	}
}

func TestArchiveRoot(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	testutil.WriteZip(t, filepath.Join(project, "nested.zip"), map[string]string{
		"repo-main/pack.mcmeta":      testutil.Manifest(61),
		"repo-main/data/ns/file.txt": "inner",
		"README.md":                  "outside",
		"repo-main/../sneaky.txt":    "outside",
	})

	x := openIndex(t, t.TempDir(), localDep(t, "nested", "nested.zip", project, "repo-main"))
	if err := x.Resolve(t.Context()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	dest := filepath.Join(x.Root(), "nested")
	if !testutil.Exists(filepath.Join(dest, "pack.mcmeta")) {
		t.Error("pack.mcmeta not re-rooted")
	}
	if got := testutil.MustReadFile(t, filepath.Join(dest, "data", "ns", "file.txt")); got != "inner" {
		t.Errorf("file.txt = %q", got)
	}
	for _, name := range []string{"README.md", "sneaky.txt", "repo-main"} {
		if testutil.Exists(filepath.Join(dest, name)) {
			t.Errorf("%s should have been discarded", name)
		}
	}
}

func TestMissingManifest(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	testutil.WriteZip(t, filepath.Join(project, "bad.zip"), map[string]string{"data/x.txt": "x"})
	testutil.WriteZip(t, filepath.Join(project, "wrongroot.zip"), map[string]string{"pack.mcmeta": testutil.Manifest(61)})
	testutil.MustWriteFile(t, filepath.Join(project, "dir", "data", "x.txt"), "x")

	tests := []struct {
		name Name
		path string
		root string
	}{
		{"archive", "bad.zip", ""},
		{"archive-root", "wrongroot.zip", "inner"},
		{"directory", "dir", ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			t.Parallel()

			x := openIndex(t, t.TempDir(), localDep(t, tt.name, tt.path, project, tt.root))
			err := x.Resolve(t.Context())
			if !errors.Is(err, ErrMissingManifest) {
				t.Fatalf("Resolve() error = %v, want ErrMissingManifest", err)
			}
			if testutil.Exists(filepath.Join(x.Root(), string(tt.name))) {
				t.Error("managed directory created despite missing manifest")
			}
		})
	}
}

func TestPlaceComparesExistingContent(t *testing.T) {
	t.Parallel()

	project := t.TempDir()
	src := filepath.Join(project, "lib")
	testutil.WritePack(t, src, 61, map[string]string{"data/a.txt": "v1"})

	x := openIndex(t, t.TempDir())
	dest, err := x.place("lib", staged{path: src})
	if err != nil {
		t.Fatalf("place() error = %v", err)
	}
	// A marker in the destination does not count as a difference.
	testutil.MustWriteFile(t, filepath.Join(dest, MarkerFileName), "some-uuid")
	testutil.MustWriteFile(t, filepath.Join(dest, "data", "stamp"), "")

	testutil.MustWriteFile(t, filepath.Join(src, "data", "stamp"), "")
	if _, err := x.place("lib", staged{path: src}); err != nil {
		t.Fatalf("place() error = %v", err)
	}
	if got := testutil.MustReadFile(t, filepath.Join(dest, MarkerFileName)); got != "some-uuid" {
		t.Error("unchanged destination was replaced")
	}

	testutil.MustWriteFile(t, filepath.Join(src, "data", "a.txt"), "v2")
	if _, err := x.place("lib", staged{path: src}); err != nil {
		t.Fatalf("place() error = %v", err)
	}
	if got := testutil.MustReadFile(t, filepath.Join(dest, "data", "a.txt")); got != "v2" {
		t.Errorf("a.txt = %q, want v2", got)
	}
	if !testutil.Exists(filepath.Join(src, "data", "a.txt")) {
		t.Error("non-removable source was moved")
	}
}

func TestContentDigest(t *testing.T) {
	t.Parallel()

	a, b := t.TempDir(), t.TempDir()
	testutil.WritePack(t, a, 61, map[string]string{"x/y": "1", "z": "2"})
	testutil.WritePack(t, b, 61, map[string]string{"x/y": "1", "z": "2"})
	if !sameContent(a, b) {
		t.Error("identical trees differ")
	}

	testutil.MustWriteFile(t, filepath.Join(b, "x", "yz"), "")
	if sameContent(a, b) {
		t.Error("extra file not detected")
	}
}
