// SPDX-License-Identifier: MPL-2.0

package build

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"testing"

	"codeberg.org/helmo2019/buildmc/internal/testutil"
	"codeberg.org/helmo2019/buildmc/pkg/cache"
)

type mapVars map[string]string

func (m mapVars) Var(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

func TestProcess(t *testing.T) {
	t.Parallel()

	vars := mapVars{"project/name": "demo", "greeting": "hi"}

	tests := []struct {
		name       string
		src        string
		want       string
		unresolved []string
		wantErr    error
	}{
		{"plain", "no references", "no references", nil, nil},
		{"single", "%{project/name}", "demo", nil, nil},
		{"several", "%{greeting}, %{project/name}!", "hi, demo!", nil, nil},
		{"unknown", "x=%{missing};", "x=None;", []string{"missing"}, nil},
		{"lone percent", "100% {done}", "100% {done}", nil, nil},
		{"unterminated", "say %{greeting", "", nil, ErrUnterminatedReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var unresolved []string
			got, err := Process([]byte(tt.src), vars, func(name string) { unresolved = append(unresolved, name) })
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Process() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Process() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Process() = %q, want %q", got, tt.want)
			}
			if !slices.Equal(unresolved, tt.unresolved) {
				t.Errorf("unresolved = %v, want %v", unresolved, tt.unresolved)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	t.Parallel()

	dir, root := newProject(t, map[string]string{
		"pack.mcmeta":     `{"pack":{"pack_format":%{project/pack_format},"description":"%{project/name}"}}`,
		"data/raw.txt":    "%{untouched}",
		"data/sub/b.json": "{}",
	})

	s := NewFileSet(dir, root, nil)
	for _, inc := range []Include{
		{Pattern: "pack.mcmeta", Process: true},
		{Pattern: "data/**", Glob: true},
	} {
		if err := s.Include(inc); err != nil {
			t.Fatalf("Include() error = %v", err)
		}
	}

	b := &Builder{
		Cache: cache.New(filepath.Join(root, "cache"), nil),
		Vars:  mapVars{"project/name": "demo", "project/pack_format": "61"},
	}
	archive, err := b.Build(context.Background(), "demo", "1.0.0", s.Files())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if want := filepath.Join(root, "cache", "build", "demo-1.0.0.zip"); archive != want {
		t.Errorf("archive = %q, want %q", archive, want)
	}

	staged := testutil.MustReadFile(t, filepath.Join(root, "cache", "build", PackDirName, "pack.mcmeta"))
	if want := `{"pack":{"pack_format":61,"description":"demo"}}`; staged != want {
		t.Errorf("processed pack.mcmeta = %q, want %q", staged, want)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer func() { _ = zr.Close() }()

	contents := map[string]string{}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open(%s) error = %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			t.Fatalf("ReadAll(%s) error = %v", f.Name, err)
		}
		contents[f.Name] = string(data)
	}

	if want := []string{"pack.mcmeta", "data/raw.txt", "data/sub/b.json"}; !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
	if contents["data/raw.txt"] != "%{untouched}" {
		t.Errorf("unprocessed file changed: %q", contents["data/raw.txt"])
	}
}

func TestBuildCancelled(t *testing.T) {
	t.Parallel()

	dir, root := newProject(t, map[string]string{"pack.mcmeta": "{}"})
	s := NewFileSet(dir, root, nil)
	if err := s.Include(Include{Pattern: "pack.mcmeta"}); err != nil {
		t.Fatalf("Include() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := &Builder{Cache: cache.New(filepath.Join(root, "cache"), nil), Vars: mapVars{}}
	if _, err := b.Build(ctx, "demo", "1", s.Files()); !errors.Is(err, context.Canceled) {
		t.Errorf("Build() error = %v, want context.Canceled", err)
	}
}

func TestBuildUnterminatedReference(t *testing.T) {
	t.Parallel()

	dir, root := newProject(t, map[string]string{"pack.mcmeta": `{"description":"%{oops"}`})
	s := NewFileSet(dir, root, nil)
	if err := s.Include(Include{Pattern: "pack.mcmeta", Process: true}); err != nil {
		t.Fatalf("Include() error = %v", err)
	}

	b := &Builder{Cache: cache.New(filepath.Join(root, "cache"), nil), Vars: mapVars{}}
	if _, err := b.Build(context.Background(), "demo", "1", s.Files()); !errors.Is(err, ErrUnterminatedReference) {
		t.Errorf("Build() error = %v, want ErrUnterminatedReference", err)
	}
}
