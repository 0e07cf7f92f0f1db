// SPDX-License-Identifier: MPL-2.0

package dependency

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/download"
)

// packServer serves ZIP archives by path and counts requests.
type packServer struct {
	*httptest.Server
	calls atomic.Int32
}

func newPackServer(t *testing.T, archives map[string][]byte) *packServer {
	t.Helper()
	s := &packServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		data, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func openIndex(t *testing.T, buildmcRoot string, deps ...*Dependency) *Index {
	t.Helper()
	root, err := ManagedRoot(buildmcRoot, nil)
	if err != nil {
		t.Fatalf("ManagedRoot() error = %v", err)
	}
	logger := log.New(io.Discard)
	x, err := Open(Options{
		Root:       root,
		Cache:      cache.New(filepath.Join(buildmcRoot, "cache"), logger),
		Logger:     logger,
		Download:   download.Options{Retries: 1},
		PackFormat: 61,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for _, d := range deps {
		if err := x.Add(d); err != nil {
			t.Fatalf("Add(%s) error = %v", d.Name, err)
		}
	}
	return x
}

func urlDep(t *testing.T, name Name, rawURL, root, sum string) *Dependency {
	t.Helper()
	s, err := NewURLSource(rawURL, root, sum)
	if err != nil {
		t.Fatalf("NewURLSource() error = %v", err)
	}
	d, err := New(name, DeploymentBundle, false, s)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func localDep(t *testing.T, name Name, path, projectDir, archiveRoot string) *Dependency {
	t.Helper()
	s, err := NewLocalSource(path, projectDir, archiveRoot)
	if err != nil {
		t.Fatalf("NewLocalSource() error = %v", err)
	}
	d, err := New(name, DeploymentBundle, false, s)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return d
}

func resolveAndSave(t *testing.T, x *Index) {
	t.Helper()
	if err := x.Resolve(t.Context()); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if err := x.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}
