// SPDX-License-Identifier: MPL-2.0

package build

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"codeberg.org/helmo2019/buildmc/pkg/cache"
)

// PackDirName is the staging directory inside the build cache.
const PackDirName = "pack"

// Builder copies files into the build cache and zips them.
type Builder struct {
	Cache  *cache.Cache
	Vars   Vars
	Logger *log.Logger
}

// ArchiveName returns "<name>-<version>.zip".
func ArchiveName(name, version string) string {
	return fmt.Sprintf("%s-%s.zip", name, version)
}

// Build stages files under cache/build/pack, processing those marked for it,
// and writes cache/build/<name>-<version>.zip. It returns the archive path.
func (b *Builder) Build(ctx context.Context, name, version string, files []File) (string, error) {
	logger := b.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	buildDir, err := b.Cache.Get(cache.Build, true)
	if err != nil {
		return "", err
	}
	packDir := filepath.Join(buildDir, PackDirName)

	logger.Info("copying and processing included files", "count", len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := b.stage(packDir, f, logger); err != nil {
			return "", err
		}
	}

	archive := filepath.Join(buildDir, ArchiveName(name, version))
	logger.Info("assembling ZIP file", "path", archive)
	if err := writeZip(archive, packDir, files); err != nil {
		_ = os.Remove(archive) // Best-effort cleanup of a partial archive
		return "", err
	}
	return archive, nil
}

func (b *Builder) stage(packDir string, f File, logger *log.Logger) error {
	dst := filepath.Join(packDir, filepath.FromSlash(f.Destination))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := os.ReadFile(f.Source)
	if err != nil {
		return fmt.Errorf("failed to read '%s': %w", f.Source, err)
	}
	if f.Process {
		data, err = Process(data, b.Vars, func(name string) {
			logger.Warn("unresolved variable reference", "file", f.Destination, "variable", name)
		})
		if err != nil {
			return fmt.Errorf("while processing '%s': %w", f.Source, err)
		}
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("failed to write '%s': %w", dst, err)
	}
	return nil
}

func writeZip(archive, packDir string, files []File) (err error) {
	out, err := os.Create(archive)
	if err != nil {
		return fmt.Errorf("failed to create ZIP file: %w", err)
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	zw := zip.NewWriter(out)
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if seen[f.Destination] {
			continue
		}
		seen[f.Destination] = true

		if err := addFile(zw, filepath.Join(packDir, filepath.FromSlash(f.Destination)), f.Destination); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish ZIP file: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, name string) (err error) {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create ZIP header: %w", err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add '%s': %w", name, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := in.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	_, err = io.Copy(w, in)
	return err
}
