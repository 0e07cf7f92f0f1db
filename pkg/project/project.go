// SPDX-License-Identifier: MPL-2.0

package project

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"cuelang.org/go/cue"
	"github.com/charmbracelet/log"

	"codeberg.org/helmo2019/buildmc/pkg/build"
	"codeberg.org/helmo2019/buildmc/pkg/cueutil"
	"codeberg.org/helmo2019/buildmc/pkg/dependency"
	"codeberg.org/helmo2019/buildmc/pkg/mcmeta"
	"codeberg.org/helmo2019/buildmc/pkg/packformat"
)

// FileName is the project file looked up in the project directory.
const FileName = "buildmc.cue"

// Special variable names, always listed before custom variables.
const (
	VarName       = "project/name"
	VarVersion    = "project/version"
	VarPackFormat = "project/pack_format"
	VarPackType   = "project/pack_type"
)

var (
	//go:embed project_schema.cue
	projectSchema []byte

	specialVars = []string{VarName, VarVersion, VarPackFormat, VarPackType}

	// ErrNoProjectFile is returned when the project directory has no buildmc.cue.
	ErrNoProjectFile = errors.New("no project file")
	// ErrInvalidPackFormat is recorded for pack formats below the pack type minimum.
	ErrInvalidPackFormat = errors.New("invalid pack format")
	// ErrInvalidSource is recorded for dependencies without exactly one source.
	ErrInvalidSource = errors.New("invalid dependency source")
)

type (
	// Project is a loaded project file.
	Project struct {
		Dir         string
		BuildmcRoot string

		Name       string
		Version    string
		PackType   packformat.PackType
		PackFormat int
		// SupportedFormats is nil unless declared.
		SupportedFormats *mcmeta.FormatRange

		Includes     []build.Include
		Excludes     []build.Exclude
		Dependencies []*dependency.Dependency

		vars     map[string]string
		varNames []string
		errs     []error
		logger   *log.Logger
	}

	// file mirrors #Project. Pack formats are read from the unified value
	// since they are either numbers or version names.
	file struct {
		Name         string           `json:"name"`
		Version      string           `json:"version"`
		PackType     string           `json:"pack_type"`
		Include      []includeSpec    `json:"include"`
		Exclude      []excludeSpec    `json:"exclude"`
		Dependencies []dependencySpec `json:"dependencies"`
	}

	includeSpec struct {
		Pattern     string `json:"pattern"`
		Glob        bool   `json:"glob"`
		Process     bool   `json:"process"`
		Destination string `json:"destination,omitempty"`
	}

	excludeSpec struct {
		Pattern       string `json:"pattern"`
		ByDestination bool   `json:"by_destination"`
	}

	dependencySpec struct {
		Name         string     `json:"name"`
		Deployment   string     `json:"deployment"`
		VersionCheck bool       `json:"version_check"`
		Local        *localSpec `json:"local,omitempty"`
		URL          *urlSpec   `json:"url,omitempty"`
		Git          *gitSpec   `json:"git,omitempty"`
	}

	localSpec struct {
		Path        string `json:"path"`
		ArchiveRoot string `json:"archive_root,omitempty"`
	}

	urlSpec struct {
		URL    string `json:"url"`
		Root   string `json:"root,omitempty"`
		SHA256 string `json:"sha256,omitempty"`
	}

	gitSpec struct {
		URL      string `json:"url"`
		Root     string `json:"root,omitempty"`
		Checkout string `json:"checkout,omitempty"`
	}

	// formatRef is a pack format as written: a number or a version name.
	formatRef struct {
		number  int
		version string
	}
)

// Load reads buildmc.cue from dir. Schema violations are returned as errors;
// problems with individual settings are recorded on the project instead, see
// HasFailed.
func Load(ctx context.Context, dir, buildmcRoot string, lookup packformat.Lookup, logger *log.Logger) (*Project, error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoProjectFile, path)
		}
		return nil, fmt.Errorf("failed to read project file at %s: %w", path, err)
	}

	res, err := cueutil.ParseAndDecode[file](projectSchema, data, "#Project", cueutil.WithFilename(path))
	if err != nil {
		return nil, err
	}

	p := &Project{
		Dir:         dir,
		BuildmcRoot: buildmcRoot,
		Name:        res.Value.Name,
		Version:     res.Value.Version,
		vars:        map[string]string{},
		logger:      logger,
	}

	p.loadVariables(res.Unified.LookupPath(cue.ParsePath("variables")))
	p.configurePackFormat(ctx, res.Value.PackType, res.Unified, lookup)

	for _, inc := range res.Value.Include {
		p.Includes = append(p.Includes, build.Include(inc))
	}
	for _, exc := range res.Value.Exclude {
		p.Excludes = append(p.Excludes, build.Exclude(exc))
	}

	seen := map[string]bool{}
	for i, spec := range res.Value.Dependencies {
		if seen[spec.Name] {
			p.Fail(fmt.Errorf("dependencies[%d]: %w: '%s'", i, dependency.ErrDuplicateName, spec.Name))
			continue
		}
		seen[spec.Name] = true

		d, err := p.newDependency(spec)
		if err != nil {
			p.Fail(fmt.Errorf("dependencies[%d] '%s': %w", i, spec.Name, err))
			continue
		}
		p.Dependencies = append(p.Dependencies, d)
	}

	return p, nil
}

// Fail records a configuration error. Loading carries on so that sibling
// settings are still checked.
func (p *Project) Fail(err error) {
	p.logger.Error(err.Error())
	p.errs = append(p.errs, err)
}

// HasFailed reports whether any configuration error was recorded.
func (p *Project) HasFailed() bool { return len(p.errs) > 0 }

// Err joins every recorded error, or returns nil.
func (p *Project) Err() error { return errors.Join(p.errs...) }

// Var returns the value of a special or custom variable.
func (p *Project) Var(name string) (string, bool) {
	switch name {
	case VarName:
		return p.Name, true
	case VarVersion:
		return p.Version, true
	case VarPackFormat:
		return strconv.Itoa(p.PackFormat), true
	case VarPackType:
		return string(p.PackType), true
	}
	v, ok := p.vars[name]
	return v, ok
}

// VarNames lists the special variables followed by the custom ones in
// declaration order.
func (p *Project) VarNames() []string {
	return append(slices.Clone(specialVars), p.varNames...)
}

// Files applies the include and exclude rules.
func (p *Project) Files() ([]build.File, error) {
	set := build.NewFileSet(p.Dir, p.BuildmcRoot, p.logger)
	for _, inc := range p.Includes {
		if err := set.Include(inc); err != nil {
			return nil, err
		}
	}
	for _, exc := range p.Excludes {
		if err := set.Exclude(exc); err != nil {
			return nil, err
		}
	}
	return set.Files(), nil
}

func (p *Project) loadVariables(v cue.Value) {
	if !v.Exists() {
		return
	}
	iter, err := v.Fields()
	if err != nil {
		p.Fail(fmt.Errorf("variables: %w", err))
		return
	}
	for iter.Next() {
		name := iter.Selector().Unquoted()
		value, err := iter.Value().String()
		if err != nil {
			p.Fail(fmt.Errorf("variables.%s: %w", name, err))
			continue
		}
		if slices.Contains(specialVars, name) {
			p.logger.Warn("custom variable is shadowed by a special variable", "variable", name)
			continue
		}
		p.vars[name] = value
		p.varNames = append(p.varNames, name)
	}
}

func (p *Project) configurePackFormat(ctx context.Context, packType string, root cue.Value, lookup packformat.Lookup) {
	p.PackType = packformat.PackType(packType)
	if err := p.PackType.Validate(); err != nil {
		p.Fail(fmt.Errorf("pack_type: %w", err))
		return
	}

	main, err := readFormatRef(root.LookupPath(cue.ParsePath("pack_format")))
	if err != nil {
		p.Fail(fmt.Errorf("pack_format: %w", err))
		return
	}
	if p.PackFormat, err = p.resolveFormat(ctx, main, lookup); err != nil {
		p.Fail(fmt.Errorf("pack_format: %w", err))
		return
	}

	supported := root.LookupPath(cue.ParsePath("supported_formats"))
	if !supported.Exists() {
		return
	}
	var bounds [2]int
	for i, field := range []string{"min", "max"} {
		ref, err := readFormatRef(supported.LookupPath(cue.ParsePath(field)))
		if err == nil {
			bounds[i], err = p.resolveFormat(ctx, ref, lookup)
		}
		if err != nil {
			p.Fail(fmt.Errorf("supported_formats.%s: %w", field, err))
			return
		}
	}
	if bounds[0] > bounds[1] {
		p.Fail(fmt.Errorf("supported_formats: %w: minimum %d is above maximum %d", ErrInvalidPackFormat, bounds[0], bounds[1]))
		return
	}
	p.SupportedFormats = &mcmeta.FormatRange{Min: bounds[0], Max: bounds[1]}
}

func readFormatRef(v cue.Value) (formatRef, error) {
	switch v.Kind() {
	case cue.IntKind:
		n, err := v.Int64()
		return formatRef{number: int(n)}, err
	case cue.StringKind:
		s, err := v.String()
		return formatRef{version: s}, err
	default:
		return formatRef{}, fmt.Errorf("expected a number or a version name, got %v", v.Kind())
	}
}

func (p *Project) resolveFormat(ctx context.Context, ref formatRef, lookup packformat.Lookup) (int, error) {
	format := ref.number
	if ref.version != "" {
		if lookup == nil {
			return 0, fmt.Errorf("cannot resolve version '%s' without a pack format lookup", ref.version)
		}
		var err error
		if format, err = lookup.PackFormat(ctx, ref.version, p.PackType); err != nil {
			return 0, err
		}
	}
	if minimum := p.PackType.MinFormat(); format < minimum {
		return 0, fmt.Errorf("%w: minimum pack format for %s packs is %d, but %d was given",
			ErrInvalidPackFormat, p.PackType, minimum, format)
	}
	return format, nil
}

func (p *Project) newDependency(spec dependencySpec) (*dependency.Dependency, error) {
	var (
		source dependency.Source
		count  int
		err    error
	)
	if spec.Local != nil {
		count++
		source, err = dependency.NewLocalSource(spec.Local.Path, p.Dir, spec.Local.ArchiveRoot)
	}
	if spec.URL != nil {
		count++
		source, err = dependency.NewURLSource(spec.URL.URL, spec.URL.Root, spec.URL.SHA256)
	}
	if spec.Git != nil {
		count++
		source, err = dependency.NewGitSource(spec.Git.URL, spec.Git.Root, dependency.GitRef(spec.Git.Checkout))
	}
	if count != 1 {
		return nil, fmt.Errorf("%w: exactly one of local, url or git must be set", ErrInvalidSource)
	}
	if err != nil {
		return nil, err
	}
	return dependency.New(dependency.Name(spec.Name), dependency.Deployment(spec.Deployment), spec.VersionCheck, source)
}
