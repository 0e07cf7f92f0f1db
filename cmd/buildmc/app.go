// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/internal/config"
	"codeberg.org/helmo2019/buildmc/internal/issue"
	"codeberg.org/helmo2019/buildmc/pkg/cache"
	"codeberg.org/helmo2019/buildmc/pkg/dependency"
	"codeberg.org/helmo2019/buildmc/pkg/packformat"
	"codeberg.org/helmo2019/buildmc/pkg/project"
)

// errConfiguration is returned when buildmc.cue loaded but has invalid settings.
var errConfiguration = errors.New("project configuration failed")

type (
	// ConfigProvider loads configuration using explicit options.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// App is the composition root of the CLI. Command handlers receive it
	// and open a session per run.
	App struct {
		Config ConfigProvider
		stdout io.Writer
		stderr io.Writer
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config ConfigProvider
		Stdout io.Writer
		Stderr io.Writer
	}

	// rootOptions holds the persistent flags.
	rootOptions struct {
		verbose    bool
		configFile string
		projectDir string
	}

	// session is the state of a single task run.
	session struct {
		cfg         *config.Config
		logger      *log.Logger
		projectDir  string
		buildmcRoot string
		cache       *cache.Cache
		lookup      *packformat.IndexLookup
		project     *project.Project
		index       *dependency.Index
		resolved    bool
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	app := &App{Config: deps.Config, stdout: deps.Stdout, stderr: deps.Stderr}
	if app.Config == nil {
		app.Config = config.NewProvider()
	}
	if app.stdout == nil {
		app.stdout = os.Stdout
	}
	if app.stderr == nil {
		app.stderr = os.Stderr
	}
	return app
}

// newLogger returns the run logger writing to w.
func newLogger(w io.Writer, verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{Prefix: "buildmc", Level: level})
}

// openSession loads the configuration and prepares the cache and the
// pack format lookup.
func (a *App) openSession(ctx context.Context, opts *rootOptions) (*session, error) {
	projectDir, err := filepath.Abs(opts.projectDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}

	cfg, err := a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: opts.configFile, ProjectDir: projectDir})
	if err != nil {
		return nil, err
	}

	logger := newLogger(a.stderr, opts.verbose)
	buildmcRoot := cfg.BuildmcRoot(projectDir)
	c := cache.New(filepath.Join(buildmcRoot, "cache"), logger)

	lookup, err := packformat.NewIndexLookup(c, cfg.VersionMetaIndexURL, cfg.DownloadOptions(logger), logger)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:         cfg,
		logger:      logger,
		projectDir:  projectDir,
		buildmcRoot: buildmcRoot,
		cache:       c,
		lookup:      lookup,
	}, nil
}

// loadProject reads buildmc.cue. Invalid settings are logged as they are
// found and reported together as errConfiguration.
func (s *session) loadProject(ctx context.Context) error {
	p, err := project.Load(ctx, s.projectDir, s.buildmcRoot, s.lookup, s.logger)
	if err != nil {
		ec := issue.NewErrorContext().
			WithOperation("load project").
			WithResource(filepath.Join(s.projectDir, project.FileName))
		if errors.Is(err, project.ErrNoProjectFile) {
			ec.WithSuggestion("Run buildmc from the project directory or pass --project")
		} else {
			ec.WithSuggestion("Check the project file against the documented fields")
		}
		return ec.Wrap(err).BuildError()
	}
	s.project = p
	if p.HasFailed() {
		return fmt.Errorf("%w: %w", errConfiguration, p.Err())
	}
	return nil
}

// openIndex opens the dependency index and registers the project's dependencies.
func (s *session) openIndex() error {
	root, err := dependency.ManagedRoot(s.buildmcRoot, s.logger)
	if err != nil {
		return err
	}
	x, err := dependency.Open(dependency.Options{
		Root:       root,
		Cache:      s.cache,
		Logger:     s.logger,
		Download:   s.cfg.DownloadOptions(s.logger),
		GitBinary:  s.cfg.Git.Binary,
		PackFormat: s.project.PackFormat,
	})
	if err != nil {
		return err
	}
	for _, d := range s.project.Dependencies {
		if err := x.Add(d); err != nil {
			return err
		}
	}
	s.index = x
	return nil
}

// resolve reconciles and acquires the dependencies. With refresh every
// managed directory is removed first.
func (s *session) resolve(ctx context.Context, refresh bool) error {
	if err := s.openIndex(); err != nil {
		return err
	}
	if refresh {
		s.logger.Info("removing all managed dependencies")
		if err := s.index.Purge(); err != nil {
			return err
		}
	}
	if err := s.index.Resolve(ctx); err != nil {
		return issue.NewErrorContext().
			WithOperation("resolve dependencies").
			WithSuggestion("Re-run with --verbose for download and git details").
			Wrap(err).
			BuildError()
	}
	s.resolved = true
	return nil
}

// close runs the post step of every task: the index is saved after a
// successful resolution and the scratch caches are emptied.
func (s *session) close() error {
	var errs []error
	if s.resolved {
		if err := s.index.Save(); err != nil {
			errs = append(errs, fmt.Errorf("failed to save dependency index: %w", err))
		}
	}
	if err := s.cache.CleanScratch(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runTask opens a session, runs fn and closes the session. Failures are
// rendered with a summary line and turned into an ExitError.
func (a *App) runTask(cmd *cobra.Command, opts *rootOptions, task string, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	s, err := a.openSession(ctx, opts)
	if err == nil {
		err = fn(ctx, s)
		if closeErr := s.close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
	}
	if err == nil {
		return nil
	}

	if !errors.Is(err, errConfiguration) {
		fmt.Fprintln(a.stderr, formatErrorForDisplay(err, opts.verbose))
	}
	fmt.Fprintln(a.stderr, ErrorStyle.Render(fmt.Sprintf("✗ %s failed", task)))
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: 1, Err: err}
}

// verboseHint is shown under errors that carry no suggestion of their own.
const verboseHint = "Run with --verbose to see the full error chain."

// formatErrorForDisplay renders ActionableErrors with their suggestions.
func formatErrorForDisplay(err error, verbose bool) string {
	if ae, ok := issue.AsActionable(err); ok {
		if !verbose && !ae.HasSuggestions() {
			return ae.Format(false) + "\n\n" + SubtitleStyle.Render(verboseHint)
		}
		return ae.Format(verbose)
	}
	return err.Error()
}
