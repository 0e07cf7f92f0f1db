// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/internal/issue"
	"codeberg.org/helmo2019/buildmc/pkg/build"
)

func newBuildCommand(app *App, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Resolve dependencies and assemble the pack ZIP",
		Long: `Resolve dependencies and assemble the pack ZIP.

Included files are copied into buildmc_root/cache/build/pack, with %{variable}
references replaced in files marked for processing, and zipped into
buildmc_root/cache/build/<name>-<version>.zip.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Build", func(ctx context.Context, s *session) error {
				return runBuild(ctx, app, s)
			})
		},
	}
}

func runBuild(ctx context.Context, app *App, s *session) error {
	if err := s.loadProject(ctx); err != nil {
		return err
	}
	fmt.Fprintln(app.stdout, TitleStyle.Render(fmt.Sprintf("Building %s %s", s.project.Name, s.project.Version)))

	if err := s.resolve(ctx, false); err != nil {
		return err
	}

	files, err := s.project.Files()
	if err != nil {
		return issue.WrapWithOperation(err, "collect project files")
	}

	b := &build.Builder{Cache: s.cache, Vars: s.project, Logger: s.logger}
	archive, err := b.Build(ctx, s.project.Name, s.project.Version, files)
	if err != nil {
		return issue.WrapWithOperation(err, "assemble pack")
	}

	fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("✓ Build successful:"), archive)
	return nil
}
