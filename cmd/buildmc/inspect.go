// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newVariablesCommand(app *App, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "variables",
		Short: "Print project variables",
		Long: `Print project variables.

The special variables project/name, project/version, project/pack_format and
project/pack_type come first, followed by the variables declared in buildmc.cue.
Processed files reference them as %{name}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Listing variables", func(ctx context.Context, s *session) error {
				if err := s.loadProject(ctx); err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, TitleStyle.Render("Project variables:"))
				for _, name := range s.project.VarNames() {
					value, _ := s.project.Var(name)
					fmt.Fprintf(app.stdout, "  %s = %s\n", NameStyle.Render(strconv.Quote(name)), strconv.Quote(value))
				}
				return nil
			})
		},
	}
}

func newFilesCommand(app *App, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "Print files included in the build",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Listing files", func(ctx context.Context, s *session) error {
				if err := s.loadProject(ctx); err != nil {
					return err
				}
				files, err := s.project.Files()
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, TitleStyle.Render("Project files:"))
				for _, f := range files {
					marker := ""
					if f.Process {
						marker = SubtitleStyle.Render(" (processed)")
					}
					fmt.Fprintf(app.stdout, "  %s\n   → %s%s\n", NameStyle.Render(f.Source), f.Destination, marker)
				}
				return nil
			})
		},
	}
}
