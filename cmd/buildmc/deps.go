// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/pkg/dependency"
)

func newDepsCommand(app *App, opts *rootOptions) *cobra.Command {
	var refresh bool

	depsCmd := &cobra.Command{
		Use:   "deps",
		Short: "Resolve the project's dependencies",
		Long: `Resolve the project's dependencies.

Managed directories below buildmc_root/dependencies are reconciled with the
dependency index: renamed dependencies are moved, stale and orphaned
directories are removed and missing dependencies are fetched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Dependency resolution", func(ctx context.Context, s *session) error {
				if err := s.loadProject(ctx); err != nil {
					return err
				}
				if err := s.resolve(ctx, refresh); err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, SuccessStyle.Render(
					fmt.Sprintf("✓ %d dependencies resolved", len(s.project.Dependencies))))
				return nil
			})
		},
	}
	depsCmd.Flags().BoolVar(&refresh, "refresh", false, "remove all managed dependencies and fetch them again")

	depsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List configured dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Listing dependencies", func(ctx context.Context, s *session) error {
				if err := s.loadProject(ctx); err != nil {
					return err
				}
				if err := s.openIndex(); err != nil {
					return err
				}
				listDependencies(app.stdout, s.index)
				return nil
			})
		},
	})

	return depsCmd
}

// listDependencies prints each configured dependency and whether the index
// holds a matching acquisition.
func listDependencies(w io.Writer, x *dependency.Index) {
	deps := x.Dependencies()
	if len(deps) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No dependencies configured."))
		return
	}

	entries := x.Entries()
	fmt.Fprintln(w, TitleStyle.Render("Dependencies:"))
	for _, d := range deps {
		state := WarningStyle.Render("not acquired")
		for _, e := range entries {
			if e.Name == d.Name && d.MatchesIdentity(e.Identity) {
				state = SuccessStyle.Render("acquired")
				break
			}
		}
		fmt.Fprintf(w, "  %s (%s, %s) %s\n    %s\n",
			NameStyle.Render(string(d.Name)), d.Source.Kind(), d.Deployment, state,
			SubtitleStyle.Render(describeSource(d.Identity())))
	}
}

func describeSource(id dependency.Identity) string {
	switch id.Type {
	case dependency.KindLocal:
		s := id.PathAbsolute
		if id.ArchiveRoot != "" {
			s += " (root " + id.ArchiveRoot + ")"
		}
		return s
	case dependency.KindGit:
		s := id.URL
		if id.Checkout != "" {
			s += " @ " + id.Checkout
		}
		if id.Root != "" {
			s += " (root " + id.Root + ")"
		}
		return s
	default:
		s := id.URL
		if id.Root != "" {
			s += " (root " + id.Root + ")"
		}
		return s
	}
}
