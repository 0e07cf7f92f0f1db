// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/internal/issue"
)

func newCleanCommand(app *App, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Clean all caches",
		Long: `Clean all caches below buildmc_root/cache.

Managed dependencies are kept; use 'buildmc deps --refresh' to fetch them again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Clean", func(_ context.Context, s *session) error {
				if err := s.cache.CleanAll(); err != nil {
					return issue.WrapWithOperation(err, "clean caches")
				}
				fmt.Fprintln(app.stdout, SuccessStyle.Render("✓ Caches cleaned"))
				return nil
			})
		},
	}
}
