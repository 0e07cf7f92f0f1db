// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/internal/config"
)

func newConfigCommand(app *App, opts *rootOptions) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect buildmc configuration",
		Long: `Inspect buildmc configuration.

Configuration is read from config.cue in the user configuration directory
  - Linux: ~/.config/buildmc/config.cue
  - macOS: ~/Library/Application Support/buildmc/config.cue
  - Windows: %APPDATA%\buildmc\config.cue
then from config.cue in the project directory. BUILDMC_* environment
variables override both, e.g. BUILDMC_DOWNLOAD_RETRIES=5.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runTask(cmd, opts, "Showing configuration", func(_ context.Context, s *session) error {
				fmt.Fprint(app.stdout, config.GenerateCUE(s.cfg))
				fmt.Fprintf(app.stdout, "\n// buildmc root: %s\n", filepath.ToSlash(s.buildmcRoot))
				return nil
			})
		},
	})

	return cfgCmd
}
