// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"codeberg.org/helmo2019/buildmc/pkg/packformat"
)

func newFormatCommand(app *App, opts *rootOptions) *cobra.Command {
	var packType string

	formatCmd := &cobra.Command{
		Use:   "format <version>",
		Short: "Look up the pack format of a game version",
		Long: `Look up the pack format of a game version.

The version metadata index is cached in buildmc_root/cache/meta and downloaded
again when it does not know the requested version.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runTask(cmd, opts, "Pack format lookup", func(ctx context.Context, s *session) error {
				t := packformat.PackType(packType)
				if err := t.Validate(); err != nil {
					return err
				}
				format, err := s.lookup.PackFormat(ctx, args[0], t)
				if err != nil {
					return err
				}
				fmt.Fprintln(app.stdout, format)
				return nil
			})
		},
	}
	formatCmd.Flags().StringVarP(&packType, "type", "t", string(packformat.Data), "pack type (data or resource)")
	return formatCmd
}
