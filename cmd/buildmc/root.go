// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "buildmc",
		Short: "Build Minecraft data and resource packs",
		Long: TitleStyle.Render("buildmc") + SubtitleStyle.Render(" - build Minecraft data and resource packs") + `

buildmc reads buildmc.cue from the project directory, fetches the packs the
project depends on into buildmc_root/dependencies and assembles the pack ZIP.

` + SubtitleStyle.Render("Examples:") + `
  buildmc build             Resolve dependencies and build the pack ZIP
  buildmc deps              Resolve dependencies only
  buildmc deps list         Show configured dependencies
  buildmc files             Show the files going into the pack
  buildmc format 1.21.4     Look up the pack format of a game version`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is <config dir>/buildmc/config.cue)")
	rootCmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", ".", "project directory containing buildmc.cue")

	rootCmd.AddCommand(
		newBuildCommand(app, opts),
		newDepsCommand(app, opts),
		newCleanCommand(app, opts),
		newVariablesCommand(app, opts),
		newFilesCommand(app, opts),
		newFormatCommand(app, opts),
		newConfigCommand(app, opts),
	)
	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the CLI and exits with the resulting status.
func Execute() {
	rootCmd := NewRootCommand(NewApp(Dependencies{}))
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
