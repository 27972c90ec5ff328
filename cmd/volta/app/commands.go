// Package app provides the entry point for the volta command-line
// application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/versions"
)

var rootCmd = &cobra.Command{
	Use:               "volta",
	DisableAutoGenTag: true,
	Short:             "Volta is a hassle-free manager for JavaScript toolchains",
	Long: `Volta manages JavaScript command-line tools per project. Every invocation of
node, npm, npx, yarn, pnpm, or an installed package binary transparently
selects and runs the version pinned by the enclosing project (or your
default), fetching and caching that version on first use.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the Volta CLI.
func NewRootCmd() *cobra.Command {
	info := versions.GetVersionInfo()
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", info.Version, info.Platform, info.GoVersion)

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(pinCmd)
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(whichCmd)
	rootCmd.AddCommand(newSetupCmd())

	return rootCmd
}
