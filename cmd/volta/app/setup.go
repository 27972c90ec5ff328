package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/tool"
)

func newSetupCmd() *cobra.Command {
	var onlyShims bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Regenerate the shim directory",
		Long: `Setup rewrites one shim per built-in tool plus one per installed package
binary. Shell profile integration is handled by the OS installer, not by
this command.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Shell integration is out of scope; --only-shims is accepted
			// for compatibility and is the only behavior.
			_ = onlyShims

			session, err := newSession()
			if err != nil {
				return err
			}

			return lock.WithExclusive(cmd.Context(), session.Home, func() error {
				count := 0
				for _, name := range tool.DefaultShims() {
					if _, err := fileutils.CreateShimLink(session.ShimExecutable, session.Home.Shim(name)); err != nil {
						return err
					}
					count++
				}

				pkgs, err := session.Packages.List()
				if err != nil {
					return err
				}
				for _, pkg := range pkgs {
					for _, bin := range pkg.Bins {
						if _, err := fileutils.CreateShimLink(session.ShimExecutable, session.Home.Shim(bin.Name)); err != nil {
							return err
						}
						count++
					}
				}

				fmt.Printf("wrote %d shims to %s\n", count, session.Home.ShimDir())
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&onlyShims, "only-shims", false, "only regenerate shims (always on)")
	return cmd
}
