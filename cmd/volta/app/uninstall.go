package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/tool"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>...",
	Short: "Remove an installed package, its binaries, and their shims",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}

		for _, arg := range args {
			t, spec, err := tool.ParseSpec(arg)
			if err != nil {
				return err
			}
			if !spec.IsNone() {
				return errors.NewInputError("uninstall takes a package name without a version", nil)
			}
			if t.Kind != tool.KindPackage {
				return errors.NewInputError(fmt.Sprintf(
					"%s is part of the managed toolchain; change its default with `volta install` instead", t), nil)
			}

			if err := lock.WithExclusive(cmd.Context(), session.Home, func() error {
				return session.Packages.Uninstall(t.Name)
			}); err != nil {
				return err
			}
			fmt.Printf("uninstalled %s\n", t.Name)
		}
		return nil
	},
}
