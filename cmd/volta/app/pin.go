package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/lock"
)

var pinCmd = &cobra.Command{
	Use:   "pin <tool[@version]>...",
	Short: "Pin a tool version in the enclosing project's package.json",
	Long: `Pin records tool versions under the volta key of the nearest package.json.
A version specifier is resolved to an exact version first, so the pin is
always reproducible.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, specs, err := parseToolArgs(args, "pin")
		if err != nil {
			return err
		}

		session, err := newSession()
		if err != nil {
			return err
		}

		proj := session.Resolver.Project()
		if proj == nil {
			return errors.NewNotConfiguredError("not in a Node project: no package.json found in this directory or its ancestors", nil)
		}

		// Pin node before anything that depends on a pinned node.
		sortToolsFirst(tools, specs)

		for idx, t := range tools {
			if !t.IsBuiltin() {
				return errors.NewInputError(fmt.Sprintf("%s cannot be pinned; only toolchain members can", t), nil)
			}

			v, err := resolveExact(cmd.Context(), session, t, specs[idx])
			if err != nil {
				return err
			}

			if err := lock.WithExclusive(cmd.Context(), session.Home, func() error {
				return proj.Pin(t, v)
			}); err != nil {
				return err
			}
			fmt.Printf("pinned %s@%s in %s\n", t, v, proj.ManifestPath)
		}
		return nil
	},
}
