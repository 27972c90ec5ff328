package app

import (
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/run"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

func newRunCmd() *cobra.Command {
	var nodeFlag, npmFlag, yarnFlag, pnpmFlag string

	cmd := &cobra.Command{
		Use:   "run [--node <version>] [--npm <version>] [--yarn <version>] [--pnpm <version>] -- <command> [args...]",
		Short: "Run a command with a one-off toolchain override",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}

			cli, err := cliPlatform(cmd, session, nodeFlag, npmFlag, yarnFlag, pnpmFlag)
			if err != nil {
				return err
			}

			code, err := session.Execute(cmd.Context(), args[0], args[1:], cli)
			if err != nil {
				return err
			}
			os.Exit(code)
			return nil
		},
	}

	cmd.Flags().StringVar(&nodeFlag, "node", "", "Node version to run with")
	cmd.Flags().StringVar(&npmFlag, "npm", "", "npm version to run with")
	cmd.Flags().StringVar(&yarnFlag, "yarn", "", "Yarn version to run with")
	cmd.Flags().StringVar(&pnpmFlag, "pnpm", "", "pnpm version to run with")
	cmd.Flags().SetInterspersed(false)

	return cmd
}

// cliPlatform resolves the run flags into a command-line platform.
func cliPlatform(cmd *cobra.Command, session *run.Session, node, npm, yarn, pnpm string) (*platform.Platform, error) {
	if yarn != "" && pnpm != "" {
		return nil, errors.NewInputError("--yarn and --pnpm cannot be combined", nil)
	}

	resolveFlag := func(t tool.Tool, raw string) (*semver.Version, error) {
		spec, err := version.Parse(raw)
		if err != nil {
			return nil, err
		}
		return session.Registry.Resolve(cmd.Context(), t, spec)
	}

	cli := &platform.Platform{}

	if node != "" {
		v, err := resolveFlag(tool.Node(), node)
		if err != nil {
			return nil, err
		}
		cli.Node = platform.NewSourced(v, platform.SourceCommandLine)
	}
	if npm != "" {
		v, err := resolveFlag(tool.Npm(), npm)
		if err != nil {
			return nil, err
		}
		cli.Npm = platform.NewSourced(v, platform.SourceCommandLine)
	}
	if yarn != "" {
		v, err := resolveFlag(tool.Yarn(), yarn)
		if err != nil {
			return nil, err
		}
		cli.Pm = platform.NewSourced(platform.Pm{Kind: platform.PmYarn, Version: v}, platform.SourceCommandLine)
	}
	if pnpm != "" {
		v, err := resolveFlag(tool.Pnpm(), pnpm)
		if err != nil {
			return nil, err
		}
		cli.Pm = platform.NewSourced(platform.Pm{Kind: platform.PmPnpm, Version: v}, platform.SourceCommandLine)
	}

	return cli, nil
}
