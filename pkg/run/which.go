package run

import (
	"context"

	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/tool"
)

// Which reports the absolute path the shim for name would dispatch to,
// installing any missing images of the resolved platform first so that the
// path exists. For script-loaded package binaries the reported path
// is the script entry point, not the Node executable that runs it.
func (s *Session) Which(ctx context.Context, name string) (string, error) {
	t := tool.FromCommandName(name)

	plat, err := s.Resolver.EffectivePlatform(nil, t)
	if err != nil {
		return "", err
	}

	if err := s.Installer.EnsurePlatform(ctx, plat); err != nil {
		return "", err
	}

	argv, err := s.buildCommand(t, name, plat, nil)
	if err != nil {
		return "", err
	}

	return dispatchTarget(t, argv), nil
}

// dispatchTarget picks the user-meaningful element of a built argv: script
// binaries are represented by their entry point rather than the node
// executable in front of it.
func dispatchTarget(t tool.Tool, argv []string) string {
	if t.Kind == tool.KindPackageBin && len(argv) > 1 {
		return argv[1]
	}
	return argv[0]
}

// CurrentPlatform resolves the effective platform without side effects;
// list uses it for display and install for the platform it installs under.
func (s *Session) CurrentPlatform(cli *platform.Platform) (*platform.Platform, error) {
	return s.Resolver.EffectivePlatform(cli, tool.Node())
}
