package app

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/install"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/packages"
	"github.com/stacklok/volta/pkg/run"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/toolchain"
	"github.com/stacklok/volta/pkg/version"
)

var installCmd = &cobra.Command{
	Use:   "install <tool[@version]>...",
	Short: "Install a tool as your default, or a package with its binaries",
	Long: `Install makes a tool version your user default. Built-in tools (node, npm,
yarn, pnpm) are fetched into the inventory and recorded as the default
toolchain; packages are fetched and their declared binaries get shims.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, specs, err := parseToolArgs(args, "install")
		if err != nil {
			return err
		}

		session, err := newSession()
		if err != nil {
			return err
		}

		for idx, t := range tools {
			if err := installOne(cmd.Context(), session, t, specs[idx]); err != nil {
				return err
			}
		}
		return nil
	},
}

func installOne(ctx context.Context, session *run.Session, t tool.Tool, spec version.Spec) error {
	v, err := resolveExact(ctx, session, t, spec)
	if err != nil {
		return err
	}

	if t.IsBuiltin() {
		if err := session.Installer.Ensure(ctx, t, v); err != nil {
			return err
		}
		if err := toolchain.New(session.Home).SetDefault(ctx, t, v); err != nil {
			return err
		}
		fmt.Printf("installed and set %s@%s as default\n", t, v)
		return nil
	}

	return installPackage(ctx, session, t, v)
}

// installPackage fetches a package image and records its binaries under
// the platform active right now, so they keep running on it later.
func installPackage(ctx context.Context, session *run.Session, t tool.Tool, v *semver.Version) error {
	plat, err := session.CurrentPlatform(nil)
	if err != nil {
		return err
	}
	if err := session.Installer.EnsurePlatform(ctx, plat); err != nil {
		return err
	}

	if err := session.Installer.Ensure(ctx, t, v); err != nil {
		return err
	}
	imageDir := session.Installer.Inventory().ImageDir(install.ImageKind(t), v)

	bins, err := packages.DiscoverBins(imageDir, t.Name)
	if err != nil {
		return err
	}

	if err := lock.WithExclusive(ctx, session.Home, func() error {
		return session.Packages.Install(packages.StagedPackage{
			Name:     t.Name,
			Version:  v,
			Platform: packages.RecordFrom(plat),
			ImageDir: imageDir,
			Bins:     bins,
		}, session.ShimExecutable)
	}); err != nil {
		return err
	}

	fmt.Printf("installed %s@%s", t.Name, v)
	if len(bins) > 0 {
		fmt.Printf(" with %d binar", len(bins))
		if len(bins) == 1 {
			fmt.Print("y")
		} else {
			fmt.Print("ies")
		}
	}
	fmt.Println()
	return nil
}
