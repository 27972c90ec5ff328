// Package resolver computes the effective platform for an invocation by
// combining, in precedence order, command-line overrides, the enclosing
// project's pins, and the user default toolchain. Package binaries run on
// the platform recorded when they were installed.
package resolver

import (
	"fmt"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/packages"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/project"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/toolchain"
)

// Resolver holds a snapshot of project and toolchain state, taken at entry.
// Mutations made by concurrent invocations are not observed.
type Resolver struct {
	project  *project.Project
	defaults *platform.Platform
	packages *packages.Registry
}

// New snapshots the resolution inputs. The project may be nil when the
// invocation runs outside any project.
func New(proj *project.Project, tc *toolchain.Toolchain, pkgs *packages.Registry) (*Resolver, error) {
	defaults, err := tc.Load()
	if err != nil {
		return nil, err
	}
	return &Resolver{project: proj, defaults: defaults, packages: pkgs}, nil
}

// Project returns the snapshotted project, nil outside one.
func (r *Resolver) Project() *project.Project {
	return r.project
}

// EffectivePlatform produces the platform the tool runs on. A package
// binary with a recorded platform runs on that platform and the cli
// platform is not consulted; otherwise the cli platform, when non-nil,
// takes precedence over the project and the default. A missing
// Node anywhere in the chain fails with a not-configured error.
func (r *Resolver) EffectivePlatform(cli *platform.Platform, t tool.Tool) (*platform.Platform, error) {
	// Package binaries are pinned to the platform they were installed
	// with, so they keep working when the project or default moves.
	if t.Kind == tool.KindPackageBin {
		if plat, err := r.binaryPlatform(t.Name); err != nil || plat != nil {
			return plat, err
		}
	}

	merged := &platform.Platform{}
	if r.project != nil && r.project.Platform != nil {
		merged = r.project.Platform
	}
	if r.defaults != nil {
		merged = merged.Merge(r.defaults)
	}
	if cli != nil && !cli.IsEmpty() {
		merged = cli.Merge(merged)
	}

	if merged.Node == nil {
		return nil, errors.NewNotConfiguredError(
			"no Node version is available: pin one with `volta pin node` or set a default with `volta install node`", nil)
	}
	return merged, nil
}

// binaryPlatform returns the recorded platform for an installed binary, or
// nil when the binary is unknown to the registry.
func (r *Resolver) binaryPlatform(binName string) (*platform.Platform, error) {
	bin, err := r.packages.GetBin(binName)
	if err != nil {
		return nil, err
	}
	if bin == nil {
		return nil, nil
	}

	pkg, err := r.packages.Get(bin.Package)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errors.NewBugError(
			fmt.Sprintf("binary %s references package %s, which has no record", binName, bin.Package), nil)
	}

	return pkg.Platform.ToPlatform()
}

// BinConfig looks up the binary record for a shim name.
func (r *Resolver) BinConfig(binName string) (*packages.BinConfig, error) {
	return r.packages.GetBin(binName)
}
