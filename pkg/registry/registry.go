// Package registry resolves version specifiers against the upstream tool
// indexes and locates distribution archives. One client exists per index
// format: the Node version index, and the npm registry metadata document
// which covers npm, pnpm, Yarn, and arbitrary packages. User-configured
// hooks may rewrite any URL.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

// indexMaxAge is how long a cached index document is served without
// revalidation.
const indexMaxAge = 4 * time.Hour

// Distro describes a resolved distribution archive.
type Distro struct {
	URL      string
	Filename string
	// Shasum is the hex SHA-1 digest npm metadata declares, empty for Node.
	Shasum string
	// Integrity is the SRI digest (e.g. sha512-…) when declared.
	Integrity string
}

// Service answers version resolution and archive location queries.
type Service struct {
	client *fetch.Client
	hooks  *hooks.Config

	// os and arch in Node distribution naming (linux/darwin/win, x64/arm64).
	osName string
	arch   string
}

// NewService builds a Service fetching through client and honoring the
// given hook configuration, which may be nil.
func NewService(client *fetch.Client, hookCfg *hooks.Config) *Service {
	return &Service{
		client: client,
		hooks:  hookCfg,
		osName: nodeOSName(),
		arch:   nodeArch(),
	}
}

// Resolve maps a version specifier to a concrete version for the tool.
// Exact specifiers return without network access.
func (s *Service) Resolve(ctx context.Context, t tool.Tool, spec version.Spec) (*semver.Version, error) {
	if spec.Type == version.TypeExact {
		return spec.Exact, nil
	}

	switch t.Kind {
	case tool.KindNode:
		return s.resolveNode(ctx, spec)
	case tool.KindNpm:
		return s.resolvePackage(ctx, t, "npm", spec)
	case tool.KindPnpm:
		return s.resolvePackage(ctx, t, "pnpm", spec)
	case tool.KindYarn:
		return s.resolvePackage(ctx, t, "yarn", spec)
	case tool.KindPackage:
		return s.resolvePackage(ctx, t, t.Name, spec)
	default:
		return nil, errors.NewBugError(fmt.Sprintf("cannot resolve versions for %s", t), nil)
	}
}

// Distro locates the archive for a resolved version of the tool.
func (s *Service) Distro(ctx context.Context, t tool.Tool, v *semver.Version) (Distro, error) {
	switch t.Kind {
	case tool.KindNode:
		return s.nodeDistro(v)
	case tool.KindNpm:
		return s.packageDistro(ctx, t, "npm", v)
	case tool.KindPnpm:
		return s.packageDistro(ctx, t, "pnpm", v)
	case tool.KindYarn:
		return s.packageDistro(ctx, t, "yarn", v)
	case tool.KindPackage:
		return s.packageDistro(ctx, t, t.Name, v)
	default:
		return Distro{}, errors.NewBugError(fmt.Sprintf("no distribution exists for %s", t), nil)
	}
}

// Latest returns the newest available version of the tool.
func (s *Service) Latest(ctx context.Context, t tool.Tool) (*semver.Version, error) {
	return s.Resolve(ctx, t, version.Spec{Type: version.TypeTag, Tag: version.TagLatest})
}

// Lts returns the newest long-term-support Node version. Only Node has an
// LTS concept.
func (s *Service) Lts(ctx context.Context) (*semver.Version, error) {
	return s.resolveNode(ctx, version.Spec{Type: version.TypeTag, Tag: version.TagLts})
}

func (s *Service) hooksFor(k tool.Kind) hooks.ToolHooks {
	if s.hooks == nil {
		return hooks.ToolHooks{}
	}
	return s.hooks.ForTool(k)
}

// applyMetadataHook resolves a metadata URL through the hook when present,
// else returns the default.
func applyMetadataHook(h *hooks.Hook, defaultURL, filename string, vars hooks.Vars) (string, error) {
	if h == nil {
		return defaultURL, nil
	}
	vars.Filename = filename
	return h.Resolve(vars)
}
