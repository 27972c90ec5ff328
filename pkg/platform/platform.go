// Package platform defines the immutable description of a complete runnable
// JavaScript toolchain: a Node version, an optional npm version, and an
// optional package manager. Every version carries its origin, which drives
// merge precedence and "why this version" messages.
package platform

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/tool"
)

// Source records where a version came from.
type Source string

// Version sources, in rough precedence order.
const (
	// SourceProject is a version pinned in a project manifest.
	SourceProject Source = "project"
	// SourceDefault is the user default toolchain.
	SourceDefault Source = "default"
	// SourceCommandLine is a one-off override from volta run flags.
	SourceCommandLine Source = "command line"
	// SourceBinary is the platform recorded when a package was installed.
	SourceBinary Source = "binary"
)

// Sourced pairs a value with its origin.
type Sourced[T any] struct {
	Value  T
	Source Source
}

// NewSourced tags a value with its origin.
func NewSourced[T any](value T, source Source) *Sourced[T] {
	return &Sourced[T]{Value: value, Source: source}
}

// PmKind identifies the optional package manager slot.
type PmKind string

// Package manager kinds.
const (
	PmYarn PmKind = "yarn"
	PmPnpm PmKind = "pnpm"
)

// Tool maps the package manager kind to its Tool.
func (k PmKind) Tool() tool.Tool {
	if k == PmPnpm {
		return tool.Pnpm()
	}
	return tool.Yarn()
}

// Pm is a package manager selection.
type Pm struct {
	Kind    PmKind
	Version *semver.Version
}

// String renders the selection as tool@version.
func (pm Pm) String() string {
	return fmt.Sprintf("%s@%s", pm.Kind, pm.Version)
}

// Platform describes a complete runnable toolchain. Node may be nil only in
// intermediate (partial) platforms; the resolver rejects a final platform
// without Node.
type Platform struct {
	Node *Sourced[*semver.Version]
	// Npm is nil when the npm bundled with Node should be used.
	Npm *Sourced[*semver.Version]
	Pm  *Sourced[Pm]
}

// IsEmpty reports whether the platform pins nothing at all.
func (p *Platform) IsEmpty() bool {
	return p == nil || (p.Node == nil && p.Npm == nil && p.Pm == nil)
}

// Merge combines the receiver (the more specific platform, e.g. a project
// pin) with a fallback (e.g. the user default):
//
//   - node comes from the receiver when present, else from the fallback
//   - when the receiver has node, its npm slot wins even when empty, since
//     an empty slot next to a pinned node means "use the bundled npm"
//   - the package manager slot follows the same rule
func (p *Platform) Merge(fallback *Platform) *Platform {
	if p.IsEmpty() {
		if fallback.IsEmpty() {
			return &Platform{}
		}
		return fallback.clone()
	}
	if fallback.IsEmpty() {
		return p.clone()
	}

	merged := &Platform{}
	if p.Node != nil {
		merged.Node = p.Node
		merged.Npm = p.Npm
		merged.Pm = p.Pm
	} else {
		merged.Node = fallback.Node
		merged.Npm = firstSourced(p.Npm, fallback.Npm)
		merged.Pm = firstSourced(p.Pm, fallback.Pm)
	}
	return merged
}

func firstSourced[T any](a, b *Sourced[T]) *Sourced[T] {
	if a != nil {
		return a
	}
	return b
}

func (p *Platform) clone() *Platform {
	if p == nil {
		return &Platform{}
	}
	out := *p
	return &out
}

// Describe renders a human explanation of a slot, e.g. "18.17.1 (from
// project)". Used by list and error messages.
func Describe[T any](s *Sourced[T]) string {
	if s == nil {
		return "none"
	}
	return fmt.Sprintf("%v (from %s)", s.Value, s.Source)
}
