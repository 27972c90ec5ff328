// Package version implements semver versions and the version specifier
// grammar used in project manifests and on the command line.
package version

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
)

// SpecType discriminates the VersionSpec variants.
type SpecType int

// VersionSpec variants.
const (
	// TypeNone means no version was specified.
	TypeNone SpecType = iota
	// TypeExact is a fully qualified MAJOR.MINOR.PATCH version.
	TypeExact
	// TypeSemver is a semver range.
	TypeSemver
	// TypeTag is a named tag such as latest, lts, or a dist-tag.
	TypeTag
)

// Reserved tags.
const (
	TagLatest = "latest"
	TagLts    = "lts"
)

// bareVersionPattern matches a bare major or major.minor specifier, which
// the grammar promotes to a caret range.
var bareVersionPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)

// tagPattern matches tag identifiers: they must start with a letter so they
// can never be confused with a version or range.
var tagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9._-]*$`)

// Spec is a parsed version specifier.
type Spec struct {
	Type  SpecType
	Exact *semver.Version
	Range *semver.Constraints
	// RangeText preserves the user's spelling of a range for display and
	// round-trip serialization.
	RangeText string
	Tag       string
}

// None is the empty specifier.
func None() Spec {
	return Spec{Type: TypeNone}
}

// ExactSpec wraps a concrete version as a specifier.
func ExactSpec(v *semver.Version) Spec {
	return Spec{Type: TypeExact, Exact: v}
}

// ParseVersion parses a fully qualified semver version, tolerating a
// leading v.
func ParseVersion(s string) (*semver.Version, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "v")
	v, err := semver.StrictNewVersion(trimmed)
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("could not parse version %q", s), err)
	}
	return v, nil
}

// Parse parses a version specifier.
//
// Recognized forms, in order:
//   - the empty string: None
//   - an exact version, with optional leading v
//   - a bare X or X.Y, which becomes the caret range ^X / ^X.Y
//   - a tag: any identifier starting with a letter
//   - a semver range using ^ ~ > >= < <= =, space for AND, || for OR
func Parse(s string) (Spec, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return None(), nil
	}

	if v, err := ParseVersion(trimmed); err == nil {
		return ExactSpec(v), nil
	}

	// A bare major or major.minor (with optional leading v) promotes to a
	// caret range before tag matching, so "18" and "v18" never read as tags.
	stripped := strings.TrimPrefix(trimmed, "v")
	if bareVersionPattern.MatchString(stripped) {
		if constraints, err := semver.NewConstraint("^" + stripped); err == nil {
			return Spec{Type: TypeSemver, Range: constraints, RangeText: "^" + stripped}, nil
		}
	}

	if tagPattern.MatchString(trimmed) {
		return Spec{Type: TypeTag, Tag: strings.ToLower(trimmed)}, nil
	}

	if constraints, err := semver.NewConstraint(trimmed); err == nil {
		return Spec{Type: TypeSemver, Range: constraints, RangeText: trimmed}, nil
	}

	return Spec{}, errors.NewInputError(fmt.Sprintf("could not parse version specifier %q", s), nil)
}

// String renders the specifier the way a user would write it.
func (s Spec) String() string {
	switch s.Type {
	case TypeExact:
		return s.Exact.String()
	case TypeSemver:
		return s.RangeText
	case TypeTag:
		return s.Tag
	default:
		return "<default>"
	}
}

// IsNone reports whether no version was specified.
func (s Spec) IsNone() bool {
	return s.Type == TypeNone
}

// Matches reports whether the concrete version satisfies the specifier.
// None matches everything; tags match nothing without registry help.
func (s Spec) Matches(v *semver.Version) bool {
	switch s.Type {
	case TypeNone:
		return true
	case TypeExact:
		return s.Exact.Equal(v)
	case TypeSemver:
		return s.Range.Check(v)
	default:
		return false
	}
}

// LatestMatch returns the highest version from candidates satisfying the
// specifier, or nil when none does.
func (s Spec) LatestMatch(candidates []*semver.Version) *semver.Version {
	sorted := make([]*semver.Version, len(candidates))
	copy(sorted, candidates)
	sort.Sort(sort.Reverse(semver.Collection(sorted)))

	for _, candidate := range sorted {
		if s.Matches(candidate) {
			return candidate
		}
	}
	return nil
}
