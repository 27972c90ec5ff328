// Package tool models the tools Volta manages as a tagged variant: the
// built-in toolchain members (Node, npm, pnpm, Yarn), installed packages,
// and the binaries packages declare.
package tool

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/version"
)

// Kind discriminates the Tool variants.
type Kind string

// Tool kinds.
const (
	KindNode       Kind = "node"
	KindNpm        Kind = "npm"
	KindPnpm       Kind = "pnpm"
	KindYarn       Kind = "yarn"
	KindPackage    Kind = "package"
	KindPackageBin Kind = "package-bin"
)

// Tool identifies one managed tool. Name is set only for the package
// variants.
type Tool struct {
	Kind Kind
	Name string
}

// Node returns the Node tool.
func Node() Tool { return Tool{Kind: KindNode} }

// Npm returns the npm tool.
func Npm() Tool { return Tool{Kind: KindNpm} }

// Pnpm returns the pnpm tool.
func Pnpm() Tool { return Tool{Kind: KindPnpm} }

// Yarn returns the Yarn tool.
func Yarn() Tool { return Tool{Kind: KindYarn} }

// Package returns the tool for a globally installed package.
func Package(name string) Tool { return Tool{Kind: KindPackage, Name: name} }

// PackageBin returns the tool for a binary declared by a package.
func PackageBin(name string) Tool { return Tool{Kind: KindPackageBin, Name: name} }

// String returns the user-facing name of the tool.
func (t Tool) String() string {
	switch t.Kind {
	case KindPackage, KindPackageBin:
		return t.Name
	default:
		return string(t.Kind)
	}
}

// IsBuiltin reports whether the tool is part of the managed toolchain
// rather than a user package.
func (t Tool) IsBuiltin() bool {
	switch t.Kind {
	case KindNode, KindNpm, KindPnpm, KindYarn:
		return true
	default:
		return false
	}
}

// DefaultShims lists the shim names every installation carries, covering
// the built-in tools and their companion commands.
func DefaultShims() []string {
	return []string{"node", "npm", "npx", "yarn", "yarnpkg", "pnpm"}
}

// FromCommandName maps an invoked command name (argv[0] basename) to the
// tool it addresses. Unknown names are treated as user package binaries.
// Matching is case-insensitive on Windows.
func FromCommandName(name string) Tool {
	cmd := strings.TrimSuffix(name, ".exe")
	if runtime.GOOS == "windows" {
		cmd = strings.ToLower(cmd)
	}

	switch cmd {
	case "node":
		return Node()
	case "npm", "npx":
		return Npm()
	case "yarn", "yarnpkg":
		return Yarn()
	case "pnpm":
		return Pnpm()
	default:
		return PackageBin(cmd)
	}
}

// specPattern splits `<name>[@<version>]`, allowing a scoped package name
// with its own leading @.
var specPattern = regexp.MustCompile(`^(?P<name>(?:@[^/]+/)?[^@/]+)(?:@(?P<version>.+))?$`)

// ParseSpec parses a command-line tool specifier like `node@18.17.1`,
// `typescript@latest`, or `@angular/cli@16`.
func ParseSpec(raw string) (Tool, version.Spec, error) {
	match := specPattern.FindStringSubmatch(raw)
	if match == nil {
		return Tool{}, version.Spec{}, errors.NewInputError(fmt.Sprintf("could not parse tool specifier %q", raw), nil)
	}

	name := match[specPattern.SubexpIndex("name")]
	spec := version.None()
	if raw := match[specPattern.SubexpIndex("version")]; raw != "" {
		parsed, err := version.Parse(raw)
		if err != nil {
			return Tool{}, version.Spec{}, err
		}
		spec = parsed
	}

	switch name {
	case "node":
		return Node(), spec, nil
	case "npm":
		return Npm(), spec, nil
	case "pnpm":
		return Pnpm(), spec, nil
	case "yarn":
		return Yarn(), spec, nil
	default:
		return Package(name), spec, nil
	}
}
