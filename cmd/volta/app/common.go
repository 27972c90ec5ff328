package app

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/run"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

// newSession wires the pipeline for the current directory.
func newSession() (*run.Session, error) {
	home, err := layout.Default()
	if err != nil {
		return nil, errors.NewFileSystemError("could not locate the Volta home directory", err)
	}
	return run.NewSession(home)
}

// resolveExact resolves a tool specifier to a concrete version through the
// registry.
func resolveExact(ctx context.Context, session *run.Session, t tool.Tool, spec version.Spec) (*semver.Version, error) {
	v, err := session.Registry.Resolve(ctx, t, spec)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// sortToolsFirst stably reorders tools (and their specs) so node leads,
// followed by npm, then the package managers, preserving relative order
// within each rank.
func sortToolsFirst(tools []tool.Tool, specs []version.Spec) {
	rank := func(t tool.Tool) int {
		switch t.Kind {
		case tool.KindNode:
			return 0
		case tool.KindNpm:
			return 1
		case tool.KindYarn, tool.KindPnpm:
			return 2
		default:
			return 3
		}
	}

	// Insertion sort keeps the two slices in step and is stable.
	for i := 1; i < len(tools); i++ {
		for j := i; j > 0 && rank(tools[j-1]) > rank(tools[j]); j-- {
			tools[j-1], tools[j] = tools[j], tools[j-1]
			specs[j-1], specs[j] = specs[j], specs[j-1]
		}
	}
}

// parseToolArgs parses each argument as a tool specifier, rejecting the
// `volta install node 18` misspelling of `node@18`.
func parseToolArgs(args []string, action string) ([]tool.Tool, []version.Spec, error) {
	if len(args) == 2 {
		if _, firstSpec, err := tool.ParseSpec(args[0]); err == nil && firstSpec.IsNone() {
			if _, err := version.Parse(args[1]); err == nil {
				return nil, nil, errors.NewInputError(fmt.Sprintf(
					"`volta %s %s %s` is not valid; did you mean `volta %s %s@%s`?",
					action, args[0], args[1], action, args[0], args[1]), nil)
			}
		}
	}

	tools := make([]tool.Tool, 0, len(args))
	specs := make([]version.Spec, 0, len(args))
	for _, arg := range args {
		t, spec, err := tool.ParseSpec(arg)
		if err != nil {
			return nil, nil, err
		}
		tools = append(tools, t)
		specs = append(specs, spec)
	}
	return tools, specs, nil
}
