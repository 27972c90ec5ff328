package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

func TestParseToolArgs(t *testing.T) {
	t.Parallel()

	tools, specs, err := parseToolArgs([]string{"node@18.17.1", "typescript@latest"}, "install")
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, tool.Node(), tools[0])
	assert.Equal(t, version.TypeExact, specs[0].Type)
	assert.Equal(t, tool.Package("typescript"), tools[1])
	assert.Equal(t, version.TypeTag, specs[1].Type)
}

func TestParseToolArgsRejectsSplitVersion(t *testing.T) {
	t.Parallel()

	_, _, err := parseToolArgs([]string{"node", "18.17.1"}, "install")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node@18.17.1")
}

func TestSortToolsFirst(t *testing.T) {
	t.Parallel()

	tools := []tool.Tool{tool.Yarn(), tool.Npm(), tool.Node()}
	specs := make([]version.Spec, 3)
	specs[0], _ = version.Parse("1.22.19")
	specs[1], _ = version.Parse("9.8.0")
	specs[2], _ = version.Parse("18.17.1")

	sortToolsFirst(tools, specs)

	assert.Equal(t, tool.Node(), tools[0])
	assert.Equal(t, tool.Npm(), tools[1])
	assert.Equal(t, tool.Yarn(), tools[2])
	assert.Equal(t, "18.17.1", specs[0].String())
	assert.Equal(t, "9.8.0", specs[1].String())
	assert.Equal(t, "1.22.19", specs[2].String())
}

func TestNewRootCmdHasCommands(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	for _, expected := range []string{"install", "uninstall", "pin", "run", "list", "which", "setup"} {
		assert.True(t, names[expected], "missing command %s", expected)
	}
}
