package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/volta/pkg/version"
)

func TestFromCommandName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Node(), FromCommandName("node"))
	assert.Equal(t, Npm(), FromCommandName("npm"))
	assert.Equal(t, Npm(), FromCommandName("npx"))
	assert.Equal(t, Yarn(), FromCommandName("yarn"))
	assert.Equal(t, Yarn(), FromCommandName("yarnpkg"))
	assert.Equal(t, Pnpm(), FromCommandName("pnpm"))
	assert.Equal(t, Node(), FromCommandName("node.exe"))
	assert.Equal(t, PackageBin("tsc"), FromCommandName("tsc"))
}

func TestParseSpec(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		tool     Tool
		specType version.SpecType
	}{
		{"node@18.17.1", Node(), version.TypeExact},
		{"node@lts", Node(), version.TypeTag},
		{"node", Node(), version.TypeNone},
		{"npm@9.8.0", Npm(), version.TypeExact},
		{"pnpm@8", Pnpm(), version.TypeSemver},
		{"yarn@latest", Yarn(), version.TypeTag},
		{"typescript@5.1.6", Package("typescript"), version.TypeExact},
		{"@angular/cli@16", Package("@angular/cli"), version.TypeSemver},
		{"@scope/pkg", Package("@scope/pkg"), version.TypeNone},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			tool, spec, err := ParseSpec(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.tool, tool)
			assert.Equal(t, tt.specType, spec.Type)
		})
	}
}

func TestToolString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "node", Node().String())
	assert.Equal(t, "typescript", Package("typescript").String())
	assert.Equal(t, "tsc", PackageBin("tsc").String())
	assert.True(t, Yarn().IsBuiltin())
	assert.False(t, Package("typescript").IsBuiltin())
}
