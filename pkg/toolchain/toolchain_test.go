package toolchain

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

func TestLoadMissingFileIsNil(t *testing.T) {
	t.Parallel()

	tc := New(layout.New(t.TempDir()))
	plat, err := tc.Load()
	require.NoError(t, err)
	assert.Nil(t, plat)
}

func TestSetDefaultAndLoad(t *testing.T) {
	t.Parallel()

	home := layout.New(t.TempDir())
	tc := New(home)

	node, err := version.ParseVersion("20.5.0")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Node(), node))

	yarn, err := version.ParseVersion("1.22.19")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Yarn(), yarn))

	plat, err := tc.Load()
	require.NoError(t, err)
	require.NotNil(t, plat)
	assert.Equal(t, "20.5.0", plat.Node.Value.String())
	assert.Equal(t, platform.SourceDefault, plat.Node.Source)
	require.NotNil(t, plat.Pm)
	assert.Equal(t, platform.PmYarn, plat.Pm.Value.Kind)
}

func TestSetDefaultPmSlotIsExclusive(t *testing.T) {
	t.Parallel()

	tc := New(layout.New(t.TempDir()))

	yarn, err := version.ParseVersion("1.22.19")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Yarn(), yarn))

	pnpm, err := version.ParseVersion("8.6.0")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Pnpm(), pnpm))

	plat, err := tc.Load()
	require.NoError(t, err)
	require.NotNil(t, plat.Pm)
	assert.Equal(t, platform.PmPnpm, plat.Pm.Value.Kind)
}

func TestCanonicalSerialization(t *testing.T) {
	t.Parallel()

	home := layout.New(t.TempDir())
	tc := New(home)

	npm, err := version.ParseVersion("9.8.0")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Npm(), npm))

	node, err := version.ParseVersion("20.5.0")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Node(), node))

	data, err := os.ReadFile(home.UserPlatformFile())
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"node\": \"20.5.0\",\n  \"npm\": \"9.8.0\"\n}\n", string(data))
}

func TestClearDefault(t *testing.T) {
	t.Parallel()

	tc := New(layout.New(t.TempDir()))

	node, err := version.ParseVersion("20.5.0")
	require.NoError(t, err)
	require.NoError(t, tc.SetDefault(t.Context(), tool.Node(), node))
	require.NoError(t, tc.SetDefault(t.Context(), tool.Node(), nil))

	plat, err := tc.Load()
	require.NoError(t, err)
	assert.Nil(t, plat)
}

func TestSetDefaultRejectsPackages(t *testing.T) {
	t.Parallel()

	tc := New(layout.New(t.TempDir()))
	v, err := version.ParseVersion("5.1.6")
	require.NoError(t, err)
	assert.Error(t, tc.SetDefault(t.Context(), tool.Package("typescript"), v))
}
