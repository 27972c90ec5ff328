package hooks

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/tool"
)

func TestPrefixHook(t *testing.T) {
	t.Parallel()

	h := &Hook{Prefix: "https://mirror.example.com/node/"}
	url, err := h.Resolve(Vars{Filename: "node-v18.17.1-linux-x64.tar.gz"})
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/node/node-v18.17.1-linux-x64.tar.gz", url)
}

func TestTemplateHook(t *testing.T) {
	t.Parallel()

	h := &Hook{Template: "https://mirror.example.com/{{os}}/{{arch}}/{{version}}/{{filename}}.{{ext}}"}
	url, err := h.Resolve(Vars{
		Version:  "18.17.1",
		Filename: "node-v18.17.1-linux-x64.tar.gz",
		OS:       "linux",
		Arch:     "x64",
	})
	require.NoError(t, err)
	assert.Equal(t,
		"https://mirror.example.com/linux/x64/18.17.1/node-v18.17.1-linux-x64.tar.gz.tar.gz",
		url)
}

func TestBinHook(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on /bin/echo")
	}
	t.Parallel()

	h := &Hook{Bin: "echo", Args: []string{"https://internal.example.com/distro"}, baseDir: t.TempDir()}
	url, err := h.Resolve(Vars{Version: "18.17.1"})
	require.NoError(t, err)
	assert.Equal(t, "https://internal.example.com/distro 18.17.1", url)
}

func TestExtension(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tar.gz", extension("node-v18.17.1-linux-x64.tar.gz"))
	assert.Equal(t, "zip", extension("node-v18.17.1-win-x64.zip"))
	assert.Equal(t, "tgz", extension("typescript-5.1.6.tgz"))
}

func writeHooks(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".volta"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".volta", "hooks.json"), []byte(contents), 0o644))
}

func TestLoadMergesProjectOverUser(t *testing.T) {
	t.Parallel()

	home := layout.New(t.TempDir())
	require.NoError(t, os.MkdirAll(home.UserDir(), 0o755))
	require.NoError(t, os.WriteFile(home.UserHooksFile(), []byte(`{
		"node": {
			"index": { "prefix": "https://user.example.com/" },
			"distro": { "prefix": "https://user.example.com/" }
		}
	}`), 0o644))

	project := t.TempDir()
	// Project hooks may carry comments.
	writeHooks(t, project, `{
		// internal mirror
		"node": { "distro": { "prefix": "https://project.example.com/" } },
	}`)

	cfg, err := Load(home, []string{project})
	require.NoError(t, err)

	nodeHooks := cfg.ForTool(tool.KindNode)
	require.NotNil(t, nodeHooks.Distro)
	url, err := nodeHooks.Distro.Resolve(Vars{Filename: "f.tar.gz"})
	require.NoError(t, err)
	assert.Equal(t, "https://project.example.com/f.tar.gz", url)

	// The user index hook survives because the project did not override it.
	require.NotNil(t, nodeHooks.Index)
	url, err = nodeHooks.Index.Resolve(Vars{Filename: "index.json"})
	require.NoError(t, err)
	assert.Equal(t, "https://user.example.com/index.json", url)
}

func TestLoadRejectsAmbiguousHook(t *testing.T) {
	t.Parallel()

	home := layout.New(t.TempDir())
	project := t.TempDir()
	writeHooks(t, project, `{
		"node": { "distro": { "prefix": "https://a/", "template": "https://b/{{version}}" } }
	}`)

	_, err := Load(home, []string{project})
	assert.Error(t, err)
}

func TestLoadMissingFilesIsEmptyConfig(t *testing.T) {
	t.Parallel()

	home := layout.New(t.TempDir())
	cfg, err := Load(home, []string{t.TempDir()})
	require.NoError(t, err)
	assert.Nil(t, cfg.ForTool(tool.KindNode).Distro)
	assert.Nil(t, cfg.Events.Publish)
}

func TestForToolSharesNpmForPackages(t *testing.T) {
	t.Parallel()

	cfg := &Config{Npm: ToolHooks{Index: &Hook{Prefix: "https://npm.example.com/"}}}
	assert.NotNil(t, cfg.ForTool(tool.KindPackage).Index)
	assert.NotNil(t, cfg.ForTool(tool.KindNpm).Index)
	assert.Nil(t, cfg.ForTool(tool.KindNode).Index)
}
