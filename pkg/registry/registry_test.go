package registry

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

func mustSpec(t *testing.T, s string) version.Spec {
	t.Helper()
	spec, err := version.Parse(s)
	require.NoError(t, err)
	return spec
}

// nodeIndex builds a Node index document whose entries carry the current
// host's file token, newest first.
func nodeIndex(token string) string {
	return fmt.Sprintf(`[
		{"version": "v20.5.0", "date": "2023-07-18", "files": ["%[1]s"], "lts": false},
		{"version": "v18.17.1", "date": "2023-08-08", "files": ["%[1]s"], "lts": "Hydrogen"},
		{"version": "v18.17.0", "date": "2023-07-18", "files": ["%[1]s"], "lts": "Hydrogen"},
		{"version": "v16.20.0", "date": "2023-03-28", "files": ["other-platform"], "lts": "Gallium"}
	]`, token)
}

func nodeService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()

	index := nodeIndex(NewService(fetch.New(t.TempDir()), nil).indexFileToken())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(index))
	}))
	t.Cleanup(srv.Close)

	cfg := &hooks.Config{
		Node: hooks.ToolHooks{Index: &hooks.Hook{Prefix: srv.URL + "/"}},
	}
	return NewService(fetch.New(t.TempDir()), cfg), srv
}

func TestResolveNodeExactSkipsNetwork(t *testing.T) {
	t.Parallel()

	// No server at all: exact resolution must not require one.
	svc := NewService(fetch.New(t.TempDir()), nil)
	v, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "18.17.1"))
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", v.String())
}

func TestResolveNodeRange(t *testing.T) {
	t.Parallel()

	svc, _ := nodeService(t)
	v, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "^18"))
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", v.String())
}

func TestResolveNodeLatestAndLts(t *testing.T) {
	t.Parallel()

	svc, _ := nodeService(t)

	v, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "20.5.0", v.String())

	v, err = svc.Lts(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "18.17.1", v.String())
}

func TestResolveNodeSkipsVersionsForOtherPlatforms(t *testing.T) {
	t.Parallel()

	svc, _ := nodeService(t)

	// 16.20.0 exists in the index but only for another platform.
	_, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "^16"))
	require.Error(t, err)
	assert.True(t, errors.IsNoMatching(err))
}

func TestResolveNodeCustomTagFails(t *testing.T) {
	t.Parallel()

	svc, _ := nodeService(t)
	_, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "hydrogen"))
	require.Error(t, err)
	assert.True(t, errors.IsNoMatching(err))
}

func TestNodeDistro(t *testing.T) {
	t.Parallel()

	svc := NewService(fetch.New(t.TempDir()), nil)
	v, err := version.ParseVersion("18.17.1")
	require.NoError(t, err)

	distro, err := svc.Distro(t.Context(), tool.Node(), v)
	require.NoError(t, err)
	assert.Contains(t, distro.URL, "nodejs.org/dist/v18.17.1/")
	assert.Contains(t, distro.Filename, "node-v18.17.1-")
}

func TestNodeDistroHonorsDistroHook(t *testing.T) {
	t.Parallel()

	cfg := &hooks.Config{
		Node: hooks.ToolHooks{Distro: &hooks.Hook{Template: "https://mirror.example.com/{{version}}/{{filename}}"}},
	}
	svc := NewService(fetch.New(t.TempDir()), cfg)
	v, err := version.ParseVersion("18.17.1")
	require.NoError(t, err)

	distro, err := svc.Distro(t.Context(), tool.Node(), v)
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.com/18.17.1/"+distro.Filename, distro.URL)
}

const typescriptMetadata = `{
	"name": "typescript",
	"dist-tags": { "latest": "5.1.6", "beta": "5.2.0-beta" },
	"versions": {
		"5.0.4": {"version": "5.0.4", "dist": {"tarball": "https://registry.example.com/typescript/-/typescript-5.0.4.tgz", "shasum": "aaa"}},
		"5.1.6": {"version": "5.1.6", "dist": {"tarball": "https://registry.example.com/typescript/-/typescript-5.1.6.tgz", "shasum": "bbb", "integrity": "sha512-zzz"}},
		"5.2.0-beta": {"version": "5.2.0-beta", "dist": {"tarball": "https://registry.example.com/typescript/-/typescript-5.2.0-beta.tgz", "shasum": "ccc"}}
	}
}`

func packageService(t *testing.T) *Service {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept"), "application/vnd.npm.install-v1+json")
		_, _ = w.Write([]byte(typescriptMetadata))
	}))
	t.Cleanup(srv.Close)

	cfg := &hooks.Config{
		Npm: hooks.ToolHooks{Index: &hooks.Hook{Prefix: srv.URL + "/"}},
	}
	return NewService(fetch.New(t.TempDir()), cfg)
}

func TestResolvePackageTag(t *testing.T) {
	t.Parallel()

	svc := packageService(t)

	v, err := svc.Resolve(t.Context(), tool.Package("typescript"), mustSpec(t, "latest"))
	require.NoError(t, err)
	assert.Equal(t, "5.1.6", v.String())

	v, err = svc.Resolve(t.Context(), tool.Package("typescript"), mustSpec(t, "beta"))
	require.NoError(t, err)
	assert.Equal(t, "5.2.0-beta", v.String())

	_, err = svc.Resolve(t.Context(), tool.Package("typescript"), mustSpec(t, "nightly"))
	require.Error(t, err)
	assert.True(t, errors.IsNoMatching(err))
}

func TestResolvePackageRange(t *testing.T) {
	t.Parallel()

	svc := packageService(t)

	v, err := svc.Resolve(t.Context(), tool.Package("typescript"), mustSpec(t, "^5.0"))
	require.NoError(t, err)
	assert.Equal(t, "5.1.6", v.String())

	_, err = svc.Resolve(t.Context(), tool.Package("typescript"), mustSpec(t, "^6"))
	require.Error(t, err)
	assert.True(t, errors.IsNoMatching(err))
}

func TestPackageDistroUsesRegistryTarball(t *testing.T) {
	t.Parallel()

	svc := packageService(t)
	v, err := version.ParseVersion("5.1.6")
	require.NoError(t, err)

	distro, err := svc.Distro(t.Context(), tool.Package("typescript"), v)
	require.NoError(t, err)
	assert.Equal(t, "https://registry.example.com/typescript/-/typescript-5.1.6.tgz", distro.URL)
	assert.Equal(t, "bbb", distro.Shasum)
	assert.Equal(t, "sha512-zzz", distro.Integrity)
	assert.Equal(t, "typescript-5.1.6.tgz", distro.Filename)
}

func TestTarballFilenameDropsScope(t *testing.T) {
	t.Parallel()

	v, err := version.ParseVersion("16.1.0")
	require.NoError(t, err)
	assert.Equal(t, "cli-16.1.0.tgz", tarballFilename("@angular/cli", v))
}

func TestRegistryFetchFailureKind(t *testing.T) {
	t.Parallel()

	cfg := &hooks.Config{
		Node: hooks.ToolHooks{Index: &hooks.Hook{Prefix: "http://127.0.0.1:1/"}},
	}
	svc := NewService(fetch.New(t.TempDir()), cfg)

	_, err := svc.Resolve(t.Context(), tool.Node(), mustSpec(t, "^18"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrRegistryFetch, errors.KindOf(err))
}
