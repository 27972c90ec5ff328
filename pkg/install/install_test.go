package install

import (
	"archive/tar"
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	voltaerrors "github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/registry"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

// nodeTarball builds a minimal Node distribution archive.
func nodeTarball(t *testing.T) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	entries := []struct {
		name, body string
		mode       int64
	}{
		{"node-v16.20.0-test/bin/node", "#!node", 0o755},
		{"node-v16.20.0-test/README.md", "node", 0o644},
	}
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Mode: e.mode, Size: int64(len(e.body))}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

// testInstaller wires an Installer against a fake distro server.
func testInstaller(t *testing.T, tarball []byte, downloads *atomic.Int64) (*Installer, *layout.Home) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if downloads != nil {
			downloads.Add(1)
		}
		_, _ = w.Write(tarball)
	}))
	t.Cleanup(srv.Close)

	home := layout.New(t.TempDir())
	client := fetch.New(home.CacheDir())
	cfg := &hooks.Config{
		Node: hooks.ToolHooks{Distro: &hooks.Hook{Template: srv.URL + "/{{filename}}"}},
	}
	reg := registry.NewService(client, cfg)
	return New(home, client, reg, nil), home
}

func TestEnsureInstallsImage(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int64
	installer, home := testInstaller(t, nodeTarball(t), &downloads)

	v, err := version.ParseVersion("16.20.0")
	require.NoError(t, err)
	require.NoError(t, installer.Ensure(t.Context(), tool.Node(), v))

	// The image is committed with the top-level directory stripped.
	assert.FileExists(t, filepath.Join(home.ImageDir("node", "16.20.0"), "bin", "node"))

	// The archive is kept for offline reuse: exactly one file in the
	// node inventory.
	archives, err := os.ReadDir(home.InventoryBaseDir("node"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	// No staging directories are left behind.
	entries, err := os.ReadDir(home.TmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A second ensure is a no-op.
	require.NoError(t, installer.Ensure(t.Context(), tool.Node(), v))
	assert.EqualValues(t, 1, downloads.Load())
}

func TestConcurrentEnsuresDownloadOnce(t *testing.T) {
	t.Parallel()

	var downloads atomic.Int64
	installer, home := testInstaller(t, nodeTarball(t), &downloads)

	v, err := version.ParseVersion("16.20.0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for idx := range errs {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			errs[slot] = installer.Ensure(t.Context(), tool.Node(), v)
		}(idx)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, downloads.Load())

	entries, err := os.ReadDir(home.TmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestIntegrityMismatchAborts(t *testing.T) {
	t.Parallel()

	tarball := nodeTarball(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/typescript" {
			digest := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0xab}, sha512.Size))
			fmt.Fprintf(w, `{
				"name": "typescript",
				"dist-tags": {"latest": "5.1.6"},
				"versions": {"5.1.6": {"version": "5.1.6", "dist": {
					"tarball": %q, "integrity": "sha512-%s"
				}}}
			}`, "http://"+r.Host+"/typescript-5.1.6.tgz", digest)
			return
		}
		_, _ = w.Write(tarball)
	}))
	t.Cleanup(srv.Close)

	home := layout.New(t.TempDir())
	client := fetch.New(home.CacheDir())
	cfg := &hooks.Config{
		Npm: hooks.ToolHooks{Index: &hooks.Hook{Prefix: srv.URL + "/"}},
	}
	installer := New(home, client, registry.NewService(client, cfg), nil)

	v, err := version.ParseVersion("5.1.6")
	require.NoError(t, err)
	err = installer.Ensure(t.Context(), tool.Package("typescript"), v)
	require.Error(t, err)
	assert.True(t, voltaerrors.IsIntegrityFailed(err))
	assert.Equal(t, voltaerrors.ExitIntegrity, voltaerrors.ExitCode(err))

	// Nothing was committed and staging is clean.
	assert.NoDirExists(t, home.ImageDir(ImageKind(tool.Package("typescript")), "5.1.6"))
	entries, readErr := os.ReadDir(home.TmpDir())
	if readErr == nil {
		assert.Empty(t, entries)
	}
}

func TestVerifyArchive(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "archive.tgz")
	payload := []byte("archive contents")
	require.NoError(t, os.WriteFile(path, payload, 0o644))

	sum := sha512.Sum512(payload)
	good := "sha512-" + base64.StdEncoding.EncodeToString(sum[:])
	require.NoError(t, verifyArchive(path, good, ""))

	bad := "sha512-" + base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{1}, sha512.Size))
	err := verifyArchive(path, bad, "")
	require.Error(t, err)
	assert.True(t, voltaerrors.IsIntegrityFailed(err))

	// No digest declared: nothing to verify.
	require.NoError(t, verifyArchive(path, "", ""))
}

func TestImageKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "node", ImageKind(tool.Node()))
	assert.Equal(t, filepath.Join("packages", "typescript"), ImageKind(tool.Package("typescript")))
}
