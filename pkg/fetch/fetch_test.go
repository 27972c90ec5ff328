package fetch

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCachesAndRevalidates(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(`{"versions":[]}`))
	}))
	defer srv.Close()

	c := New(t.TempDir())

	body, err := c.Fetch(t.Context(), srv.URL, AlwaysRefetch())
	require.NoError(t, err)
	assert.JSONEq(t, `{"versions":[]}`, string(body))
	assert.EqualValues(t, 1, hits.Load())

	// Fresh cache short-circuits the request entirely.
	body, err = c.Fetch(t.Context(), srv.URL, UseIfFreshFor(time.Hour))
	require.NoError(t, err)
	assert.JSONEq(t, `{"versions":[]}`, string(body))
	assert.EqualValues(t, 1, hits.Load())

	// A refetch sends the conditional request and accepts the 304.
	body, err = c.Fetch(t.Context(), srv.URL, AlwaysRefetch())
	require.NoError(t, err)
	assert.JSONEq(t, `{"versions":[]}`, string(body))
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchFallsBackToCacheOnNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`cached body`))
	}))

	c := New(t.TempDir())

	_, err := c.Fetch(t.Context(), srv.URL, AlwaysRefetch())
	require.NoError(t, err)

	// Kill the server; the cached copy must still be served.
	url := srv.URL
	srv.Close()

	body, err := c.Fetch(t.Context(), url, AlwaysRefetch())
	require.NoError(t, err)
	assert.Equal(t, "cached body", string(body))
}

func TestFetchUseAlwaysSkipsNetwork(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`first`))
	}))
	defer srv.Close()

	c := New(t.TempDir())

	_, err := c.Fetch(t.Context(), srv.URL, AlwaysRefetch())
	require.NoError(t, err)

	// UseAlways returns the cached body without consulting the server.
	body, err := c.Fetch(t.Context(), srv.URL, UseAlways())
	require.NoError(t, err)
	assert.Equal(t, "first", string(body))
}

func TestFetchErrorWithoutCache(t *testing.T) {
	t.Parallel()

	c := New(t.TempDir())
	_, err := c.Fetch(t.Context(), "http://127.0.0.1:1/index.json", AlwaysRefetch())
	assert.Error(t, err)
}

type countingProgress struct {
	started atomic.Bool
	total   atomic.Int64
	bytes   atomic.Int64
	done    atomic.Bool
}

func (c *countingProgress) Start(_ string, total int64) {
	c.started.Store(true)
	c.total.Store(total)
}
func (c *countingProgress) Advance(n int64) { c.bytes.Add(n) }
func (c *countingProgress) Done()           { c.done.Store(true) }

func TestDownloadTo(t *testing.T) {
	t.Parallel()

	payload := []byte("archive-bytes-go-here")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	dest := filepath.Join(t.TempDir(), "staging", "archive.tar.gz")

	progress := &countingProgress{}
	require.NoError(t, c.DownloadTo(t.Context(), srv.URL, dest, progress))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.True(t, progress.started.Load())
	assert.True(t, progress.done.Load())
	assert.EqualValues(t, len(payload), progress.bytes.Load())
}

func TestDownloadToDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	dest := filepath.Join(t.TempDir(), "archive.tar.gz")

	err := c.DownloadTo(t.Context(), srv.URL, dest, nil)
	require.Error(t, err)
	assert.EqualValues(t, 1, hits.Load())
	assert.NoFileExists(t, dest)
}
