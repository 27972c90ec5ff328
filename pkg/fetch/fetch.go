// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package fetch performs HTTP GETs for index documents and distribution
// archives. Index fetches run through an on-disk cache with conditional
// requests; archive downloads stream into staging files with progress
// reporting and a per-chunk idle timeout.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/logger"
)

const (
	// readIdleTimeout aborts a download when no bytes arrive for this long.
	readIdleTimeout = 30 * time.Second

	// headerTimeout bounds the wait for response headers.
	headerTimeout = 30 * time.Second

	downloadAttempts = 3
)

// CachePolicy controls whether the on-disk cache entry for a URL is
// consulted before going to the network.
type CachePolicy struct {
	mode   cacheMode
	maxAge time.Duration
}

type cacheMode int

const (
	alwaysRefetch cacheMode = iota
	useIfFresh
	useAlways
)

// AlwaysRefetch always makes a request. A cached entry still supplies the
// conditional headers and the fallback body on network failure, and the
// response updates the cache.
func AlwaysRefetch() CachePolicy { return CachePolicy{mode: alwaysRefetch} }

// UseIfFreshFor returns the cached body without a request when it was
// fetched within d.
func UseIfFreshFor(d time.Duration) CachePolicy {
	return CachePolicy{mode: useIfFresh, maxAge: d}
}

// UseAlways returns any cached body without a request.
func UseAlways() CachePolicy { return CachePolicy{mode: useAlways} }

// Client fetches URLs with optional disk caching. The zero value is not
// usable; construct with New.
type Client struct {
	http     *http.Client
	cacheDir string
	headers  http.Header
}

// New returns a Client caching into cacheDir. Proxy configuration follows
// the standard HTTP_PROXY / HTTPS_PROXY / NO_PROXY environment semantics.
func New(cacheDir string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: headerTimeout,
			},
		},
		cacheDir: cacheDir,
		headers:  make(http.Header),
	}
}

// WithHeader sets a header sent on every request, e.g. the npm abbreviated
// metadata Accept header.
func (c *Client) WithHeader(key, value string) *Client {
	c.headers.Set(key, value)
	return c
}

// cacheMeta is the sidecar record for a cached body, keyed by URL hash.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	FetchedAt    time.Time `json:"fetched_at"`
}

func (c *Client) cachePaths(url string) (body, meta string) {
	sum := sha256.Sum256([]byte(url))
	key := hex.EncodeToString(sum[:16])
	return filepath.Join(c.cacheDir, key+".body"), filepath.Join(c.cacheDir, key+".json")
}

func (c *Client) readCache(url string) ([]byte, *cacheMeta) {
	bodyPath, metaPath := c.cachePaths(url)

	rawMeta, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, nil
	}
	var meta cacheMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta.URL != url {
		return nil, nil
	}

	body, err := os.ReadFile(bodyPath)
	if err != nil {
		return nil, nil
	}
	return body, &meta
}

func (c *Client) writeCache(url string, body []byte, resp *http.Response) {
	bodyPath, metaPath := c.cachePaths(url)

	meta := cacheMeta{
		URL:       url,
		FetchedAt: time.Now().UTC(),
	}
	if resp != nil {
		meta.ETag = resp.Header.Get("ETag")
		meta.LastModified = resp.Header.Get("Last-Modified")
	}

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if err := fileutils.WriteFileAtomic(bodyPath, body, 0o644); err != nil {
		logger.Debugf("failed to write cache body for %s: %v", url, err)
		return
	}
	if err := fileutils.WriteFileAtomic(metaPath, rawMeta, 0o644); err != nil {
		logger.Debugf("failed to write cache metadata for %s: %v", url, err)
	}
}

// Fetch retrieves the body of url, consulting the cache per policy. On a
// network failure with a cached copy available, the cached copy is returned
// with a warning.
func (c *Client) Fetch(ctx context.Context, url string, policy CachePolicy) ([]byte, error) {
	cached, meta := c.readCache(url)

	if cached != nil {
		switch policy.mode {
		case useAlways:
			return cached, nil
		case useIfFresh:
			if time.Since(meta.FetchedAt) < policy.maxAge {
				return cached, nil
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", url, err)
	}
	for key, values := range c.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if cached != nil {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if cached != nil {
			logger.Warnf("could not reach %s, using cached copy: %v", url, err)
			return cached, nil
		}
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotModified && cached != nil {
		c.writeCache(url, cached, resp)
		return cached, nil
	}

	if resp.StatusCode != http.StatusOK {
		if cached != nil {
			logger.Warnf("%s returned status %d, using cached copy", url, resp.StatusCode)
			return cached, nil
		}
		return nil, fmt.Errorf("request to %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(newIdleTimeoutReader(resp.Body))
	if err != nil {
		if cached != nil {
			logger.Warnf("reading %s failed, using cached copy: %v", url, err)
			return cached, nil
		}
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	c.writeCache(url, body, resp)
	return body, nil
}

// DownloadTo streams url into destPath, reporting throughput to progress.
// Transient failures are retried; the destination only exists complete.
func (c *Client) DownloadTo(ctx context.Context, url, destPath string, progress Progress) error {
	if progress == nil {
		progress = NopProgress
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.downloadOnce(ctx, url, destPath, progress)
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(downloadAttempts))
	return err
}

func (c *Client) downloadOnce(ctx context.Context, url, destPath string, progress Progress) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request for %s: %w", url, err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("request to %s returned status %d", url, resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create download directory: %w", err))
	}
	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to open %s: %w", destPath, err))
	}

	progress.Start(filepath.Base(destPath), resp.ContentLength)
	reader := newIdleTimeoutReader(resp.Body)
	_, err = io.Copy(out, &progressReader{r: reader, progress: progress})
	progress.Done()

	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return fmt.Errorf("download of %s failed: %w", url, err)
	}
	return nil
}

type progressReader struct {
	r        io.Reader
	progress Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.progress.Advance(int64(n))
	}
	return n, err
}

// errIdleTimeout is returned when a read stalls past readIdleTimeout.
var errIdleTimeout = errors.New("download stalled: no data received within idle timeout")

// idleTimeoutReader fails a Read that produces no bytes within
// readIdleTimeout. Each read runs on the reader's own goroutine so a stuck
// connection cannot hang the invocation indefinitely.
type idleTimeoutReader struct {
	r       io.Reader
	results chan readResult
}

type readResult struct {
	n   int
	err error
}

func newIdleTimeoutReader(r io.Reader) *idleTimeoutReader {
	return &idleTimeoutReader{r: r}
}

func (i *idleTimeoutReader) Read(buf []byte) (int, error) {
	if i.results == nil {
		i.results = make(chan readResult, 1)
	}

	go func(dst []byte) {
		n, err := i.r.Read(dst)
		i.results <- readResult{n: n, err: err}
	}(buf)

	timer := time.NewTimer(readIdleTimeout)
	defer timer.Stop()

	select {
	case res := <-i.results:
		return res.n, res.err
	case <-timer.C:
		return 0, errIdleTimeout
	}
}
