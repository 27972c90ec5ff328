// Package install orchestrates bringing a tool image into the inventory:
// probe under a shared lock, then download, verify, extract, and commit
// under the exclusive lock. Concurrent installs of the same tool version
// are serialized by the lock; the loser finds the committed image on its
// re-probe and does no work.
package install

import (
	"context"
	"crypto/sha1" // #nosec G505 - npm registry shasums are SHA-1 by specification
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/volta/pkg/archive"
	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/inventory"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/registry"
	"github.com/stacklok/volta/pkg/tool"
)

// archiveStrip is the number of leading path components stripped during
// extraction; every supported distribution wraps its content in a single
// top-level directory.
const archiveStrip = 1

// Installer ensures tool images are present in the inventory.
type Installer struct {
	home     *layout.Home
	inv      *inventory.Inventory
	registry *registry.Service
	client   *fetch.Client
	progress fetch.Progress
}

// New builds an Installer.
func New(home *layout.Home, client *fetch.Client, reg *registry.Service, progress fetch.Progress) *Installer {
	if progress == nil {
		progress = fetch.NopProgress
	}
	return &Installer{
		home:     home,
		inv:      inventory.New(home),
		registry: reg,
		client:   client,
		progress: progress,
	}
}

// Inventory exposes the underlying inventory for read-only queries.
func (i *Installer) Inventory() *inventory.Inventory {
	return i.inv
}

// EnsurePlatform makes every image the platform needs present, fetching
// Node and the package manager in parallel.
func (i *Installer) EnsurePlatform(ctx context.Context, plat *platform.Platform) error {
	if plat == nil || plat.Node == nil {
		return errors.NewBugError("cannot ensure images for a platform without node", nil)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return i.Ensure(groupCtx, tool.Node(), plat.Node.Value)
	})
	if plat.Npm != nil {
		group.Go(func() error {
			return i.Ensure(groupCtx, tool.Npm(), plat.Npm.Value)
		})
	}
	if plat.Pm != nil {
		pm := plat.Pm.Value
		group.Go(func() error {
			return i.Ensure(groupCtx, pm.Kind.Tool(), pm.Version)
		})
	}

	return group.Wait()
}

// Ensure makes the image for (tool, version) present in the inventory.
func (i *Installer) Ensure(ctx context.Context, t tool.Tool, v *semver.Version) error {
	kind := ImageKind(t)

	// Fast path: probe under the shared lock.
	var present bool
	if err := lock.WithShared(ctx, i.home, func() error {
		present = i.inv.Contains(kind, v)
		return nil
	}); err != nil {
		return err
	}
	if present {
		return nil
	}

	// Upgrade to the exclusive lock (the shared guard is already released)
	// and re-probe: a concurrent install may have won the race.
	return lock.WithExclusive(ctx, i.home, func() error {
		if i.inv.Contains(kind, v) {
			return nil
		}
		return i.fetchAndCommit(ctx, t, kind, v)
	})
}

func (i *Installer) fetchAndCommit(ctx context.Context, t tool.Tool, kind string, v *semver.Version) error {
	distro, err := i.registry.Distro(ctx, t, v)
	if err != nil {
		return err
	}

	// Reuse a previously downloaded archive when the inventory has one.
	archivePath, cached := i.inv.Archive(kind, distro.Filename)
	stagingDir := ""
	if !cached {
		stagingDir = filepath.Join(i.home.TmpDir(), "staging-"+uuid.NewString())
		if err := os.MkdirAll(stagingDir, 0o755); err != nil {
			return errors.NewFileSystemError("could not create download staging directory", err)
		}
		defer func() { _ = os.RemoveAll(stagingDir) }()

		archivePath = filepath.Join(stagingDir, distro.Filename)
		logger.Infow("fetching", "tool", t.String(), "version", v.String(), "url", distro.URL)
		if err := i.client.DownloadTo(ctx, distro.URL, archivePath, i.progress); err != nil {
			return errors.NewDownloadFailedError(fmt.Sprintf("could not download %s@%s", t, v), err)
		}
	}

	if err := verifyArchive(archivePath, distro.Integrity, distro.Shasum); err != nil {
		return err
	}

	if err := i.inv.CommitImage(kind, v, func(imageStaging string) error {
		return archive.Extract(archivePath, imageStaging, archiveStrip, i.progress)
	}); err != nil {
		return err
	}

	if !cached {
		if err := i.inv.KeepArchive(kind, archivePath, distro.Filename); err != nil {
			// The image is committed; a failure to keep the archive only
			// costs a future re-download.
			logger.Warnf("could not keep archive for offline reuse: %v", err)
		}
	}
	return nil
}

// verifyArchive checks the downloaded bytes against the registry-declared
// digest, when one exists. The SRI integrity field takes precedence over
// the legacy hex shasum.
func verifyArchive(path, integrity, shasum string) error {
	var hasher hash.Hash
	var expected, algo string

	switch {
	case strings.HasPrefix(integrity, "sha512-"):
		hasher = sha512.New()
		algo = "sha512"
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(integrity, "sha512-"))
		if err != nil {
			return errors.NewIntegrityFailedError("the registry integrity field is malformed", err)
		}
		expected = hex.EncodeToString(raw)
	case strings.HasPrefix(integrity, "sha1-"):
		hasher = sha1.New() // #nosec G401
		algo = "sha1"
		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(integrity, "sha1-"))
		if err != nil {
			return errors.NewIntegrityFailedError("the registry integrity field is malformed", err)
		}
		expected = hex.EncodeToString(raw)
	case shasum != "":
		hasher = sha1.New() // #nosec G401
		algo = "sha1"
		expected = strings.ToLower(shasum)
	default:
		// No digest declared; nothing to verify.
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return errors.NewFileSystemError("could not open the downloaded archive", err)
	}
	defer f.Close()

	if _, err := io.Copy(hasher, f); err != nil {
		return errors.NewFileSystemError("could not hash the downloaded archive", err)
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expected {
		return errors.NewIntegrityFailedError(
			fmt.Sprintf("archive %s digest mismatch: expected %s %s, got %s",
				filepath.Base(path), algo, expected, actual), nil)
	}
	return nil
}

// ImageKind maps a tool to its inventory directory name. Package images
// are stored under their package name.
func ImageKind(t tool.Tool) string {
	switch t.Kind {
	case tool.KindPackage:
		return filepath.Join("packages", t.Name)
	default:
		return string(t.Kind)
	}
}
