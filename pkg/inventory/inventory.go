// Package inventory maintains the content-addressed on-disk store of
// unpacked tool images, plus the raw downloaded archives kept for offline
// reuse. Presence of the image directory is the sole truth: a partial
// extraction is never visible because all writes go through a staged
// rename.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/version"
)

// Inventory is the store rooted at a Volta home.
type Inventory struct {
	home *layout.Home
}

// New returns the Inventory for a home.
func New(home *layout.Home) *Inventory {
	return &Inventory{home: home}
}

// Contains reports whether the image for (kind, version) is committed.
func (i *Inventory) Contains(kind string, v *semver.Version) bool {
	info, err := os.Stat(i.home.ImageDir(kind, v.String()))
	return err == nil && info.IsDir()
}

// ImageDir returns the committed image directory path. It does not check
// for existence; use Contains first.
func (i *Inventory) ImageDir(kind string, v *semver.Version) string {
	return i.home.ImageDir(kind, v.String())
}

// CommitImage stages a new image with build and atomically publishes it.
// When the image already exists the build is skipped.
func (i *Inventory) CommitImage(kind string, v *semver.Version, build func(stagingDir string) error) error {
	if i.Contains(kind, v) {
		return nil
	}
	if err := fileutils.StageAndCommit(i.home.TmpDir(), i.ImageDir(kind, v), build); err != nil {
		return err
	}
	logger.Debugf("committed image %s/%s", kind, v)
	return nil
}

// KeepArchive moves a downloaded archive into the inventory for offline
// reuse.
func (i *Inventory) KeepArchive(kind, archivePath, filename string) error {
	dest := i.home.InventoryArchive(kind, filename)
	if err := os.MkdirAll(i.home.InventoryBaseDir(kind), 0o755); err != nil {
		return errors.NewFileSystemError("could not create inventory directory", err)
	}
	if err := fileutils.RenameWithRetry(archivePath, dest); err != nil {
		// The archive is a cache; a copy across filesystems is an
		// acceptable fallback when rename is not.
		if copyErr := fileutils.CopyFile(archivePath, dest); copyErr != nil {
			return errors.NewFileSystemError("could not store archive in inventory", copyErr)
		}
		_ = os.Remove(archivePath)
	}
	return nil
}

// Archive returns the kept archive path for (kind, filename) when present.
func (i *Inventory) Archive(kind, filename string) (string, bool) {
	path := i.home.InventoryArchive(kind, filename)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// Versions lists the committed image versions of a kind, ascending.
func (i *Inventory) Versions(kind string) ([]*semver.Version, error) {
	entries, err := os.ReadDir(i.home.ImageBaseDir(kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not list %s images", kind), err)
	}

	var versions []*semver.Version
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		v, err := version.ParseVersion(entry.Name())
		if err != nil {
			logger.Debugf("ignoring stray inventory entry %s/%s", kind, entry.Name())
			continue
		}
		versions = append(versions, v)
	}

	sort.Sort(semver.Collection(versions))
	return versions, nil
}

// BundledNpm reports the npm version bundled with an installed Node image,
// read from the npm manifest inside the image. It returns false when the
// image is absent or carries no npm.
func (i *Inventory) BundledNpm(nodeVersion *semver.Version) (string, bool) {
	imageDir := i.home.ImageDir("node", nodeVersion.String())

	candidates := []string{
		filepath.Join(imageDir, "lib", "node_modules", "npm", "package.json"),
		filepath.Join(imageDir, "node_modules", "npm", "package.json"),
	}
	for _, manifest := range candidates {
		data, err := os.ReadFile(manifest)
		if err != nil {
			continue
		}
		if v := gjson.GetBytes(data, "version").String(); v != "" {
			return v, true
		}
	}
	return "", false
}

// Remove deletes a committed image. The kept archive is left in place so a
// reinstall stays offline-capable.
func (i *Inventory) Remove(kind string, v *semver.Version) error {
	if err := os.RemoveAll(i.ImageDir(kind, v)); err != nil {
		return errors.NewFileSystemError(fmt.Sprintf("could not remove %s image %s", kind, v), err)
	}
	return nil
}
