// Package fileutils provides filesystem primitives shared by the install
// pipeline: staged atomic commits, atomic file writes, recursive copies,
// and shim link creation with graduated fallback.
package fileutils

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/stacklok/volta/pkg/logger"
)

const (
	renameAttempts    = 10
	renameMaxInterval = 200 * time.Millisecond
	renameMaxElapsed  = time.Second
)

// LinkStrategy records how a shim was materialized on disk, so uninstall
// can reverse it.
type LinkStrategy string

// Link strategies, in fallback order.
const (
	LinkSymlink  LinkStrategy = "symlink"
	LinkHardlink LinkStrategy = "hardlink"
	LinkCopy     LinkStrategy = "copy"
)

// StageAndCommit creates a uniquely named directory under tmpDir, invokes
// build with it, and on success atomically renames it to dest. On error the
// staging directory is removed. If a concurrent committer wins the rename
// race, the staged copy is discarded and the committed result stands.
func StageAndCommit(tmpDir, dest string, build func(stagingDir string) error) error {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging root: %w", err)
	}

	stagingDir := filepath.Join(tmpDir, "staging-"+uuid.NewString())
	if err := os.Mkdir(stagingDir, 0o755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := build(stagingDir); err != nil {
		_ = os.RemoveAll(stagingDir)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = os.RemoveAll(stagingDir)
		return fmt.Errorf("failed to create parent of %s: %w", dest, err)
	}

	if err := RenameWithRetry(stagingDir, dest); err != nil {
		_ = os.RemoveAll(stagingDir)
		if _, statErr := os.Stat(dest); statErr == nil {
			logger.Debugf("another process committed %s first", dest)
			return nil
		}
		return fmt.Errorf("failed to commit %s: %w", dest, err)
	}

	return nil
}

// RenameWithRetry renames oldpath to newpath. On Windows the rename is
// retried with backoff because antivirus and indexing services briefly hold
// handles on freshly written files.
func RenameWithRetry(oldpath, newpath string) error {
	if runtime.GOOS != "windows" {
		return os.Rename(oldpath, newpath)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 10 * time.Millisecond
	expBackoff.MaxInterval = renameMaxInterval

	ctx, cancel := context.WithTimeout(context.Background(), renameMaxElapsed)
	defer cancel()

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, os.Rename(oldpath, newpath)
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxTries(renameAttempts))
	return err
}

// WriteFileAtomic writes data to a sibling temp file and renames it into
// place, so readers never observe a partial write.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return fmt.Errorf("failed to set mode on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := RenameWithRetry(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename %s into place: %w", path, err)
	}
	return nil
}

// CopyFile copies a single file, preserving its mode.
func CopyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// CopyDir recursively copies the tree rooted at src to dest, preserving
// file modes. Symlinks inside the tree are recreated, not followed.
func CopyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return CopyFile(path, target)
		}
	})
}

// CreateShimLink materializes a shim at dest pointing at the shim
// executable src. Symlinks are preferred; hardlinks and plain copies are
// the fallbacks for filesystems and platforms where symlinks fail. The
// returned strategy is persisted so uninstall can reverse the operation.
func CreateShimLink(src, dest string) (LinkStrategy, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create shim directory: %w", err)
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to replace existing shim %s: %w", dest, err)
	}

	if runtime.GOOS != "windows" {
		if err := os.Symlink(src, dest); err == nil {
			return LinkSymlink, nil
		}
		logger.Debugf("symlink creation failed for %s, trying hardlink", dest)
	}

	if err := os.Link(src, dest); err == nil {
		return LinkHardlink, nil
	}
	logger.Debugf("hardlink creation failed for %s, copying", dest)

	if err := CopyFile(src, dest); err != nil {
		return "", fmt.Errorf("failed to create shim %s: %w", dest, err)
	}
	return LinkCopy, nil
}

// ReadJSONFile reads the file and unmarshals it with the supplied decode
// function, returning os.ErrNotExist unchanged so callers can re-read files
// that may be mid-rename.
func ReadJSONFile(path string, decode func([]byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return decode(data)
}
