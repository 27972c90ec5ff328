// Package archive unpacks tool distributions. Gzip tarballs cover the Unix
// and macOS distributions plus npm registry tarballs; zip covers the
// Windows Node distribution. Entries that would escape the destination are
// rejected.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
)

// Extract unpacks the archive at archivePath into destDir, dispatching on
// the file extension. strip removes that many leading path components from
// every entry, which flattens the single top-level directory that tool
// distributions carry.
func Extract(archivePath, destDir string, strip int, progress fetch.Progress) error {
	if progress == nil {
		progress = fetch.NopProgress
	}

	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return ExtractZip(archivePath, destDir, strip, progress)
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		f, err := os.Open(archivePath)
		if err != nil {
			return errors.NewFileSystemError("could not open archive", err)
		}
		defer f.Close()
		return ExtractTarGz(f, destDir, strip, progress)
	default:
		return errors.NewExtractionError(fmt.Sprintf("unsupported archive format: %s", filepath.Base(archivePath)), nil)
	}
}

// ExtractTarGz streams a gzip-compressed tarball from r into destDir.
func ExtractTarGz(r io.Reader, destDir string, strip int, progress fetch.Progress) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.NewExtractionError("archive is not valid gzip data", err)
	}
	defer gz.Close()

	if progress == nil {
		progress = fetch.NopProgress
	}
	progress.Start("unpacking", -1)
	defer progress.Done()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewExtractionError("archive is malformed", err)
		}

		target, ok, err := entryTarget(destDir, header.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, fileMode(header.Mode, 0o755)); err != nil {
				return errors.NewFileSystemError("could not create directory from archive", err)
			}
		case tar.TypeSymlink:
			if err := safeSymlink(destDir, target, header.Linkname); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, fileMode(header.Mode, 0o644), progress); err != nil {
				return err
			}
		default:
			// Character devices, fifos and the like have no business in a
			// tool distribution.
			continue
		}
	}
}

// ExtractZip unpacks the zip archive at zipPath into destDir.
func ExtractZip(zipPath, destDir string, strip int, progress fetch.Progress) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.NewExtractionError("archive is not a valid zip file", err)
	}
	defer zr.Close()

	if progress == nil {
		progress = fetch.NopProgress
	}
	progress.Start("unpacking", -1)
	defer progress.Done()

	for _, entry := range zr.File {
		target, ok, err := entryTarget(destDir, entry.Name, strip)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.NewFileSystemError("could not create directory from archive", err)
			}
			continue
		}

		rc, err := entry.Open()
		if err != nil {
			return errors.NewExtractionError("could not read archive entry", err)
		}
		err = writeEntry(target, rc, entry.Mode().Perm()|0o400, progress)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// entryTarget validates an archive entry name and maps it to a path inside
// destDir. Entries consumed by strip and bare top-level directories return
// ok=false.
func entryTarget(destDir, name string, strip int) (target string, ok bool, err error) {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, errors.NewExtractionError(fmt.Sprintf("archive entry %q escapes the destination", name), nil)
	}
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", false, errors.NewExtractionError(fmt.Sprintf("archive entry %q escapes the destination", name), nil)
		}
	}

	parts := strings.Split(clean, "/")
	if len(parts) <= strip {
		return "", false, nil
	}
	parts = parts[strip:]

	return filepath.Join(destDir, filepath.Join(parts...)), true, nil
}

// safeSymlink creates a symlink, refusing targets that resolve outside the
// destination tree.
func safeSymlink(destDir, target, linkname string) error {
	resolved := linkname
	if !path.IsAbs(linkname) {
		resolved = filepath.Join(filepath.Dir(target), linkname)
	}
	rel, err := filepath.Rel(destDir, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errors.NewExtractionError(fmt.Sprintf("archive symlink %q escapes the destination", linkname), nil)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewFileSystemError("could not create directory from archive", err)
	}
	if err := os.Symlink(linkname, target); err != nil {
		return errors.NewFileSystemError("could not create symlink from archive", err)
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode, progress fetch.Progress) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewFileSystemError("could not create directory from archive", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return errors.NewFileSystemError("could not create file from archive", err)
	}

	w := bufio.NewWriter(f)
	n, err := io.Copy(w, r)
	progress.Advance(n)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.NewExtractionError("could not write file from archive", err)
	}
	return nil
}

func fileMode(raw int64, fallback os.FileMode) os.FileMode {
	mode := os.FileMode(raw).Perm()
	if mode == 0 {
		return fallback
	}
	return mode
}
