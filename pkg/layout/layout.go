// Package layout names every persistent path under the Volta home directory.
// It is the single source of truth for where images, inventory, registries,
// shims, caches, and temp files live. The package is pure path computation
// and never touches the filesystem.
package layout

import (
	"os"
	"path/filepath"
	"runtime"
)

// HomeEnvVar overrides the Volta home directory when set.
const HomeEnvVar = "VOLTA_HOME"

// Home describes the on-disk tree rooted at the Volta home directory.
type Home struct {
	root string
}

// New returns a Home rooted at the given directory.
func New(root string) *Home {
	return &Home{root: root}
}

// Default returns the Home for the current user, honoring VOLTA_HOME.
func Default() (*Home, error) {
	if env := os.Getenv(HomeEnvVar); env != "" {
		return New(env), nil
	}

	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return New(filepath.Join(local, "Volta")), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return New(filepath.Join(home, ".volta")), nil
}

// Root returns the Volta home directory itself.
func (h *Home) Root() string {
	return h.root
}

// ShimDir returns the directory holding one shim per tool name.
func (h *Home) ShimDir() string {
	return filepath.Join(h.root, "bin")
}

// Shim returns the path of the shim for the named tool.
func (h *Home) Shim(name string) string {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	return filepath.Join(h.ShimDir(), name)
}

// CacheDir returns the HTTP cache directory for index documents.
func (h *Home) CacheDir() string {
	return filepath.Join(h.root, "cache")
}

// LogDir returns the crash report directory.
func (h *Home) LogDir() string {
	return filepath.Join(h.root, "log")
}

// TmpDir returns the staging directory for atomic installs.
func (h *Home) TmpDir() string {
	return filepath.Join(h.root, "tmp")
}

// LockFile returns the path of the advisory lock gating all mutations.
func (h *Home) LockFile() string {
	return filepath.Join(h.root, "volta.lock")
}

// ToolsDir returns the root of the tools subtree.
func (h *Home) ToolsDir() string {
	return filepath.Join(h.root, "tools")
}

// ImageBaseDir returns the directory holding all unpacked images of a kind.
func (h *Home) ImageBaseDir(kind string) string {
	return filepath.Join(h.ToolsDir(), "image", kind)
}

// ImageDir returns the directory of a single unpacked image.
func (h *Home) ImageDir(kind, version string) string {
	return filepath.Join(h.ImageBaseDir(kind), version)
}

// ImageBinDir returns the directory inside an image that holds executables.
// Unix distributions unpack with a bin/ subdirectory; Windows zip archives
// place the executables at the image root.
func (h *Home) ImageBinDir(kind, version string) string {
	if runtime.GOOS == "windows" {
		return h.ImageDir(kind, version)
	}
	return filepath.Join(h.ImageDir(kind, version), "bin")
}

// InventoryBaseDir returns the directory of downloaded archives for a kind.
func (h *Home) InventoryBaseDir(kind string) string {
	return filepath.Join(h.ToolsDir(), "inventory", kind)
}

// InventoryArchive returns the path of a kept archive file.
func (h *Home) InventoryArchive(kind, filename string) string {
	return filepath.Join(h.InventoryBaseDir(kind), filename)
}

// UserDir returns the user-scope registry directory.
func (h *Home) UserDir() string {
	return filepath.Join(h.ToolsDir(), "user")
}

// UserPlatformFile returns the path of the user default platform record.
func (h *Home) UserPlatformFile() string {
	return filepath.Join(h.UserDir(), "platform.json")
}

// UserHooksFile returns the path of the user-scope hooks file.
func (h *Home) UserHooksFile() string {
	return filepath.Join(h.UserDir(), "hooks.json")
}

// PackageConfigDir returns the directory of user package records.
func (h *Home) PackageConfigDir() string {
	return filepath.Join(h.UserDir(), "packages")
}

// PackageConfigFile returns the record path for a named user package.
func (h *Home) PackageConfigFile(name string) string {
	return filepath.Join(h.PackageConfigDir(), name+".json")
}

// BinConfigDir returns the directory of per-binary records.
func (h *Home) BinConfigDir() string {
	return filepath.Join(h.UserDir(), "bins")
}

// BinConfigFile returns the record path for a named binary.
func (h *Home) BinConfigFile(name string) string {
	return filepath.Join(h.BinConfigDir(), name+".json")
}

// EnvPaths returns the PATH entries Volta contributes to a shell. Run uses
// this to strip Volta's own directories before prepending image bin dirs.
func (h *Home) EnvPaths() []string {
	return []string{h.ShimDir()}
}
