// Package packages maintains the registry of globally installed packages
// and the shims for the binaries they declare. Records live under
// tools/user: one file per package, one file per binary pointing back at
// its package. The invariant maintained here is that every recorded binary
// has a shim on disk and every non-builtin shim has exactly one record.
package packages

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fileutils"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/version"
)

// Loader kinds for a binary entry.
const (
	// LoaderScript marks a JavaScript entry point run through Node.
	LoaderScript = "script"
	// LoaderBinary marks a native executable.
	LoaderBinary = "binary"
)

// BinaryEntry describes one binary a package declares.
type BinaryEntry struct {
	Name string `json:"name"`
	// Path is the entry point location relative to the package image root.
	Path   string `json:"path"`
	Loader string `json:"loader"`
}

// PlatformRecord is the serialized platform a package was installed with.
type PlatformRecord struct {
	Node string `json:"node"`
	Npm  string `json:"npm,omitempty"`
	Yarn string `json:"yarn,omitempty"`
	Pnpm string `json:"pnpm,omitempty"`
}

// RecordFrom captures a resolved platform as a serializable record.
func RecordFrom(plat *platform.Platform) PlatformRecord {
	rec := PlatformRecord{Node: plat.Node.Value.String()}
	if plat.Npm != nil {
		rec.Npm = plat.Npm.Value.String()
	}
	if plat.Pm != nil {
		pm := plat.Pm.Value
		if pm.Kind == platform.PmYarn {
			rec.Yarn = pm.Version.String()
		} else {
			rec.Pnpm = pm.Version.String()
		}
	}
	return rec
}

// ToPlatform converts the record to a Platform with binary-sourced
// versions.
func (r PlatformRecord) ToPlatform() (*platform.Platform, error) {
	plat := &platform.Platform{}

	if r.Node == "" {
		return nil, errors.NewBugError("a package record is missing its node version", nil)
	}
	node, err := version.ParseVersion(r.Node)
	if err != nil {
		return nil, errors.NewInputError("a package record has a malformed node version", err)
	}
	plat.Node = platform.NewSourced(node, platform.SourceBinary)

	if r.Npm != "" {
		npm, err := version.ParseVersion(r.Npm)
		if err != nil {
			return nil, errors.NewInputError("a package record has a malformed npm version", err)
		}
		plat.Npm = platform.NewSourced(npm, platform.SourceBinary)
	}

	pmRaw, pmKind := r.Yarn, platform.PmYarn
	if pmRaw == "" {
		pmRaw, pmKind = r.Pnpm, platform.PmPnpm
	}
	if pmRaw != "" {
		pm, err := version.ParseVersion(pmRaw)
		if err != nil {
			return nil, errors.NewInputError("a package record has a malformed package manager version", err)
		}
		plat.Pm = platform.NewSourced(platform.Pm{Kind: pmKind, Version: pm}, platform.SourceBinary)
	}

	return plat, nil
}

// PackageConfig is the per-package record.
type PackageConfig struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Platform PlatformRecord `json:"platform"`
	// ImageDir is the root of the unpacked package the binaries resolve
	// against; binary paths are relative to it.
	ImageDir string        `json:"image_dir"`
	Bins     []BinaryEntry `json:"bins"`
}

// BinConfig is the per-binary record pointing back at its package.
type BinConfig struct {
	Name    string `json:"name"`
	Package string `json:"package"`
	Version string `json:"version"`
	Path    string `json:"path"`
	Loader  string `json:"loader"`
	// LinkStrategy records how the shim was created so uninstall can
	// reverse it.
	LinkStrategy string `json:"link_strategy"`
}

// Registry is the user-package registry rooted at a home.
type Registry struct {
	home *layout.Home
}

// New returns the Registry for a home.
func New(home *layout.Home) *Registry {
	return &Registry{home: home}
}

// Get returns the record for a package, or nil when it is not installed.
func (r *Registry) Get(name string) (*PackageConfig, error) {
	data, err := os.ReadFile(r.home.PackageConfigFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read the record for %s", name), err)
	}

	var cfg PackageConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("the record for %s is malformed", name), err)
	}
	return &cfg, nil
}

// GetBin returns the record for a binary name, or nil when no package
// declares it.
func (r *Registry) GetBin(name string) (*BinConfig, error) {
	data, err := os.ReadFile(r.home.BinConfigFile(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read the record for binary %s", name), err)
	}

	var cfg BinConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("the record for binary %s is malformed", name), err)
	}
	return &cfg, nil
}

// List returns all installed package records, sorted by name.
func (r *Registry) List() ([]PackageConfig, error) {
	var configs []PackageConfig

	root := r.home.PackageConfigDir()
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			// The file may be mid-replace; skip rather than fail the listing.
			logger.Debugf("skipping unreadable package record %s: %v", path, err)
			return nil
		}
		var cfg PackageConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			logger.Debugf("skipping malformed package record %s", path)
			return nil
		}
		configs = append(configs, cfg)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.NewFileSystemError("could not list installed packages", err)
	}

	sort.Slice(configs, func(i, j int) bool { return configs[i].Name < configs[j].Name })
	return configs, nil
}

// StagedPackage carries everything needed to record an installed package.
type StagedPackage struct {
	Name     string
	Version  *semver.Version
	Platform PlatformRecord
	ImageDir string
	Bins     []BinaryEntry
}

// Install records a package and creates its shims, advancing through the
// install state machine: Detected -> Staged (bins computed by the caller)
// -> ShimmedPartial (shims created) -> Recorded (records written). Any
// failure rolls back everything created so far, in reverse order.
//
// Reinstalling an already-recorded package first removes the records and
// shims of binaries the new version no longer declares, so no shim ever
// outlives its BinaryEntry.
func (r *Registry) Install(staged StagedPackage, shimExecutable string) error {
	if err := r.removeDroppedBins(staged); err != nil {
		return err
	}

	var createdShims []string
	var createdBinConfigs []string

	rollback := func() {
		for idx := len(createdBinConfigs) - 1; idx >= 0; idx-- {
			_ = os.Remove(createdBinConfigs[idx])
		}
		for idx := len(createdShims) - 1; idx >= 0; idx-- {
			_ = os.Remove(createdShims[idx])
		}
	}

	// ShimmedPartial: one shim per declared binary.
	strategies := make(map[string]fileutils.LinkStrategy, len(staged.Bins))
	for _, bin := range staged.Bins {
		shim := r.home.Shim(bin.Name)
		strategy, err := fileutils.CreateShimLink(shimExecutable, shim)
		if err != nil {
			rollback()
			return errors.NewFileSystemError(fmt.Sprintf("could not create a shim for %s", bin.Name), err)
		}
		createdShims = append(createdShims, shim)
		strategies[bin.Name] = strategy
	}

	// Recorded: per-binary records, then the package record last so a
	// package record always implies complete binary records.
	for _, bin := range staged.Bins {
		cfg := BinConfig{
			Name:         bin.Name,
			Package:      staged.Name,
			Version:      staged.Version.String(),
			Path:         bin.Path,
			Loader:       bin.Loader,
			LinkStrategy: string(strategies[bin.Name]),
		}
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			rollback()
			return errors.NewBugError("could not serialize a binary record", err)
		}
		path := r.home.BinConfigFile(bin.Name)
		if err := fileutils.WriteFileAtomic(path, append(data, '\n'), 0o644); err != nil {
			rollback()
			return errors.NewFileSystemError(fmt.Sprintf("could not write the record for binary %s", bin.Name), err)
		}
		createdBinConfigs = append(createdBinConfigs, path)
	}

	pkg := PackageConfig{
		Name:     staged.Name,
		Version:  staged.Version.String(),
		Platform: staged.Platform,
		ImageDir: staged.ImageDir,
		Bins:     staged.Bins,
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		rollback()
		return errors.NewBugError("could not serialize a package record", err)
	}
	if err := fileutils.WriteFileAtomic(r.home.PackageConfigFile(staged.Name), append(data, '\n'), 0o644); err != nil {
		rollback()
		return errors.NewFileSystemError(fmt.Sprintf("could not write the record for %s", staged.Name), err)
	}

	logger.Infow("installed package", "package", staged.Name, "version", staged.Version.String())
	return nil
}

// removeDroppedBins deletes the binary records and shims an earlier
// install of the package created for names the staged version no longer
// declares.
func (r *Registry) removeDroppedBins(staged StagedPackage) error {
	existing, err := r.Get(staged.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	declared := make(map[string]bool, len(staged.Bins))
	for _, bin := range staged.Bins {
		declared[bin.Name] = true
	}

	for _, old := range existing.Bins {
		if declared[old.Name] {
			continue
		}
		if err := os.Remove(r.home.BinConfigFile(old.Name)); err != nil && !os.IsNotExist(err) {
			return errors.NewFileSystemError(fmt.Sprintf("could not remove the stale record for binary %s", old.Name), err)
		}
		if err := os.Remove(r.home.Shim(old.Name)); err != nil && !os.IsNotExist(err) {
			return errors.NewFileSystemError(fmt.Sprintf("could not remove the stale shim for %s", old.Name), err)
		}
		logger.Debugf("removed binary %s no longer declared by %s", old.Name, staged.Name)
	}
	return nil
}

// Uninstall removes a package's binary records, their shims, and finally
// the package record. After it returns no dangling shim or binary record
// referencing the package remains.
func (r *Registry) Uninstall(name string) error {
	cfg, err := r.Get(name)
	if err != nil {
		return err
	}
	if cfg == nil {
		return errors.NewInputError(fmt.Sprintf("%s is not installed", name), nil)
	}

	for _, bin := range cfg.Bins {
		if err := os.Remove(r.home.BinConfigFile(bin.Name)); err != nil && !os.IsNotExist(err) {
			return errors.NewFileSystemError(fmt.Sprintf("could not remove the record for binary %s", bin.Name), err)
		}
		if err := os.Remove(r.home.Shim(bin.Name)); err != nil && !os.IsNotExist(err) {
			return errors.NewFileSystemError(fmt.Sprintf("could not remove the shim for %s", bin.Name), err)
		}
	}

	if err := os.Remove(r.home.PackageConfigFile(name)); err != nil && !os.IsNotExist(err) {
		return errors.NewFileSystemError(fmt.Sprintf("could not remove the record for %s", name), err)
	}

	logger.Infow("uninstalled package", "package", name)
	return nil
}

// DiscoverBins reads the bin declarations from the package manifest inside
// an unpacked package image. The manifest's bin field is either a single
// path (the binary takes the package's base name) or a map of names to
// paths.
func DiscoverBins(imageDir, pkgName string) ([]BinaryEntry, error) {
	data, err := os.ReadFile(filepath.Join(imageDir, "package.json"))
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read the manifest of %s", pkgName), err)
	}

	binField := gjson.GetBytes(data, "bin")
	if !binField.Exists() {
		return nil, nil
	}

	var bins []BinaryEntry
	appendBin := func(name, path string) {
		bins = append(bins, BinaryEntry{
			Name:   name,
			Path:   filepath.FromSlash(path),
			Loader: loaderFor(path),
		})
	}

	if binField.IsObject() {
		binField.ForEach(func(name, path gjson.Result) bool {
			appendBin(name.String(), path.String())
			return true
		})
	} else {
		base := pkgName
		if idx := strings.LastIndex(pkgName, "/"); idx >= 0 {
			base = pkgName[idx+1:]
		}
		appendBin(base, binField.String())
	}

	sort.Slice(bins, func(i, j int) bool { return bins[i].Name < bins[j].Name })
	return bins, nil
}

// loaderFor classifies a bin entry point: JavaScript and extensionless
// entry points run through Node, anything else executes directly.
func loaderFor(path string) string {
	switch filepath.Ext(path) {
	case ".js", ".cjs", ".mjs":
		return LoaderScript
	default:
		// npm treats extensionless entry points as scripts too.
		if filepath.Ext(path) == "" {
			return LoaderScript
		}
		return LoaderBinary
	}
}
