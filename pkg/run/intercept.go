package run

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/packages"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

// bundledGlobals are packages present in every global prefix that must
// never be projected into the user-package registry.
var bundledGlobals = map[string]bool{
	"npm":      true,
	"corepack": true,
	"yarn":     true,
	"pnpm":     true,
}

// globalPackageRoots lists the node_modules directories the platform's
// package managers install global packages into. Absent directories are
// simply skipped; the package manager is the source of truth.
func (s *Session) globalPackageRoots(plat *platform.Platform) []string {
	nodeImage := s.Home.ImageDir(string(tool.KindNode), plat.Node.Value.String())

	roots := []string{
		// npm's global prefix is the Node installation itself.
		filepath.Join(nodeImage, "lib", "node_modules"),
		filepath.Join(nodeImage, "node_modules"),
	}

	if home, err := os.UserHomeDir(); err == nil {
		// Yarn classic's global tree.
		roots = append(roots, filepath.Join(home, ".config", "yarn", "global", "node_modules"))
	}
	if pnpmHome := os.Getenv("PNPM_HOME"); pnpmHome != "" {
		roots = append(roots, filepath.Join(pnpmHome, "global", "node_modules"))
	}
	return roots
}

// reconcileGlobals diffs the global prefix trees against the user-package
// registry and projects the difference: packages added by the child are
// recorded and shimmed, packages it removed are unregistered.
func (s *Session) reconcileGlobals(plat *platform.Platform) error {
	roots := s.globalPackageRoots(plat)
	observed := make(map[string]string)
	for _, root := range roots {
		collectGlobalPackages(root, observed)
	}

	recorded, err := s.Packages.List()
	if err != nil {
		return err
	}
	recordedByName := make(map[string]packages.PackageConfig, len(recorded))
	for _, cfg := range recorded {
		recordedByName[cfg.Name] = cfg
	}

	// Added or replaced packages.
	for name, dir := range observed {
		current, manifestVersion, ok := readPackageIdentity(dir)
		if !ok {
			logger.Debugf("skipping global package at %s: unreadable manifest", dir)
			continue
		}

		if prev, exists := recordedByName[current]; exists && prev.Version == manifestVersion {
			continue
		}
		if err := s.recordGlobalPackage(name, dir, manifestVersion, plat); err != nil {
			logger.Warnf("could not record global package %s: %v", name, err)
		}
	}

	// Removed packages. Only records whose image lies in one of the global
	// prefix trees are candidates; packages installed into the inventory
	// with `volta install` are not the package manager's to remove.
	for name, cfg := range recordedByName {
		if _, stillThere := observed[name]; stillThere {
			continue
		}
		inPrefix := false
		for _, root := range roots {
			if strings.HasPrefix(cfg.ImageDir, root+string(filepath.Separator)) {
				inPrefix = true
			}
		}
		if !inPrefix {
			continue
		}
		if err := s.Packages.Uninstall(name); err != nil {
			logger.Warnf("could not unregister removed package %s: %v", name, err)
		}
	}

	return nil
}

// collectGlobalPackages maps package names to their directories under one
// global node_modules root, descending into scope directories.
func collectGlobalPackages(root string, out map[string]string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()

		if strings.HasPrefix(name, "@") {
			scoped, err := os.ReadDir(filepath.Join(root, name))
			if err != nil {
				continue
			}
			for _, member := range scoped {
				if !member.IsDir() {
					continue
				}
				full := name + "/" + member.Name()
				if !bundledGlobals[full] {
					out[full] = filepath.Join(root, name, member.Name())
				}
			}
			continue
		}

		if name == ".bin" || bundledGlobals[name] {
			continue
		}
		out[name] = filepath.Join(root, name)
	}
}

// readPackageIdentity returns the name and version declared by the package
// manifest in dir.
func readPackageIdentity(dir string) (name, ver string, ok bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return "", "", false
	}
	name = gjson.GetBytes(data, "name").String()
	ver = gjson.GetBytes(data, "version").String()
	return name, ver, name != "" && ver != ""
}

// recordGlobalPackage runs the install state machine for one package the
// package manager added.
func (s *Session) recordGlobalPackage(name, dir, rawVersion string, plat *platform.Platform) error {
	v, err := version.ParseVersion(rawVersion)
	if err != nil {
		return err
	}

	bins, err := packages.DiscoverBins(dir, name)
	if err != nil {
		return err
	}

	return s.Packages.Install(packages.StagedPackage{
		Name:     name,
		Version:  v,
		Platform: packages.RecordFrom(plat),
		ImageDir: dir,
		Bins:     bins,
	}, s.ShimExecutable)
}
