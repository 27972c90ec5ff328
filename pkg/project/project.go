// Package project discovers the enclosing Node project and reads its
// pinned toolchain from the volta key of package.json, following workspace
// extends chains. Project data is read-only for the duration of an
// invocation; only pin mutates the manifest, under the exclusive lock.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/version"
)

const manifestName = "package.json"

// Project is a discovered Node project.
type Project struct {
	// ManifestPath is the absolute path of the root package.json.
	ManifestPath string

	// Platform holds the pinned toolchain, nil when the project (and its
	// extends chain) pins nothing.
	Platform *platform.Platform

	// ExtendsChain lists the manifests reached through volta.extends, in
	// traversal order.
	ExtendsChain []string

	// dependencies maps direct and dev dependency names to their declared
	// ranges, nearest manifest first.
	dependencies map[string]string
}

// Dir returns the project root directory.
func (p *Project) Dir() string {
	return filepath.Dir(p.ManifestPath)
}

// WorkspaceRoots returns the directories of the project manifest and every
// manifest on the extends chain, nearest first.
func (p *Project) WorkspaceRoots() []string {
	roots := []string{p.Dir()}
	for _, manifest := range p.ExtendsChain {
		roots = append(roots, filepath.Dir(manifest))
	}
	return roots
}

// HasDirectDependency reports whether the project declares the package as
// a direct (or dev) dependency anywhere on the chain.
func (p *Project) HasDirectDependency(name string) bool {
	_, ok := p.dependencies[name]
	return ok
}

// FindBin searches the workspace roots for a project-local binary under
// node_modules/.bin, returning its path when present.
func (p *Project) FindBin(name string) (string, bool) {
	for _, root := range p.WorkspaceRoots() {
		candidate := filepath.Join(root, "node_modules", ".bin", name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
	}
	return "", false
}

// Find walks upward from startDir and returns the nearest enclosing
// project, or nil when none exists.
func Find(startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, errors.NewFileSystemError("could not determine the current directory", err)
	}

	for {
		manifest := filepath.Join(dir, manifestName)
		if info, err := os.Stat(manifest); err == nil && !info.IsDir() {
			return load(manifest)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// load reads the manifest at manifestPath and follows its extends chain.
func load(manifestPath string) (*Project, error) {
	p := &Project{
		ManifestPath: manifestPath,
		dependencies: make(map[string]string),
	}

	visited := map[string]bool{manifestPath: true}
	current := manifestPath
	var merged *platform.Platform

	for {
		parsed, err := parseManifest(current)
		if err != nil {
			return nil, err
		}

		for name, rng := range parsed.dependencies {
			if _, ok := p.dependencies[name]; !ok {
				p.dependencies[name] = rng
			}
		}

		if parsed.platform != nil {
			if merged == nil {
				merged = parsed.platform
			} else {
				// Manifests closer to the project win.
				merged = merged.Merge(parsed.platform)
			}
		}

		if parsed.extends == "" {
			break
		}

		next, err := resolveExtends(current, parsed.extends)
		if err != nil {
			return nil, err
		}
		if visited[next] {
			return nil, errors.NewInputError(fmt.Sprintf("circular volta.extends chain through %s", next), nil)
		}
		visited[next] = true
		p.ExtendsChain = append(p.ExtendsChain, next)
		current = next
	}

	p.Platform = merged
	return p, nil
}

// resolveExtends resolves an extends reference against the referring
// manifest. The target must stay within the workspace: its directory has
// to be an ancestor or sibling of the referring manifest's directory.
func resolveExtends(fromManifest, ref string) (string, error) {
	if filepath.IsAbs(ref) {
		return "", errors.NewInputError(fmt.Sprintf("volta.extends in %s must be a relative path", fromManifest), nil)
	}

	fromDir := filepath.Dir(fromManifest)
	target, err := filepath.Abs(filepath.Join(fromDir, ref))
	if err != nil {
		return "", errors.NewFileSystemError("could not resolve volta.extends path", err)
	}

	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		return "", errors.NewInputError(fmt.Sprintf("volta.extends in %s does not reference a manifest file", fromManifest), err)
	}

	if !withinWorkspace(fromDir, filepath.Dir(target)) {
		return "", errors.NewInputError(
			fmt.Sprintf("volta.extends in %s references a manifest outside the workspace", fromManifest), nil)
	}

	return target, nil
}

// withinWorkspace reports whether targetDir is an ancestor of fromDir or a
// sibling subtree under a shared parent.
func withinWorkspace(fromDir, targetDir string) bool {
	if isAncestor(targetDir, fromDir) {
		return true
	}
	parent := filepath.Dir(fromDir)
	return isAncestor(parent, targetDir)
}

func isAncestor(ancestor, dir string) bool {
	rel, err := filepath.Rel(ancestor, dir)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// parsedManifest is the subset of a manifest the core reads.
type parsedManifest struct {
	platform     *platform.Platform
	extends      string
	dependencies map[string]string
}

func parseManifest(path string) (*parsedManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read %s", path), err)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.NewInputError(fmt.Sprintf("%s is not valid JSON", path), nil)
	}

	parsed := &parsedManifest{dependencies: make(map[string]string)}

	for _, key := range []string{"dependencies", "devDependencies"} {
		gjson.GetBytes(data, key).ForEach(func(name, rng gjson.Result) bool {
			parsed.dependencies[name.String()] = rng.String()
			return true
		})
	}

	volta := gjson.GetBytes(data, "volta")
	if !volta.Exists() {
		return parsed, nil
	}
	if !volta.IsObject() {
		return nil, errors.NewInputError(fmt.Sprintf("the volta key in %s must be an object", path), nil)
	}

	parsed.extends = volta.Get("extends").String()

	plat := &platform.Platform{}
	if node := volta.Get("node"); node.Exists() {
		v, err := version.ParseVersion(node.String())
		if err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("the volta.node pin in %s must be an exact version", path), err)
		}
		plat.Node = platform.NewSourced(v, platform.SourceProject)
	}
	if npm := volta.Get("npm"); npm.Exists() {
		v, err := version.ParseVersion(npm.String())
		if err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("the volta.npm pin in %s must be an exact version", path), err)
		}
		plat.Npm = platform.NewSourced(v, platform.SourceProject)
	}

	// yarn and pnpm share the single package manager slot; yarn wins when
	// both are pinned in one manifest, matching the key order of the
	// serialization contract.
	for _, pm := range []struct {
		key  string
		kind platform.PmKind
	}{{"yarn", platform.PmYarn}, {"pnpm", platform.PmPnpm}} {
		entry := volta.Get(pm.key)
		if !entry.Exists() || plat.Pm != nil {
			continue
		}
		v, err := version.ParseVersion(entry.String())
		if err != nil {
			return nil, errors.NewInputError(fmt.Sprintf("the volta.%s pin in %s must be an exact version", pm.key, path), err)
		}
		plat.Pm = platform.NewSourced(platform.Pm{Kind: pm.kind, Version: v}, platform.SourceProject)
	}

	if !plat.IsEmpty() {
		parsed.platform = plat
	}
	return parsed, nil
}
