package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

const publicNpmRegistry = "https://registry.npmjs.org"

// npmAcceptHeader requests the abbreviated metadata document from the npm
// registry, which is dramatically smaller than the full form.
// See https://github.com/npm/registry/blob/master/docs/responses/package-metadata.md
const npmAcceptHeader = "application/vnd.npm.install-v1+json; q=1.0, application/json; q=0.8, */*"

// packageMetadata is the npm registry metadata document, abbreviated form.
type packageMetadata struct {
	Name     string                    `json:"name"`
	DistTags map[string]string         `json:"dist-tags"`
	Versions map[string]packageVersion `json:"versions"`
}

type packageVersion struct {
	Version string   `json:"version"`
	Dist    distInfo `json:"dist"`
}

type distInfo struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum"`
	Integrity string `json:"integrity"`
}

// metadataURL is the registry document for a package. Scoped names keep
// their slash; the registry accepts both encodings.
func metadataURL(name string) string {
	return publicNpmRegistry + "/" + name
}

func (s *Service) fetchPackageMetadata(ctx context.Context, k tool.Kind, name string) (*packageMetadata, error) {
	indexURL, err := applyMetadataHook(s.hooksFor(k).Index, metadataURL(name), name, hooks.Vars{OS: s.osName, Arch: s.arch})
	if err != nil {
		return nil, err
	}

	body, err := s.client.WithHeader("Accept", npmAcceptHeader).Fetch(ctx, indexURL, fetch.UseIfFreshFor(indexMaxAge))
	if err != nil {
		return nil, errors.NewRegistryFetchError(fmt.Sprintf("could not download registry metadata for %s", name), err)
	}

	var meta packageMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, errors.NewRegistryFetchError(fmt.Sprintf("registry metadata for %s is malformed", name), err)
	}
	return &meta, nil
}

// resolvePackage picks a concrete version of a registry package for the
// specifier. Tags resolve through dist-tags; ranges pick the highest
// published version that satisfies them.
func (s *Service) resolvePackage(ctx context.Context, t tool.Tool, name string, spec version.Spec) (*semver.Version, error) {
	meta, err := s.fetchPackageMetadata(ctx, t.Kind, name)
	if err != nil {
		return nil, err
	}

	if spec.Type == version.TypeTag || spec.Type == version.TypeNone {
		tag := spec.Tag
		if spec.Type == version.TypeNone {
			tag = version.TagLatest
		}
		raw, ok := meta.DistTags[tag]
		if !ok {
			return nil, errors.NewNoMatchingError(fmt.Sprintf("package %s has no %q tag", name, tag), nil)
		}
		return version.ParseVersion(raw)
	}

	candidates := make([]*semver.Version, 0, len(meta.Versions))
	for raw := range meta.Versions {
		v, err := version.ParseVersion(raw)
		if err != nil {
			logger.Debugf("skipping unparseable version %q of %s", raw, name)
			continue
		}
		candidates = append(candidates, v)
	}

	if best := spec.LatestMatch(candidates); best != nil {
		return best, nil
	}
	return nil, errors.NewNoMatchingError(fmt.Sprintf("no version of %s matching %q", name, spec), nil)
}

// packageDistro locates the tarball for a package version, preferring the
// registry-declared tarball URL and digests when the version is published.
func (s *Service) packageDistro(ctx context.Context, t tool.Tool, name string, v *semver.Version) (Distro, error) {
	filename := tarballFilename(name, v)

	distro := Distro{
		URL:      fmt.Sprintf("%s/-/%s", metadataURL(name), filename),
		Filename: filename,
	}

	meta, err := s.fetchPackageMetadata(ctx, t.Kind, name)
	if err == nil {
		if entry, ok := meta.Versions[v.String()]; ok && entry.Dist.Tarball != "" {
			distro.URL = entry.Dist.Tarball
			distro.Shasum = entry.Dist.Shasum
			distro.Integrity = entry.Dist.Integrity
		}
	} else {
		// The derived URL still works for an exact version when the
		// registry is unreachable but the archive host is not.
		logger.Warnf("could not confirm %s@%s against the registry: %v", name, v, err)
	}

	if hook := s.hooksFor(t.Kind).Distro; hook != nil {
		hooked, err := hook.Resolve(hooks.Vars{
			Version:  v.String(),
			Filename: filename,
			OS:       s.osName,
			Arch:     s.arch,
		})
		if err != nil {
			return Distro{}, err
		}
		distro.URL = hooked
	}

	return distro, nil
}

// tarballFilename is the registry's archive naming: the scope prefix is
// dropped from the file name.
func tarballFilename(name string, v *semver.Version) string {
	base := name
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		base = name[idx+1:]
	}
	return fmt.Sprintf("%s-%s.tgz", base, v)
}
