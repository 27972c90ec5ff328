package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/Masterminds/semver/v3"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/version"
)

const publicNodeIndex = "https://nodejs.org/dist/index.json"

// nodeEntry is one element of the Node version index. The index is sorted
// newest first.
type nodeEntry struct {
	Version string   `json:"version"`
	Date    string   `json:"date"`
	Files   []string `json:"files"`
	// LTS is false or the release line name.
	LTS ltsField `json:"lts"`
}

// ltsField tolerates the index's false-or-string encoding.
type ltsField struct {
	Name string
}

func (l *ltsField) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		l.Name = name
		return nil
	}
	// Anything that is not a string (false, null) means "not LTS".
	l.Name = ""
	return nil
}

func (l ltsField) IsLts() bool {
	return l.Name != ""
}

// nodeOSName returns the OS component of Node distribution names.
func nodeOSName() string {
	switch runtime.GOOS {
	case "windows":
		return "win"
	default:
		return runtime.GOOS
	}
}

// nodeArch returns the architecture component of Node distribution names.
func nodeArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "x86"
	case "arm":
		return "armv7l"
	default:
		return runtime.GOARCH
	}
}

// indexFileToken is the entry expected in a release's files list for this
// host; releases without it do not run here.
func (s *Service) indexFileToken() string {
	switch s.osName {
	case "darwin":
		return "osx-" + s.arch + "-tar"
	case "win":
		return "win-" + s.arch + "-zip"
	default:
		return s.osName + "-" + s.arch
	}
}

func (s *Service) fetchNodeIndex(ctx context.Context, indexURL string) ([]nodeEntry, error) {
	body, err := s.client.Fetch(ctx, indexURL, fetch.UseIfFreshFor(indexMaxAge))
	if err != nil {
		return nil, errors.NewRegistryFetchError("could not download Node version index", err)
	}

	var entries []nodeEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, errors.NewRegistryFetchError("Node version index is malformed", err)
	}
	return entries, nil
}

// resolveNode picks a concrete Node version for the specifier. The chosen
// version is the newest whose files list matches this host.
func (s *Service) resolveNode(ctx context.Context, spec version.Spec) (*semver.Version, error) {
	nodeHooks := s.hooksFor(tool.KindNode)

	indexURL := publicNodeIndex
	hook := nodeHooks.Index
	if spec.Type == version.TypeTag && spec.Tag == version.TagLatest && nodeHooks.Latest != nil {
		hook = nodeHooks.Latest
	}
	indexURL, err := applyMetadataHook(hook, indexURL, "index.json", hooks.Vars{OS: s.osName, Arch: s.arch})
	if err != nil {
		return nil, err
	}

	entries, err := s.fetchNodeIndex(ctx, indexURL)
	if err != nil {
		return nil, err
	}

	var accept func(nodeEntry, *semver.Version) bool
	switch {
	case spec.Type == version.TypeSemver:
		accept = func(_ nodeEntry, v *semver.Version) bool { return spec.Matches(v) }
	case spec.Type == version.TypeNone, spec.Type == version.TypeTag && spec.Tag == version.TagLts:
		accept = func(e nodeEntry, _ *semver.Version) bool { return e.LTS.IsLts() }
	case spec.Type == version.TypeTag && spec.Tag == version.TagLatest:
		accept = func(nodeEntry, *semver.Version) bool { return true }
	default:
		// Node has no dist-tags beyond latest and lts.
		return nil, errors.NewNoMatchingError(fmt.Sprintf("no Node version matching %q", spec), nil)
	}

	token := s.indexFileToken()
	for _, entry := range entries {
		v, err := version.ParseVersion(entry.Version)
		if err != nil {
			logger.Debugf("skipping unparseable index entry %q", entry.Version)
			continue
		}
		if !hasFile(entry.Files, token) {
			continue
		}
		if accept(entry, v) {
			return v, nil
		}
	}

	return nil, errors.NewNoMatchingError(fmt.Sprintf("no Node version matching %q is available for this platform", spec), nil)
}

func hasFile(files []string, token string) bool {
	for _, f := range files {
		if f == token {
			return true
		}
	}
	return false
}

// nodeDistroFilename is the archive name for a Node version on this host.
func (s *Service) nodeDistroFilename(v *semver.Version) string {
	ext := "tar.gz"
	if s.osName == "win" {
		ext = "zip"
	}
	return fmt.Sprintf("node-v%s-%s-%s.%s", v, s.osName, s.arch, ext)
}

func (s *Service) nodeDistro(v *semver.Version) (Distro, error) {
	filename := s.nodeDistroFilename(v)
	url := fmt.Sprintf("https://nodejs.org/dist/v%s/%s", v, filename)

	if hook := s.hooksFor(tool.KindNode).Distro; hook != nil {
		hooked, err := hook.Resolve(hooks.Vars{
			Version:  v.String(),
			Filename: filename,
			OS:       s.osName,
			Arch:     s.arch,
		})
		if err != nil {
			return Distro{}, err
		}
		url = hooked
	}

	return Distro{URL: url, Filename: filename}, nil
}
