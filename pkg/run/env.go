package run

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/tool"
)

// recursionEnvVar marks an environment where a Volta shim is already on the
// call stack. A second sighting means a shim resolved back into a shim, so
// the pipeline aborts instead of looping.
const recursionEnvVar = "_VOLTA_TOOL_RECURSION"

// shimNameEnvVar carries the invoked tool name from the shim executable to
// the main binary on platforms where argv[0] is unreliable.
const shimNameEnvVar = "VOLTA_SHIM_NAME"

// pnpmFeatureEnvVar gates pnpm support for deployments that keep it off.
// Unset means enabled.
const pnpmFeatureEnvVar = "VOLTA_FEATURE_PNPM"

// pnpmEnabled reports whether pnpm dispatch is enabled.
func pnpmEnabled() bool {
	switch strings.ToLower(os.Getenv(pnpmFeatureEnvVar)) {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}

// toolchainPath returns the PATH value for a child process: the resolved
// image bin directories prepended to the caller's PATH with Volta's own
// entries removed.
func toolchainPath(home *layout.Home, plat *platform.Platform) string {
	bins := []string{home.ImageBinDir(string(tool.KindNode), plat.Node.Value.String())}
	if plat.Npm != nil {
		bins = append(bins, home.ImageBinDir(string(tool.KindNpm), plat.Npm.Value.String()))
	}
	if plat.Pm != nil {
		pm := plat.Pm.Value
		bins = append(bins, home.ImageBinDir(string(pm.Kind), pm.Version.String()))
	}

	return strings.Join(append(bins, systemPathEntries(home)...), string(os.PathListSeparator))
}

// systemPath returns the caller's PATH with Volta's entries removed; this
// is the environment a bypassed invocation sees.
func systemPath(home *layout.Home) string {
	return strings.Join(systemPathEntries(home), string(os.PathListSeparator))
}

func systemPathEntries(home *layout.Home) []string {
	var kept []string
	for _, entry := range filepath.SplitList(os.Getenv("PATH")) {
		if isVoltaPathEntry(home, entry) {
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

func isVoltaPathEntry(home *layout.Home, entry string) bool {
	for _, own := range home.EnvPaths() {
		if pathsEqual(entry, own) {
			return true
		}
	}
	return false
}

func pathsEqual(a, b string) bool {
	if runtime.GOOS == "windows" {
		return strings.EqualFold(filepath.Clean(a), filepath.Clean(b))
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// childEnv builds the environment for the spawned tool: the caller's
// environment with PATH replaced and the recursion sentinel set.
func childEnv(pathValue string) []string {
	env := os.Environ()
	out := env[:0]
	for _, entry := range env {
		key, _, ok := strings.Cut(entry, "=")
		if !ok {
			continue
		}
		if strings.EqualFold(key, "PATH") || key == recursionEnvVar || key == shimNameEnvVar {
			continue
		}
		out = append(out, entry)
	}
	out = append(out, "PATH="+pathValue, recursionEnvVar+"=1")
	return out
}

// findOnPath locates name on the given PATH value, honoring PATHEXT
// semantics only to the extent of the .exe and .cmd suffixes on Windows.
func findOnPath(name, pathValue string) (string, bool) {
	candidates := []string{name}
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		candidates = append(candidates, name+".exe", name+".cmd")
	}

	for _, dir := range filepath.SplitList(pathValue) {
		if dir == "" {
			continue
		}
		for _, candidate := range candidates {
			full := filepath.Join(dir, candidate)
			if info, err := os.Stat(full); err == nil && !info.IsDir() {
				return full, true
			}
		}
	}
	return "", false
}
