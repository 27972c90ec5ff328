// Package hooks loads and applies user-configured hook overrides for
// registry URLs. Hooks live in hooks.json files, project scope before user
// scope, and each slot (index, distro, latest) can rewrite a URL by prefix
// or template, or delegate to an external command whose stdout supplies the
// result.
package hooks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/tool"
)

// Template placeholders substituted by template hooks.
const (
	archTemplate     = "{{arch}}"
	osTemplate       = "{{os}}"
	versionTemplate  = "{{version}}"
	extTemplate      = "{{ext}}"
	filenameTemplate = "{{filename}}"
)

// Hook is one URL override. Exactly one of Prefix, Template, or Bin is set.
type Hook struct {
	Prefix   string   `json:"prefix,omitempty"`
	Template string   `json:"template,omitempty"`
	Bin      string   `json:"bin,omitempty"`
	Args     []string `json:"args,omitempty"`

	// baseDir is the directory of the hooks.json that declared this hook;
	// relative bin paths resolve against it.
	baseDir string
}

func (h *Hook) validate() error {
	set := 0
	for _, s := range []string{h.Prefix, h.Template, h.Bin} {
		if s != "" {
			set++
		}
	}
	if set != 1 {
		return errors.NewInputError("hook must declare exactly one of prefix, template, or bin", nil)
	}
	return nil
}

// Vars carries the substitution values for template hooks.
type Vars struct {
	Version  string
	Filename string
	OS       string
	Arch     string
}

// Resolve applies the hook to produce a URL.
func (h *Hook) Resolve(vars Vars) (string, error) {
	switch {
	case h.Prefix != "":
		return h.Prefix + vars.Filename, nil
	case h.Template != "":
		return strings.NewReplacer(
			archTemplate, vars.Arch,
			osTemplate, vars.OS,
			extTemplate, extension(vars.Filename),
			filenameTemplate, vars.Filename,
			versionTemplate, vars.Version,
		).Replace(h.Template), nil
	default:
		return h.runBin(vars.Version)
	}
}

// runBin executes the hook command and returns its trimmed stdout. The
// version, when known, is appended as a final argument.
func (h *Hook) runBin(version string) (string, error) {
	bin := h.Bin
	if strings.HasPrefix(bin, "./") || strings.HasPrefix(bin, "../") {
		bin = filepath.Join(h.baseDir, bin)
	}

	args := h.Args
	if version != "" {
		args = append(append([]string{}, h.Args...), version)
	}

	cmd := exec.Command(bin, args...)
	cmd.Dir = h.baseDir
	cmd.Stderr = os.Stderr

	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	logger.Debugf("running hook command: %s %s", bin, strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		return "", errors.NewInputError(fmt.Sprintf("hook command %q failed", h.Bin), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// extension returns the file extension for the {{ext}} placeholder,
// treating .tar.gz as one extension.
func extension(filename string) string {
	if strings.HasSuffix(filename, ".tar.gz") {
		return "tar.gz"
	}
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return ext
}

// ToolHooks are the hook slots for a single tool.
type ToolHooks struct {
	Index  *Hook `json:"index,omitempty"`
	Distro *Hook `json:"distro,omitempty"`
	Latest *Hook `json:"latest,omitempty"`
}

// merge fills empty slots from other, keeping the receiver's entries.
func (t ToolHooks) merge(other ToolHooks) ToolHooks {
	if t.Index == nil {
		t.Index = other.Index
	}
	if t.Distro == nil {
		t.Distro = other.Distro
	}
	if t.Latest == nil {
		t.Latest = other.Latest
	}
	return t
}

// EventHooks configure event publication.
type EventHooks struct {
	Publish *Hook `json:"publish,omitempty"`
}

// Config is the merged hook configuration for one invocation.
type Config struct {
	Node   ToolHooks  `json:"node,omitempty"`
	Npm    ToolHooks  `json:"npm,omitempty"`
	Pnpm   ToolHooks  `json:"pnpm,omitempty"`
	Yarn   ToolHooks  `json:"yarn,omitempty"`
	Events EventHooks `json:"events,omitempty"`
}

// ForTool returns the hook slots for a tool kind. Package binaries share
// the npm registry hooks.
func (c *Config) ForTool(k tool.Kind) ToolHooks {
	if c == nil {
		return ToolHooks{}
	}
	switch k {
	case tool.KindNode:
		return c.Node
	case tool.KindPnpm:
		return c.Pnpm
	case tool.KindYarn:
		return c.Yarn
	default:
		return c.Npm
	}
}

func (c *Config) merge(other *Config) *Config {
	c.Node = c.Node.merge(other.Node)
	c.Npm = c.Npm.merge(other.Npm)
	c.Pnpm = c.Pnpm.merge(other.Pnpm)
	c.Yarn = c.Yarn.merge(other.Yarn)
	if c.Events.Publish == nil {
		c.Events.Publish = other.Events.Publish
	}
	return c
}

// Load reads and merges the hook configuration: one hooks.json per
// workspace root (project scope, highest priority first) followed by the
// user-scope file. Hook files may carry comments and trailing commas.
func Load(home *layout.Home, workspaceRoots []string) (*Config, error) {
	merged := &Config{}

	paths := make([]string, 0, len(workspaceRoots)+1)
	for _, root := range workspaceRoots {
		paths = append(paths, filepath.Join(root, ".volta", "hooks.json"))
	}
	paths = append(paths, home.UserHooksFile())

	for _, path := range paths {
		cfg, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			merged = merged.merge(cfg)
		}
	}
	return merged, nil
}

func loadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewFileSystemError(fmt.Sprintf("could not read hooks file %s", path), err)
	}

	standard, err := hujson.Standardize(raw)
	if err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("hooks file %s is not valid JSON", path), err)
	}

	var cfg Config
	if err := json.Unmarshal(standard, &cfg); err != nil {
		return nil, errors.NewInputError(fmt.Sprintf("hooks file %s has an invalid shape", path), err)
	}

	baseDir := filepath.Dir(path)
	for _, hooks := range []*ToolHooks{&cfg.Node, &cfg.Npm, &cfg.Pnpm, &cfg.Yarn} {
		for _, h := range []*Hook{hooks.Index, hooks.Distro, hooks.Latest} {
			if h == nil {
				continue
			}
			if err := h.validate(); err != nil {
				return nil, err
			}
			h.baseDir = baseDir
		}
	}
	if cfg.Events.Publish != nil {
		if err := cfg.Events.Publish.validate(); err != nil {
			return nil, err
		}
		cfg.Events.Publish.baseDir = baseDir
	}

	logger.Debugf("loaded hooks from %s", path)
	return &cfg, nil
}
