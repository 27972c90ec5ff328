// Package run is the entry point for shim dispatch: it identifies the
// requested tool from the invoked name, resolves the effective platform,
// ensures the required images are installed, and executes the real binary
// with a reconstructed environment. Package manager commands that mutate
// the global tree trigger reconciliation after a successful exit.
package run

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/fetch"
	"github.com/stacklok/volta/pkg/hooks"
	"github.com/stacklok/volta/pkg/install"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/lock"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/packages"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/project"
	"github.com/stacklok/volta/pkg/registry"
	"github.com/stacklok/volta/pkg/resolver"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/toolchain"
)

// bypassEnvVar, when non-empty, disables the entire pipeline and delegates
// to the system PATH.
const bypassEnvVar = "VOLTA_BYPASS"

// Session wires the pipeline for one invocation. State is initialized once
// at entry and passed explicitly.
type Session struct {
	Home      *layout.Home
	Resolver  *resolver.Resolver
	Installer *install.Installer
	Packages  *packages.Registry
	Registry  *registry.Service
	Hooks     *hooks.Config

	// ShimExecutable is the binary copied or linked for each shim.
	ShimExecutable string
}

// NewSession discovers the project, loads hooks, and wires the pipeline
// for the current directory.
func NewSession(home *layout.Home) (*Session, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, errors.NewFileSystemError("could not determine the current directory", err)
	}

	proj, err := project.Find(cwd)
	if err != nil {
		return nil, err
	}

	var roots []string
	if proj != nil {
		roots = proj.WorkspaceRoots()
	}
	hookCfg, err := hooks.Load(home, roots)
	if err != nil {
		return nil, err
	}

	pkgs := packages.New(home)
	res, err := resolver.New(proj, toolchain.New(home), pkgs)
	if err != nil {
		return nil, err
	}

	client := fetch.New(home.CacheDir())
	reg := registry.NewService(client, hookCfg)

	return &Session{
		Home:           home,
		Resolver:       res,
		Installer:      install.New(home, client, reg, fetch.NopProgress),
		Packages:       pkgs,
		Registry:       reg,
		Hooks:          hookCfg,
		ShimExecutable: defaultShimExecutable(),
	}, nil
}

// defaultShimExecutable locates the shim binary next to the running
// executable.
func defaultShimExecutable() string {
	exe, err := os.Executable()
	if err != nil {
		return "volta-shim"
	}
	name := "volta-shim"
	if filepath.Ext(exe) == ".exe" {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(exe), name)
}

// Execute dispatches the invoked tool with the remaining args and returns
// the exit code to report. The cli platform carries run-command overrides
// and may be nil.
func (s *Session) Execute(ctx context.Context, invokedName string, args []string, cli *platform.Platform) (int, error) {
	if os.Getenv(bypassEnvVar) != "" {
		return s.executeBypass(ctx, invokedName, args)
	}

	if os.Getenv(recursionEnvVar) != "" {
		return errors.ExitGeneric, errors.NewBugError(
			fmt.Sprintf("infinite shim loop detected while running %s", invokedName), nil)
	}

	t := tool.FromCommandName(invokedName)

	plat, err := s.Resolver.EffectivePlatform(cli, t)
	if err != nil {
		return errors.ExitCode(err), err
	}

	if err := s.Installer.EnsurePlatform(ctx, plat); err != nil {
		return errors.ExitCode(err), err
	}

	argv, err := s.buildCommand(t, invokedName, plat, args)
	if err != nil {
		return errors.ExitCode(err), err
	}

	pathValue := toolchainPath(s.Home, plat)
	code, err := s.spawn(ctx, argv, childEnv(pathValue))
	if err != nil {
		return code, err
	}

	if code == 0 {
		s.interceptGlobals(t, plat, args)
	}
	s.publishToolEvent(invokedName, code)
	return code, nil
}

// publishToolEvent reports the invocation through the events.publish hook,
// when one is configured.
func (s *Session) publishToolEvent(invokedName string, exitCode int) {
	if s.Hooks == nil {
		return
	}
	payload, err := json.Marshal([]map[string]any{{
		"name":      invokedName,
		"event":     "tool-end",
		"exit_code": exitCode,
	}})
	if err != nil {
		return
	}
	s.Hooks.PublishEvents(payload)
}

// executeBypass delegates to the first matching binary on the PATH entries
// that do not belong to Volta. No directory under the Volta home is read.
func (s *Session) executeBypass(ctx context.Context, invokedName string, args []string) (int, error) {
	pathValue := systemPath(s.Home)
	exe, ok := findOnPath(invokedName, pathValue)
	if !ok {
		return errors.ExitGeneric, errors.NewInputError(
			fmt.Sprintf("could not find %s on the PATH with Volta bypassed", invokedName), nil)
	}

	env := os.Environ()
	out := env[:0]
	for _, entry := range env {
		if len(entry) >= 5 && (entry[:5] == "PATH=" || entry[:5] == "Path=") {
			continue
		}
		out = append(out, entry)
	}
	out = append(out, "PATH="+pathValue)

	return s.spawn(ctx, append([]string{exe}, args...), out)
}

// buildCommand maps the tool to its real executable and the final argv.
func (s *Session) buildCommand(t tool.Tool, invokedName string, plat *platform.Platform, args []string) ([]string, error) {
	nodeBin := s.Home.ImageBinDir(string(tool.KindNode), plat.Node.Value.String())

	switch t.Kind {
	case tool.KindNode:
		exe, ok := findOnPath("node", nodeBin)
		if !ok {
			return nil, errors.NewBugError("the node image is missing its executable", nil)
		}
		return append([]string{exe}, args...), nil

	case tool.KindNpm:
		// npm and npx ship with the Node image unless a separate npm is
		// pinned.
		cmd := "npm"
		if base := filepath.Base(invokedName); base == "npx" || base == "npx.exe" {
			cmd = "npx"
		}
		searchDir := nodeBin
		if plat.Npm != nil {
			searchDir = s.Home.ImageBinDir(string(tool.KindNpm), plat.Npm.Value.String())
		}
		exe, ok := findOnPath(cmd, searchDir)
		if !ok {
			return nil, errors.NewBugError(fmt.Sprintf("the npm image is missing %s", cmd), nil)
		}
		return append([]string{exe}, args...), nil

	case tool.KindYarn, tool.KindPnpm:
		if t.Kind == tool.KindPnpm && !pnpmEnabled() {
			return nil, errors.NewNotConfiguredError(
				"pnpm support is disabled by VOLTA_FEATURE_PNPM in this environment", nil)
		}
		if plat.Pm == nil || plat.Pm.Value.Kind != platform.PmKind(t.Kind) {
			return nil, errors.NewNotConfiguredError(
				fmt.Sprintf("no %s version is configured: pin one with `volta pin %s` or install a default", t, t), nil)
		}
		pm := plat.Pm.Value
		binDir := s.Home.ImageBinDir(string(pm.Kind), pm.Version.String())
		exe, ok := findOnPath(string(pm.Kind), binDir)
		if !ok {
			return nil, errors.NewBugError(fmt.Sprintf("the %s image is missing its executable", pm.Kind), nil)
		}
		return append([]string{exe}, args...), nil

	case tool.KindPackageBin:
		return s.buildBinaryCommand(t.Name, plat, args)

	default:
		return nil, errors.NewBugError(fmt.Sprintf("cannot execute %s directly", t), nil)
	}
}

// buildBinaryCommand resolves a package binary: the project-local copy
// wins only when the project declares the owning package as a direct
// dependency; otherwise the user-package registry's image is used.
func (s *Session) buildBinaryCommand(binName string, plat *platform.Platform, args []string) ([]string, error) {
	nodeBin := s.Home.ImageBinDir(string(tool.KindNode), plat.Node.Value.String())
	nodeExe, ok := findOnPath("node", nodeBin)
	if !ok {
		return nil, errors.NewBugError("the node image is missing its executable", nil)
	}

	bin, err := s.Packages.GetBin(binName)
	if err != nil {
		return nil, err
	}

	// A bin brought in only by a transitive dependency must not shadow
	// the installed version, so the local preference is gated on the
	// owning package being a direct dependency of the project.
	if proj := s.Resolver.Project(); proj != nil && bin != nil && proj.HasDirectDependency(bin.Package) {
		if local, found := proj.FindBin(binName); found {
			return append([]string{nodeExe, local}, args...), nil
		}
	}

	if bin == nil {
		return nil, errors.NewNotConfiguredError(
			fmt.Sprintf("%s is not a Volta-managed command: install its package with `volta install`", binName), nil)
	}
	pkg, err := s.Packages.Get(bin.Package)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, errors.NewBugError(fmt.Sprintf("binary %s has no package record", binName), nil)
	}

	entry := filepath.Join(pkg.ImageDir, bin.Path)
	if bin.Loader == packages.LoaderScript {
		return append([]string{nodeExe, entry}, args...), nil
	}
	return append([]string{entry}, args...), nil
}

// spawn runs argv with the given environment, wiring the standard streams
// through and forwarding interrupt signals to the child. The returned code
// is the child's exit code.
func (s *Session) spawn(ctx context.Context, argv []string, env []string) (int, error) {
	cmd := exec.Command(argv[0], argv[1:]...) // #nosec G204 - argv is resolved from managed images
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		return errors.ExitGeneric, errors.NewChildFailedError(
			fmt.Sprintf("could not start %s", filepath.Base(argv[0])), err)
	}

	// Forward interrupts to the child and report an interrupted exit when
	// the context dies first.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	for {
		select {
		case sig := <-signals:
			_ = cmd.Process.Signal(sig)
		case <-ctx.Done():
			_ = cmd.Process.Signal(os.Interrupt)
			<-done
			return errors.ExitInterrupted, errors.NewInterruptedError("interrupted", ctx.Err())
		case err := <-done:
			if err == nil {
				return 0, nil
			}
			var exitErr *exec.ExitError
			if stderrors.As(err, &exitErr) {
				// The child's exit code is propagated, not wrapped.
				return exitErr.ExitCode(), nil
			}
			return errors.ExitGeneric, errors.NewChildFailedError(
				fmt.Sprintf("%s did not run to completion", filepath.Base(argv[0])), err)
		}
	}
}

// interceptGlobals reconciles the user-package registry after a package
// manager command that mutated the global tree. Failures are reported but
// never change the child's exit code.
func (s *Session) interceptGlobals(t tool.Tool, plat *platform.Platform, args []string) {
	var cmd globalCommand
	switch t.Kind {
	case tool.KindNpm:
		cmd = parseGlobalCommand("", true, args)
	case tool.KindYarn:
		cmd = parseGlobalCommand(platform.PmYarn, false, args)
	case tool.KindPnpm:
		cmd = parseGlobalCommand(platform.PmPnpm, false, args)
	default:
		return
	}
	if !cmd.mutatesGlobals() {
		return
	}

	ctx := context.Background()
	if err := lock.WithExclusive(ctx, s.Home, func() error {
		return s.reconcileGlobals(plat)
	}); err != nil {
		logger.Warnf("could not update the Volta package registry: %v", err)
	}
}
