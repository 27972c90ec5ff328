// Package main is the shim executable. Copies (or symlinks) of this binary
// sit on the PATH under tool names; each invocation re-execs the main volta
// binary, forwarding the invoked name through the environment for platforms
// where argv[0] does not survive.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

const shimNameEnvVar = "VOLTA_SHIM_NAME"

func main() {
	name := invokedName()
	if name == "volta-shim" {
		fmt.Fprintln(os.Stderr, "volta-shim must be invoked through a tool shim, not directly")
		os.Exit(1)
	}

	volta, err := voltaExecutable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "volta-shim: %v\n", err)
		os.Exit(1)
	}

	cmd := exec.Command(volta, os.Args[1:]...) // #nosec G204 - volta is a sibling of this executable
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), shimNameEnvVar+"="+name)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "volta-shim: %v\n", err)
		os.Exit(1)
	}
}

// invokedName is the tool name this shim was invoked as. Symlinked shims
// surface it in argv[0]; copied shims surface it as the executable name.
func invokedName() string {
	base := filepath.Base(os.Args[0])
	if runtime.GOOS == "windows" {
		base = strings.ToLower(base)
	}
	return strings.TrimSuffix(base, ".exe")
}

// voltaExecutable locates the main binary next to this one.
func voltaExecutable() (string, error) {
	// The shim may be a symlink into the Volta home bin directory; resolve
	// the real location first.
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(self); err == nil {
		self = resolved
	}

	name := "volta"
	if runtime.GOOS == "windows" {
		name += ".exe"
	}

	candidate := filepath.Join(filepath.Dir(self), name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	// Fall back to PATH lookup for split installations.
	return exec.LookPath(name)
}
