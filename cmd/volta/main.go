// Package main is the entry point for the Volta CLI and for shim dispatch:
// when the binary is invoked under a tool's name (via a shim), it executes
// that tool instead of the command surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/stacklok/volta/cmd/volta/app"
	"github.com/stacklok/volta/pkg/crashlog"
	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/layout"
	"github.com/stacklok/volta/pkg/logger"
	"github.com/stacklok/volta/pkg/run"
)

func main() {
	logger.Initialize()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if name, ok := invokedToolName(); ok {
		os.Exit(dispatchShim(ctx, name))
	}

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(exitWith(err))
	}
}

// invokedToolName reports the tool name when this process was started
// through a shim: either argv[0] carries the tool's name, or the shim
// executable forwarded it in the environment.
func invokedToolName() (string, bool) {
	if name := os.Getenv("VOLTA_SHIM_NAME"); name != "" {
		return name, true
	}

	base := strings.TrimSuffix(filepath.Base(os.Args[0]), ".exe")
	if strings.EqualFold(base, "volta") {
		return "", false
	}
	return base, true
}

func dispatchShim(ctx context.Context, name string) int {
	home, err := layout.Default()
	if err != nil {
		fmt.Fprintf(os.Stderr, "volta: %v\n", err)
		return errors.ExitGeneric
	}

	session, err := run.NewSession(home)
	if err != nil {
		return reportError(home, err)
	}

	code, err := session.Execute(ctx, name, os.Args[1:], nil)
	if err != nil {
		return reportError(home, err)
	}
	return code
}

func exitWith(err error) int {
	home, homeErr := layout.Default()
	if homeErr != nil {
		fmt.Fprintf(os.Stderr, "volta: %v\n", err)
		return errors.ExitCode(err)
	}
	return reportError(home, err)
}

func reportError(home *layout.Home, err error) int {
	fmt.Fprintf(os.Stderr, "volta: %v\n", err)
	if crashlog.ShouldReport(err) {
		if path := crashlog.Write(home, os.Args, err); path != "" {
			fmt.Fprintf(os.Stderr, "volta: a crash report was written to %s\n", path)
		}
	}
	return errors.ExitCode(err)
}
