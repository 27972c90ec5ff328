package run

import (
	"os"
	"strings"

	"github.com/stacklok/volta/pkg/platform"
)

// unsafeGlobalEnvVar disables global-command interception entirely.
const unsafeGlobalEnvVar = "VOLTA_UNSAFE_GLOBAL"

// The alias tables the package managers accept for their mutating
// subcommands. npm's are generated from its command list; treat these as
// the configurable token sets for global-command detection.
var (
	npmInstallAliases = []string{
		"i", "in", "ins", "inst", "insta", "instal", "install",
		"isnt", "isnta", "isntal", "isntall", "add",
	}
	npmUninstallAliases = []string{"un", "uninstall", "unlink", "remove", "rm", "r"}
	npmUpdateAliases    = []string{"update", "udpate", "upgrade", "up"}

	pnpmInstallAliases   = []string{"add", "install", "i"}
	pnpmUninstallAliases = []string{"remove", "uninstall", "rm", "un", "unlink"}
	pnpmUpdateAliases    = []string{"update", "upgrade", "up"}

	yarnGlobalActions = map[string]globalAction{
		"add":     actionInstall,
		"remove":  actionUninstall,
		"upgrade": actionUpdate,
	}
)

// globalAction classifies a detected global mutation.
type globalAction int

const (
	actionNone globalAction = iota
	actionInstall
	actionUninstall
	actionUpdate
)

// globalCommand is the parse result for a package manager invocation.
type globalCommand struct {
	action globalAction
	// tools are the positional package arguments, when any.
	tools []string
}

// mutatesGlobals reports whether the invocation touches the global package
// tree and should trigger reconciliation after a successful child exit.
func (g globalCommand) mutatesGlobals() bool {
	return g.action != actionNone
}

// parseGlobalCommand inspects a package manager's argv for a mutating
// global command. VOLTA_UNSAFE_GLOBAL disables detection.
func parseGlobalCommand(pmKind platform.PmKind, isNpm bool, args []string) globalCommand {
	if os.Getenv(unsafeGlobalEnvVar) != "" {
		return globalCommand{}
	}

	if isNpm {
		return parseNpmCommand(args)
	}
	switch pmKind {
	case platform.PmYarn:
		return parseYarnCommand(args)
	case platform.PmPnpm:
		return parsePnpmCommand(args)
	default:
		return globalCommand{}
	}
}

func parseNpmCommand(args []string) globalCommand {
	positionals, flags := splitArgs(args)
	if len(positionals) == 0 {
		return globalCommand{}
	}
	if !hasGlobalFlag(flags) || hasFlag(flags, "--prefix") {
		return globalCommand{}
	}

	cmd, tools := positionals[0], positionals[1:]
	switch {
	case contains(npmInstallAliases, cmd):
		if len(tools) == 0 {
			return globalCommand{}
		}
		return globalCommand{action: actionInstall, tools: tools}
	case contains(npmUninstallAliases, cmd):
		if len(tools) == 0 {
			return globalCommand{}
		}
		return globalCommand{action: actionUninstall, tools: tools}
	case contains(npmUpdateAliases, cmd):
		return globalCommand{action: actionUpdate, tools: tools}
	case cmd == "link" || cmd == "ln":
		return globalCommand{action: actionInstall, tools: tools}
	default:
		return globalCommand{}
	}
}

func parseYarnCommand(args []string) globalCommand {
	positionals, _ := splitArgs(args)
	if len(positionals) < 2 || positionals[0] != "global" {
		return globalCommand{}
	}

	action, ok := yarnGlobalActions[positionals[1]]
	if !ok {
		return globalCommand{}
	}
	return globalCommand{action: action, tools: positionals[2:]}
}

func parsePnpmCommand(args []string) globalCommand {
	positionals, flags := splitArgs(args)
	if len(positionals) == 0 {
		return globalCommand{}
	}
	if !hasGlobalFlag(flags) || hasFlag(flags, "--global-dir") {
		return globalCommand{}
	}

	cmd, tools := positionals[0], positionals[1:]
	switch {
	case contains(pnpmInstallAliases, cmd):
		if len(tools) == 0 {
			return globalCommand{}
		}
		return globalCommand{action: actionInstall, tools: tools}
	case contains(pnpmUninstallAliases, cmd):
		if len(tools) == 0 {
			return globalCommand{}
		}
		return globalCommand{action: actionUninstall, tools: tools}
	case contains(pnpmUpdateAliases, cmd), cmd == "link" || cmd == "ln":
		return globalCommand{action: actionUpdate, tools: tools}
	default:
		return globalCommand{}
	}
}

// splitArgs separates positionals from flags. Flag values passed with = stay
// attached to their flag.
func splitArgs(args []string) (positionals, flags []string) {
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
		} else {
			positionals = append(positionals, arg)
		}
	}
	return positionals, flags
}

func hasGlobalFlag(flags []string) bool {
	for _, f := range flags {
		if f == "--global" || f == "-g" {
			return true
		}
		// Grouped short flags, e.g. -gD.
		if len(f) > 1 && f[0] == '-' && f[1] != '-' && strings.ContainsRune(f[1:], 'g') {
			return true
		}
	}
	return false
}

func hasFlag(flags []string, name string) bool {
	for _, f := range flags {
		if f == name || strings.HasPrefix(f, name+"=") {
			return true
		}
	}
	return false
}

func contains(list []string, s string) bool {
	for _, entry := range list {
		if entry == s {
			return true
		}
	}
	return false
}
