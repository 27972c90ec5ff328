package app

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stacklok/volta/pkg/errors"
	"github.com/stacklok/volta/pkg/platform"
	"github.com/stacklok/volta/pkg/run"
	"github.com/stacklok/volta/pkg/tool"
	"github.com/stacklok/volta/pkg/toolchain"
)

func newListCmd() *cobra.Command {
	var showCurrent, showDefault, showAll bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Report the project, default, and inventory toolchain state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			session, err := newSession()
			if err != nil {
				return err
			}

			switch {
			case showDefault:
				return listDefault(session)
			case showAll:
				return listAll(session)
			default:
				_ = showCurrent
				return listCurrent(session)
			}
		},
	}

	cmd.Flags().BoolVar(&showCurrent, "current", false, "show the effective toolchain here (default)")
	cmd.Flags().BoolVar(&showDefault, "default", false, "show the user default toolchain")
	cmd.Flags().BoolVar(&showAll, "all", false, "show everything in the inventory")
	cmd.MarkFlagsMutuallyExclusive("current", "default", "all")

	return cmd
}

func listCurrent(session *run.Session) error {
	plat, err := session.CurrentPlatform(nil)
	if err != nil {
		if errors.IsNotConfigured(err) {
			fmt.Println("no toolchain configured here; run `volta install node` to set one up")
			return nil
		}
		return err
	}

	table := newTable("TOOL", "VERSION", "SOURCE")
	appendRow(table, "node", plat.Node.Value.String(), string(plat.Node.Source))
	if plat.Npm != nil {
		appendRow(table, "npm", plat.Npm.Value.String(), string(plat.Npm.Source))
	} else if bundled, ok := session.Installer.Inventory().BundledNpm(plat.Node.Value); ok {
		appendRow(table, "npm", bundled, "bundled with node")
	} else {
		appendRow(table, "npm", "bundled with node", "")
	}
	if plat.Pm != nil {
		pm := plat.Pm.Value
		appendRow(table, string(pm.Kind), pm.Version.String(), string(plat.Pm.Source))
	}
	return table.Render()
}

func listDefault(session *run.Session) error {
	plat, err := toolchain.New(session.Home).Load()
	if err != nil {
		return err
	}
	if plat == nil {
		fmt.Println("no default toolchain set; run `volta install node` to set one up")
		return nil
	}

	if plat.Node != nil {
		fmt.Printf("node: %s\n", plat.Node.Value)
	}
	fmt.Printf("npm: %s\n", describeNpm(plat))
	if plat.Pm != nil {
		fmt.Printf("%s: %s\n", plat.Pm.Value.Kind, plat.Pm.Value.Version)
	}
	return nil
}

func describeNpm(plat *platform.Platform) string {
	if plat.Npm == nil {
		return "bundled with node"
	}
	return platform.Describe(plat.Npm)
}

func listAll(session *run.Session) error {
	table := newTable("TOOL", "VERSIONS")

	inv := session.Installer.Inventory()
	for _, kind := range []string{
		string(tool.KindNode), string(tool.KindNpm), string(tool.KindYarn), string(tool.KindPnpm),
	} {
		versions, err := inv.Versions(kind)
		if err != nil {
			return err
		}
		if len(versions) == 0 {
			continue
		}
		row := ""
		for idx, v := range versions {
			if idx > 0 {
				row += ", "
			}
			row += v.String()
		}
		appendRow(table, kind, row)
	}

	pkgs, err := session.Packages.List()
	if err != nil {
		return err
	}
	for _, pkg := range pkgs {
		appendRow(table, pkg.Name, pkg.Version)
	}

	return table.Render()
}

func newTable(headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.Options(
		tablewriter.WithHeader(headers),
	)
	return table
}

func appendRow(table *tablewriter.Table, cells ...string) {
	if err := table.Append(cells); err != nil {
		fmt.Fprintf(os.Stderr, "failed to append row: %v\n", err)
	}
}
