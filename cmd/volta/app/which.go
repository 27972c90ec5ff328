package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var whichCmd = &cobra.Command{
	Use:   "which <command>",
	Short: "Print the path the shim for a command would dispatch to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, err := newSession()
		if err != nil {
			return err
		}

		path, err := session.Which(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}
