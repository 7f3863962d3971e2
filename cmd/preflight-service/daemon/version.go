package daemon

import (
	"fmt"

	"github.com/helix-pages/preflight/internal/constants"
	"github.com/spf13/cobra"
)

func (a *App) installVersion() {
	a.cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version of " + constants.CmdName + " and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s\t%s\n", constants.CmdName, constants.Version)
		},
	})
}
