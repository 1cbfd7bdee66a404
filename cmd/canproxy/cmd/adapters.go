package cmd

import (
	"fmt"

	"github.com/obdsim/canproxy"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "List available CAN adapters",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, a := range canproxy.ListAdapters() {
			fmt.Fprintln(cmd.OutOrStdout(), a.String())
		}
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}
