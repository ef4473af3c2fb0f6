package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ctapemu version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ctapemu", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
