package cmd

import (
	"fmt"

	"github.com/Layr-Labs/raffle-sidecar/internal/version"
	"github.com/spf13/cobra"
)

var runVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version of the sidecar",
	Run: func(cmd *cobra.Command, args []string) {
		bindCommandFlags(cmd)

		v := version.GetVersion()
		commit := version.GetCommit()

		fmt.Printf("RaffleSidecarVersion: %s\nCommit: %s\n", v, commit)
	},
}
