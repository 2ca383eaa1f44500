package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/neuralock/neuralock/cmd/neuralock/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("neuralock %s (%s)\n", build.Version, build.Commit)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
