package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version, overridden at build time:
// go build -ldflags "-X github.com/xkilldash9x/nexus-agent/cmd.Version=1.0.0"
var Version = "0.1.0-dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nexus version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nexus %s\n", Version)
		},
	}
}
