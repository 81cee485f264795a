package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "socialdesk.yaml"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "sd",
		Short:         "Socialdesk: social channel helpdesk",
		Long:          "Socialdesk imports posts, mentions and direct messages from social accounts into helpdesk tickets.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTicketCmd())
	cmd.AddCommand(newChannelCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sd %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
