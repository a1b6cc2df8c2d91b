package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "canvasd",
		Short: "Real-time session server for the collaborative canvas",
		Long: `canvasd accepts WebSocket connections from canvas clients, keeps every
session alive with pings and relays frames between them.

Use 'canvasd help <command>' for more information on a specific command.`,
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newClassifyCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("canvasd failed")
		os.Exit(1)
	}
}
