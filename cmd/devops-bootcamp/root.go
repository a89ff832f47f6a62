package main

import (
	"github.com/spf13/cobra"

	"github.com/txn2/devops-bootcamp/internal/server"
)

type options struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "devops-bootcamp",
		Short:         "DevOps bootcamp sandbox and learning API",
		Version:       server.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"path to configuration file (defaults to in-memory stores and the memory orchestrator)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newReapCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
