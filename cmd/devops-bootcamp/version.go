package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/txn2/devops-bootcamp/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "devops-bootcamp %s (built with %s)\n", server.Version, runtime.Version())
		},
	}
}
