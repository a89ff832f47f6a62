package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/txn2/devops-bootcamp/internal/server"
)

func newServeCmd(opts *options) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}

			p, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("creating platform: %w", err)
			}
			defer func() { _ = p.Close() }()

			return server.Run(cmd.Context(), p)
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "listen address, overrides server.address")
	return cmd
}
