package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/txn2/devops-bootcamp/internal/server"
)

// newReapCmd runs a single expiry sweep, for deployments that schedule
// reclamation externally instead of running the in-process reaper.
func newReapCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "terminate expired sandbox sessions once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := server.NewWithConfig(cmd.Context(), opts.configPath)
			if err != nil {
				return fmt.Errorf("creating platform: %w", err)
			}
			defer func() { _ = p.Close() }()

			n, err := p.Reaper().Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweeping expired sessions: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "terminated %d expired session(s)\n", n)
			return nil
		},
	}
}
