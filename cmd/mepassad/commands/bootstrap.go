package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edsonmartins/mepassa/internal/bootstrap"
)

// bootstrapCmd registers a bootstrap/relay node.
func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <peer-id> <address>",
		Short: "Register a bootstrap/relay node",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := eng.Bootstrap(bootstrap.Node{PeerID: args[0], Address: args[1]}); err != nil {
				return fmt.Errorf("registering bootstrap node: %w", err)
			}
			return nil
		},
	}
}
