package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// connectCmd kicks off the connectivity state machine for a peer.
func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect <peer-id>",
		Short: "Start connecting to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := eng.ConnectPeer(args[0])
			if err != nil {
				return fmt.Errorf("connecting to %q: %w", args[0], err)
			}
			fmt.Println(state)
			return nil
		},
	}
}
