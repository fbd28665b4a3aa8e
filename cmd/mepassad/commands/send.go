package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// sendCmd sends a text message to <peer>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <peer-id> <message>",
		Short: "Send a text message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := eng.SendText(cmd.Context(), args[0], args[1])
			if err != nil {
				return fmt.Errorf("sending message to %q: %w", args[0], err)
			}
			fmt.Println(id)
			return nil
		},
	}
}
