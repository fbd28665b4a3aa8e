package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// readCmd marks a conversation as read.
func readCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <conversation-id>",
		Short: "Mark a conversation as read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := eng.MarkRead(args[0]); err != nil {
				return fmt.Errorf("marking conversation read: %w", err)
			}
			return nil
		},
	}
}
