package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// conversationsCmd lists conversations ordered by recent activity.
func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			convs, err := eng.ListConversations()
			if err != nil {
				return fmt.Errorf("listing conversations: %w", err)
			}
			for _, c := range convs {
				fmt.Printf("%s\t%s\t%s\n", c.ID, c.Kind, c.DisplayName)
			}
			return nil
		},
	}
}
