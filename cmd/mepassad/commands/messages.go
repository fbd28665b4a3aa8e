package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// messagesCmd lists the most recent messages in a conversation.
func messagesCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "messages <conversation-id>",
		Short: "List recent messages in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msgs, err := eng.GetMessages(args[0], limit, nil)
			if err != nil {
				return fmt.Errorf("listing messages: %w", err)
			}
			for _, m := range msgs {
				content := ""
				if m.ContentPlaintext != nil {
					content = *m.ContentPlaintext
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", m.CreatedAt.Format("2006-01-02T15:04:05"), m.SenderPeerID, m.Status, content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages to return")

	return cmd
}
