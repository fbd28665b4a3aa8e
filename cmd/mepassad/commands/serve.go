package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// serveCmd blocks until interrupted, keeping the engine's command loop
// (already started in PersistentPreRunE) alive in the foreground.
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine in the foreground until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("mepassad running, press Ctrl-C to stop")
			<-cmd.Context().Done()
			return nil
		},
	}
}
