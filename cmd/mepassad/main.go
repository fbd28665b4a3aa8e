// The entrypoint for the mepassad daemon.
package main

import (
	"log"

	"github.com/edsonmartins/mepassa/cmd/mepassad/commands"
)

// Initialises and executes the command hierarchy.
func main() {
	if err := commands.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
