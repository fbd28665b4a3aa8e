package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/edsonmartins/mepassa/internal/bootstrap"
	"github.com/edsonmartins/mepassa/internal/engine"
)

var (
	// Flags shared across all commands.
	dataDir         string
	registryURL     string
	offlineStoreURL string

	// eng holds the running engine after PersistentPreRunE.
	eng          *engine.Engine
	engineCancel context.CancelFunc
)

// Execute initialises the engine and runs the command hierarchy.
func Execute() error {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "mepassad",
		Short: "Peer-to-peer end-to-end encrypted messaging daemon",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if dataDir == "" {
				if h, err := os.UserHomeDir(); err == nil {
					dataDir = filepath.Join(h, ".mepassa")
				}
			}
			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("creating data dir: %w", err)
			}

			var err error
			eng, err = engine.New(engine.Config{
				DataDir:         dataDir,
				RegistryURL:     registryURL,
				OfflineStoreURL: offlineStoreURL,
				Bootstrap:       loadBootstrapEnv(),
			})
			if err != nil {
				return fmt.Errorf("initialising engine: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			engineCancel = cancel
			go eng.Run(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if engineCancel != nil {
				engineCancel()
			}
			if eng != nil {
				return eng.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (default: $HOME/.mepassa)")
	root.PersistentFlags().StringVar(&registryURL, "registry-url", os.Getenv("MEPASSA_REGISTRY_URL"), "identity registry base URL")
	root.PersistentFlags().StringVar(&offlineStoreURL, "offline-store-url", os.Getenv("MEPASSA_OFFLINE_STORE_URL"), "offline store base URL")

	root.AddCommand(
		serveCmd(),
		sendCmd(),
		conversationsCmd(),
		messagesCmd(),
		readCmd(),
		connectCmd(),
		bootstrapCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	root.SetContext(ctx)

	return root.Execute()
}

// loadBootstrapEnv reads MEPASSA_BOOTSTRAP_PEER_ID/MEPASSA_BOOTSTRAP_ADDRESS
// for the single-node case the daemon's environment-based configuration
// supports; multi-node configuration goes through the bootstrap command.
func loadBootstrapEnv() []bootstrap.Node {
	peerID := os.Getenv("MEPASSA_BOOTSTRAP_PEER_ID")
	address := os.Getenv("MEPASSA_BOOTSTRAP_ADDRESS")
	if peerID == "" || address == "" {
		return nil
	}
	return []bootstrap.Node{{PeerID: peerID, Address: address}}
}
