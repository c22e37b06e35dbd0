package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vaultline/internal/app"
	"vaultline/internal/logging"
)

var (
	configFile string
	listenAddr string

	cfg     *app.Config
	backend *logging.Backend
)

// adminTimeout bounds one-shot admin commands.
const adminTimeout = 30 * time.Second

func Execute() error {
	root := &cobra.Command{
		Use:          "vaultd",
		Short:        "Vaultline session-security server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			if configFile == "" {
				return fmt.Errorf("config file required (--config)")
			}
			var err error
			if cfg, err = app.LoadFile(configFile); err != nil {
				return err
			}
			if listenAddr != "" {
				cfg.Server.Address = listenAddr
			}
			backend, err = logging.New(cfg.Logging.File, cfg.Logging.Level, cfg.Logging.Disable)
			return err
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if backend != nil {
				return backend.Close()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("VAULTD_CONFIG"), "path to the TOML config file")

	root.AddCommand(serveCmd(), revokeCmd(), revokeUserCmd(), relayCmd(), secretsCmd(), assertCmd())
	return root.Execute()
}

func adminContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), adminTimeout)
}
