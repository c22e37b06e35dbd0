package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vaultline/internal/app"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the secure transport gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := app.NewWire(ctx, cfg, backend)
			if err != nil {
				return err
			}
			return app.New(w).Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "override Server.Address")
	return cmd
}
