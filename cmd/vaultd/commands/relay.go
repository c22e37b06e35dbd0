package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vaultline/internal/crypto"
	"vaultline/internal/domain"
	"vaultline/internal/gateway"
	"vaultline/internal/store"
)

func relayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Inspect the offline relay queue (server must be stopped)",
	}
	cmd.AddCommand(relaySizeCmd(), relayDrainCmd())
	return cmd
}

func openRelay() (*store.RelayStore, error) {
	return store.OpenRelayStore(cfg.Relay.File, backend.GetLogger("relay"))
}

func relaySizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size <user>",
		Short: "Print the number of frames queued for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := adminContext()
			defer cancel()

			relay, err := openRelay()
			if err != nil {
				return err
			}
			defer relay.Close()

			n, err := relay.Size(ctx, domain.UserID(args[0]))
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
}

func relayDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain <user>",
		Short: "Remove and print the frames queued for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := adminContext()
			defer cancel()

			relay, err := openRelay()
			if err != nil {
				return err
			}
			defer relay.Close()

			items, err := relay.Drain(ctx, domain.UserID(args[0]))
			if err != nil {
				return err
			}
			for i, item := range items {
				f, err := gateway.DecodeDelivery(item)
				if err != nil {
					fmt.Printf("%d\t<undecodable %d bytes>\n", i, len(item))
					continue
				}
				fmt.Printf("%d\t%s\t%s\t%s\n", i, f.Sender,
					time.Unix(f.SentAt, 0).UTC().Format(time.RFC3339), crypto.B64URL(f.Payload))
			}
			fmt.Printf("drained %d frames\n", len(items))
			return nil
		},
	}
}
