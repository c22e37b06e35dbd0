package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"vaultline/internal/client"
	"vaultline/internal/domain"
)

// connect: open a gateway connection, optionally relay one message, then
// print deliveries until interrupted or --wait elapses.
func connectCmd() *cobra.Command {
	var (
		to      string
		message string
		wait    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open an encrypted gateway connection and receive relayed frames",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
			}

			conn, err := client.Dial(ctx, profile.ServerURL)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := conn.Verify(profile.Token); err != nil {
				return err
			}
			fmt.Printf("Connected as %s (connection %s)\n", profile.UserID, conn.ID())

			if to != "" {
				if err := conn.Relay(domain.UserID(to), []byte(message)); err != nil {
					return err
				}
				fmt.Printf("sent to %s\n", to)
			}

			for {
				f, err := conn.Receive(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					var ce *client.CloseError
					if errors.As(err, &ce) {
						return fmt.Errorf("gateway rejected connection: %s (%d)", ce.Reason, ce.Code)
					}
					return err
				}
				fmt.Printf("[%s %s] %s\n", f.Sender, time.Unix(f.SentAt, 0).Format(time.Kitchen), f.Payload)
			}
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "relay --message to this user after connecting")
	cmd.Flags().StringVar(&message, "message", "", "message to relay")
	cmd.Flags().DurationVar(&wait, "wait", 0, "stop receiving after this long (default: until interrupted)")
	return cmd
}
