package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"vaultline/internal/domain"
	"vaultline/internal/store"
)

// openSessions opens the session tiers named in the config. The returned
// func closes them.
func openSessions(ctx context.Context) (*store.SessionStore, func(), error) {
	db, err := store.OpenDatabase(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	closers := []func(){func() { _ = store.CloseDatabase(db) }}
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	var cache domain.SecretCache
	if cfg.Redis.Address != "" {
		client, err := store.OpenRedis(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = client.Close() })
		cache = store.NewRedisSecretCache(client)
	}

	sessions := store.NewSessionStore(cache, store.NewGormSessionRepository(db),
		cfg.Session.PepperBytes(), cfg.Session.CacheTTL, backend.GetLogger("store"))
	return sessions, closeAll, nil
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <kid|guid>",
		Short: "Delete a session from both tiers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := adminContext()
			defer cancel()

			sessions, closeAll, err := openSessions(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			if err := sessions.Delete(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	}
}

func revokeUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke-user <user>",
		Short: "Delete every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := adminContext()
			defer cancel()

			sessions, closeAll, err := openSessions(ctx)
			if err != nil {
				return err
			}
			defer closeAll()

			n, err := sessions.DeleteByUser(ctx, domain.UserID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("revoked %d sessions of %s\n", n, args[0])
			return nil
		},
	}
}
