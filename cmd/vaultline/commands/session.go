package commands

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"vaultline/internal/client"
	"vaultline/internal/domain"
	"vaultline/internal/protocol/dpop"
)

const requestTimeout = 30 * time.Second

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a DPoP key pair and store it in the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(profile.DPoPKey) > 0 && !force {
				return fmt.Errorf("profile already has a DPoP key (use --force to replace)")
			}
			key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			if err != nil {
				return err
			}
			if err := profile.SetDPoPKey(key); err != nil {
				return err
			}
			if err := saveProfile(); err != nil {
				return err
			}
			jkt, err := dpop.Thumbprint(&key.PublicKey)
			if err != nil {
				return err
			}
			fmt.Printf("DPoP key created.\nThumbprint: %s\n", jkt)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing key")
	return cmd
}

func handshakeCmd() *cobra.Command {
	var (
		user      string
		device    string
		assertion string
		kdfSalt   string
		bind      bool
	)
	cmd := &cobra.Command{
		Use:   "handshake",
		Short: "Establish a session and store its secret in the profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireServer(); err != nil {
				return err
			}
			salt, err := hex.DecodeString(kdfSalt)
			if err != nil || len(salt) == 0 {
				return fmt.Errorf("--kdf-salt must be the server's hex KDF salt")
			}

			params := client.HandshakeParams{
				UserID:     domain.UserID(user),
				DeviceInfo: device,
				Assertion:  assertion,
			}
			if bind {
				key, err := profile.DPoPPrivateKey()
				if err != nil {
					return err
				}
				params.DPoPKey = &key.PublicKey
			}

			ctx, cancel := requestContext()
			defer cancel()
			hs, err := api.Handshake(ctx, params)
			if err != nil {
				return err
			}

			profile.UserID = params.UserID
			profile.DeviceInfo = device
			profile.Token = hs.Token
			profile.GUID = hs.GUID
			profile.Secret = hs.Secret
			profile.KDFSalt = salt
			if err := saveProfile(); err != nil {
				return err
			}
			fmt.Printf("Session established for %s.\nSession: %s\n", user, hs.GUID)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&device, "device", "", "device description stored with the session")
	cmd.Flags().StringVar(&assertion, "assertion", "", "second-factor assertion")
	cmd.Flags().StringVar(&kdfSalt, "kdf-salt", "", "server KDF salt (hex)")
	cmd.Flags().BoolVar(&bind, "bind-dpop", false, "bind the session to the profile's DPoP key")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("assertion")
	_ = cmd.MarkFlagRequired("kdf-salt")
	return cmd
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List your sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(); err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			list, err := api.ListSessions(ctx, profile.Token)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KID\tDEVICE\tLAST SEEN\tCREATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.KID, s.DeviceInfo,
					s.LastSeenAt.Format(time.RFC3339), s.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session and forget its secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(); err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := api.Revoke(ctx, profile.Token); err != nil {
				return err
			}
			profile.Token, profile.GUID, profile.Secret = "", "", nil
			if err := saveProfile(); err != nil {
				return err
			}
			fmt.Println("Session revoked.")
			return nil
		},
	}
}
