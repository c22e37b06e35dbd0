package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vaultline/internal/crypto"
	"vaultline/internal/protocol/shiv"
	"vaultline/internal/server"
)

func signCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <body>",
		Short: "Print the X-Shiv-Session and X-Shiv-Integrity headers for a body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if profile.Token == "" {
				return fmt.Errorf("no session. run handshake first")
			}
			tag, err := shiv.SignIntegrity(profile.Secret, profile.KDFSalt, shiv.DefaultIntegrityWindow, []byte(args[0]), time.Now())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n%s: %s\n", server.HeaderShivSession, profile.GUID, server.HeaderShivIntegrity, crypto.B64URL(tag))
			return nil
		},
	}
}

func privilegedCmd() *cobra.Command {
	var (
		lifetime time.Duration
		extra    string
	)
	cmd := &cobra.Command{
		Use:   "privileged <scope>",
		Short: "Request a privileged token for a scope",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(); err != nil {
				return err
			}
			req := server.PrivilegedRequest{
				Scope:           args[0],
				LifetimeSeconds: int64(lifetime / time.Second),
			}
			if extra != "" {
				if err := json.Unmarshal([]byte(extra), &req.Extra); err != nil {
					return fmt.Errorf("--extra must be a JSON object: %w", err)
				}
			}

			ctx, cancel := requestContext()
			defer cancel()
			resp, err := api.Privileged(ctx, currentHandshake(), profile.KDFSalt, req)
			if err != nil {
				return err
			}
			fmt.Printf("%s\nexpires %s\n", resp.Token, resp.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&lifetime, "lifetime", 0, "requested lifetime (server caps it)")
	cmd.Flags().StringVar(&extra, "extra", "", "extra claims as a JSON object")
	return cmd
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Call the DPoP protected endpoint with a fresh proof",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireSession(); err != nil {
				return err
			}
			key, err := profile.DPoPPrivateKey()
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			who, err := api.WhoAmI(ctx, profile.Token, key)
			if err != nil {
				return err
			}
			fmt.Printf("User: %s\nDevice: %s\nThumbprint: %s\nExpires: %s\n",
				who.UserID, who.DeviceInfo, who.Thumbprint, who.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
}
