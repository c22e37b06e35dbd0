package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"vaultline/internal/domain"
	"vaultline/internal/security"
)

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func secretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "secrets",
		Short:       "Print a [Session] block with fresh random secrets",
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var vals [3]string
			for i := range vals {
				v, err := randomHex(32)
				if err != nil {
					return err
				}
				vals[i] = v
			}
			fmt.Printf("[Session]\n  Pepper = %q\n  KDFSalt = %q\n  AssertionKey = %q\n", vals[0], vals[1], vals[2])
			return nil
		},
	}
}

func assertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assert <user>",
		Short: "Print a second-factor assertion for a user, signed with Session.AssertionKey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(security.SignAssertion(domain.UserID(args[0]), cfg.Session.AssertionKeyBytes()))
			return nil
		},
	}
}
