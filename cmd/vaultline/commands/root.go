package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"vaultline/internal/client"
)

const profileFile = "profile.json"

var (
	home       string
	passphrase string
	serverURL  string

	profile *client.Profile
	api     *client.HTTP
)

func Execute() error {
	root := &cobra.Command{
		Use:          "vaultline",
		Short:        "Vaultline session-security client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".vaultline")
			}
			if passphrase == "" {
				return fmt.Errorf("passphrase required (-p)")
			}
			var err error
			if profile, err = client.LoadProfile(profilePath(), passphrase); err != nil {
				return err
			}
			if serverURL != "" {
				profile.ServerURL = serverURL
			}
			if profile.ServerURL != "" {
				api = client.NewHTTP(profile.ServerURL)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "config dir (default ~/.vaultline)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the profile")
	root.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (e.g. http://127.0.0.1:8443)")

	root.AddCommand(
		keygenCmd(),
		handshakeCmd(),
		sessionsCmd(),
		signCmd(),
		privilegedCmd(),
		whoamiCmd(),
		connectCmd(),
		logoutCmd(),
	)
	return root.Execute()
}

func profilePath() string { return filepath.Join(home, profileFile) }

func saveProfile() error { return client.SaveProfile(profilePath(), passphrase, profile) }

func requireServer() error {
	if api == nil {
		return fmt.Errorf("no server configured. use --server")
	}
	return nil
}

func requireSession() error {
	if err := requireServer(); err != nil {
		return err
	}
	if profile.Token == "" {
		return fmt.Errorf("no session. run handshake first")
	}
	return nil
}

func currentHandshake() client.Handshake {
	return client.Handshake{Token: profile.Token, GUID: profile.GUID, Secret: profile.Secret}
}
