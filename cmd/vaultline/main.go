package main

import (
	"os"

	"vaultline/cmd/vaultline/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
