package main

import (
	"os"

	"github.com/kamune-org/vault/cmd/vault/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
