package main

import (
	"os"

	"github.com/stalker-loki/omemodr/cmd/omemodr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
