package main

import (
	"os"

	"github.com/bryanwahyu/vulnrisk/cmd/vulnrisk/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		os.Exit(1)
	}
}
