package main

import (
	"fmt"
	"os"

	"github.com/CreditWorthy/realmforge/cmd/realmforge/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "realmforge:", err)
		os.Exit(commands.ExitCode(err))
	}
}
