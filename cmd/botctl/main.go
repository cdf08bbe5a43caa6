package main

import (
	"fmt"
	"os"

	"relaybot/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.OpenSQLite).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
