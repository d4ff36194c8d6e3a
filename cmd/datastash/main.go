package main

import (
	"fmt"
	"os"

	"datastash/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
