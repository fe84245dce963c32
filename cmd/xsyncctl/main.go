package main

import (
	"fmt"
	"os"

	"github.com/xsync/xsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(cli.OpenFromEnv).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
