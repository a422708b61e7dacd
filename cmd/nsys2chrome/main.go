// Package main implements the nsys2chrome binary.
package main

import (
	"fmt"
	"os"

	"github.com/arkilian/nsys2chrome/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(cli.ExitCode(err))
	}
}
