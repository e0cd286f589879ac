// Package main is the entry point for the stepwise CLI.
package main

import (
	"os"

	"github.com/roach88/stepwise/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:], os.Stdout, os.Stderr))
}
