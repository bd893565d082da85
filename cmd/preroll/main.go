// Package main is the entry point for the preroll application.
package main

import (
	"os"

	"github.com/jmylchreest/preroll/cmd/preroll/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
