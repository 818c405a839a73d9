// Package main is the entry point for the corestream application.
package main

import (
	"os"

	"github.com/streamcore/corestream/cmd/corestream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
