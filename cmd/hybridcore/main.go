// Package main provides the entry point for the hybridcore CLI.
package main

import (
	"fmt"
	"os"

	"github.com/hybridcore/core/cmd/hybridcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
