// Package main is the CLI entry point for the ralph factory orchestrator.
package main

import (
	"fmt"
	"os"

	"ralph/internal/cmd"
)

func main() {
	root := cmd.NewRootCommand()

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
