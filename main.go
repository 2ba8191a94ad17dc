// Package main is the entry point for the Tether CLI application.
package main

import (
	"fmt"
	"os"

	"github.com/tetherhq/tether/cmd"
	"github.com/tetherhq/tether/internal/logging"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logging.Error("command execution failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
