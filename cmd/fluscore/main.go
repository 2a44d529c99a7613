package main

import (
	"os"

	"github.com/wonny/fluscore/cmd/fluscore/commands"
)

// main is the entry point for the fluscore CLI
// ⭐ single CLI entry point: go run ./cmd/fluscore [command]
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
