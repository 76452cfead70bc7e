// Package main is the entry point for the pcbctl CLI.
package main

import (
	"os"

	"pcbrecon-backend/cmd/pcbctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
