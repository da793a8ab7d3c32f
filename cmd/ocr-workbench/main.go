package main

import (
	"os"

	"github.com/spherical/ocr-workbench/cmd/ocr-workbench/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
