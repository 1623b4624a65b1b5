package main

import (
	"os"

	"github.com/psantana5/parbench/cmd/parbench/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
