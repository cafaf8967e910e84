package main

import (
	"os"

	"github.com/psantana5/hosting/cmd/hostingd/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
