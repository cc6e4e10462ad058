package main

import (
	"os"

	"github.com/confidanthq/confidant/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
