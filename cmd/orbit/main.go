package main

import (
	"os"

	"github.com/farid/orbit/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
