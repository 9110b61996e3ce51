package main

import (
	"os"

	"github.com/ppiankov/boorufind/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
